package webhook

import "net/http"

// Event is one inbound webhook delivery. It is built once per request and
// never modified.
type Event struct {
	Provider   Provider
	Type       string
	Body       []byte
	Host       string
	Credential string // signature header (GitHub) or token header (Gitee)
	DeliveryID string
}

// NewEvent identifies the provider from headers and captures the
// credential needed for verification.
func NewEvent(h http.Header, host string, body []byte) (Event, error) {
	provider, eventType, err := Identify(h)
	if err != nil {
		return Event{}, err
	}

	ev := Event{
		Provider: provider,
		Type:     eventType,
		Body:     body,
		Host:     host,
	}
	switch provider {
	case GitHub:
		ev.Credential = h.Get(HeaderGitHubSignature)
		ev.DeliveryID = h.Get(HeaderGitHubDelivery)
	case Gitee:
		ev.Credential = h.Get(HeaderGiteeToken)
	}
	return ev, nil
}
