package webhook

import (
	"errors"
	"net/http"
)

// Provider identifies the source-control host that sent an event.
type Provider string

const (
	GitHub Provider = "github"
	Gitee  Provider = "gitee"
)

// Request headers inspected by Identify and Verify.
const (
	HeaderGitHubEvent     = "X-GitHub-Event"
	HeaderGitHubSignature = "X-Hub-Signature-256"
	HeaderGitHubDelivery  = "X-GitHub-Delivery"
	HeaderGiteeEvent      = "X-Gitee-Event"
	HeaderGiteeToken      = "X-Gitee-Token"
)

// ErrUnsupportedSource is returned when a request carries neither a GitHub
// nor a Gitee event header.
var ErrUnsupportedSource = errors.New("unsupported webhook source")

// Identify determines the provider and event type from request headers.
// GitHub takes precedence when both event headers are present.
func Identify(h http.Header) (Provider, string, error) {
	if eventType := h.Get(HeaderGitHubEvent); eventType != "" {
		return GitHub, eventType, nil
	}
	if eventType := h.Get(HeaderGiteeEvent); eventType != "" {
		return Gitee, eventType, nil
	}
	return "", "", ErrUnsupportedSource
}

// DisplayName returns the provider name used in log lines and reasons.
func (p Provider) DisplayName() string {
	switch p {
	case GitHub:
		return "GitHub"
	case Gitee:
		return "Gitee"
	default:
		return string(p)
	}
}
