package webhook

import (
	"strings"

	"github.com/google/go-github/v57/github"
)

const SignaturePrefix = "sha256="

// VerifyGitHub checks an X-Hub-Signature-256 value against the HMAC-SHA256
// of the exact body bytes. Missing prefix, malformed hex and mismatches all
// report false.
func VerifyGitHub(body []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	if !strings.HasPrefix(signature, SignaturePrefix) {
		return false
	}
	return github.ValidateSignature(signature, body, []byte(secret)) == nil
}

// VerifyGitee checks an X-Gitee-Token value. Gitee sends the shared secret
// itself, so this is a plain equality check and not constant-time.
func VerifyGitee(token, secret string) bool {
	if secret == "" {
		return false
	}
	return token == secret
}

// Verify authenticates ev against secret using the provider's scheme.
func Verify(ev Event, secret string) bool {
	switch ev.Provider {
	case GitHub:
		return VerifyGitHub(ev.Body, ev.Credential, secret)
	case Gitee:
		return VerifyGitee(ev.Credential, secret)
	default:
		return false
	}
}
