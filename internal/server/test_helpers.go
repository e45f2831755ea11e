package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"deployhook/internal/webhook"
)

// MakeTestSignature generates an X-Hub-Signature-256 value for the server
// tests.
func MakeTestSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return webhook.SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
