package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math"
	"strings"
)

// RecommendedSecretLength is the length GenerateSecret produces and the
// length below which a configured secret is reported as weak.
const RecommendedSecretLength = 32

var placeholderSecrets = []string{
	"replace",
	"changeme",
	"topsecret",
	"password",
	"secret",
}

// GenerateSecret creates a cryptographically secure random secret.
// Returns a 48-character URL-safe base64 string.
func GenerateSecret() (string, error) {
	// 36 bytes encode to 48 characters in base64
	bytes := make([]byte, 36)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

// WeakSecretReason reports why a secret is considered weak, or an empty
// string if it looks fine. Weak secrets are accepted (both providers let the
// repository owner choose any value) but are reported at startup.
func WeakSecretReason(secret string) string {
	if len(secret) < RecommendedSecretLength {
		return fmt.Sprintf("shorter than %d characters", RecommendedSecretLength)
	}

	lower := strings.ToLower(secret)
	for _, p := range placeholderSecrets {
		if lower == p || strings.HasPrefix(lower, p+"-") || strings.HasPrefix(lower, p+"_") {
			return "looks like a placeholder value"
		}
	}

	if len(strings.Trim(secret, string(secret[0]))) == 0 {
		return "repeats a single character"
	}

	if isSequential(secret) {
		return "consists of sequential characters"
	}

	if calculateEntropy(secret) < 3.0 {
		return "has low entropy"
	}

	return ""
}

// calculateEntropy computes the Shannon entropy of a string.
// Returns a value between 0 (completely predictable) and ~8 (maximum entropy for byte strings).
func calculateEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]int)
	for _, c := range s {
		freq[c]++
	}

	// H = -Σ(p(x) * log2(p(x)))
	var entropy float64
	length := float64(len(s))

	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}

	return entropy
}

// isSequential checks if a string consists of sequential characters.
func isSequential(s string) bool {
	if len(s) < 4 {
		return false
	}

	sequential := 0
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1]+1 || s[i] == s[i-1]-1 {
			sequential++
		}
	}

	// If more than 70% of characters are sequential, it's weak
	return float64(sequential) > float64(len(s))*0.7
}
