// Package redact strips sensitive values from log output before it leaves
// the process.
//
// Secrets (the master key, the identity-service key, the Matrix token) must
// never appear in log lines or audit notices. Redaction is best-effort: it
// works on string representations and relies on callers to pass the right
// set of sensitive terms.
package redact

import (
	"strings"
)

// Placeholder replaces redacted content.
const Placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// Placeholder. Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, Placeholder)
	}
	return s
}

// IsSensitiveKey reports whether a field name suggests it holds a secret.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "passwd", "token", "secret", "key", "credential", "auth", "apikey"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
