package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// Keys whose values must never reach a log sink. Matching is case-insensitive
// and also catches suffixed forms such as "auth_token" or "jwt_secret".
var sensitiveKeySuffixes = []string{
	"secret",
	"token",
	"password",
	"authorization",
	"api_key",
	"dsn",
}

// IsSensitive reports whether values logged under the key must be masked.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	for _, suffix := range sensitiveKeySuffixes {
		if strings.HasSuffix(normalized, suffix) {
			return true
		}
	}
	return false
}

// MaskValue returns the redacted placeholder for non-empty values. Empty
// values pass through unchanged so masked fields stay distinguishable from
// absent ones.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// RedactAttr masks the value of a sensitive attribute. Non-string values are
// stringified first so typed attrs cannot smuggle a secret past the mask. Safe
// to install as a slog ReplaceAttr hook.
func RedactAttr(_ []string, attr slog.Attr) slog.Attr {
	if !IsSensitive(attr.Key) {
		return attr
	}
	return slog.String(attr.Key, MaskValue(attr.Value.String()))
}
