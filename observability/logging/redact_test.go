package logging

import (
	"log/slog"
	"testing"
)

func TestIsSensitive(t *testing.T) {
	sensitive := []string{"secret", "hmac_secret", "JWT_SECRET", "auth_token", "password", "archive_dsn", "Authorization"}
	for _, key := range sensitive {
		if !IsSensitive(key) {
			t.Fatalf("expected %q to be sensitive", key)
		}
	}
	clear := []string{"holder", "amount", "tier", "operation", "error", "route"}
	for _, key := range clear {
		if IsSensitive(key) {
			t.Fatalf("expected %q to pass through", key)
		}
	}
}

func TestRedactAttrMasksSensitiveValues(t *testing.T) {
	attr := RedactAttr(nil, slog.String("jwt_secret", "hunter2"))
	if got := attr.Value.String(); got != RedactedValue {
		t.Fatalf("jwt_secret = %q, want %q", got, RedactedValue)
	}
	attr = RedactAttr(nil, slog.Int("token", 42))
	if got := attr.Value.String(); got != RedactedValue {
		t.Fatalf("typed token attr = %q, want %q", got, RedactedValue)
	}
	attr = RedactAttr(nil, slog.String("secret", ""))
	if got := attr.Value.String(); got != "" {
		t.Fatalf("empty secret = %q, want empty passthrough", got)
	}
	attr = RedactAttr(nil, slog.String("holder", "0xabc"))
	if got := attr.Value.String(); got != "0xabc" {
		t.Fatalf("holder = %q, want untouched", got)
	}
}
