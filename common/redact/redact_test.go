package redact_test

import (
	"strings"
	"testing"

	"github.com/botoralo/botworker/common/redact"
)

func TestString_RedactsSensitiveValues(t *testing.T) {
	got := redact.String("calling https://x.supabase.co with key sk-live-1234", "sk-live-1234")
	if strings.Contains(got, "sk-live-1234") || !strings.Contains(got, redact.Placeholder) {
		t.Errorf("String = %q", got)
	}
}

func TestString_SkipsShortValues(t *testing.T) {
	in := "abc appears everywhere"
	if got := redact.String(in, "abc"); got != in {
		t.Errorf("short value redacted: %q", got)
	}
}

func TestString_MultipleValues(t *testing.T) {
	got := redact.String("master=m4st3rkey matrix=syt_token", "m4st3rkey", "syt_token")
	if strings.Contains(got, "m4st3rkey") || strings.Contains(got, "syt_token") {
		t.Errorf("String = %q", got)
	}
}

func TestIsSensitiveKey(t *testing.T) {
	for key, want := range map[string]bool{
		"MASTER_BACKEND_KEY": true,
		"access_token":       true,
		"Authorization":      true,
		"bot":                false,
		"memory_mb":          false,
	} {
		if got := redact.IsSensitiveKey(key); got != want {
			t.Errorf("IsSensitiveKey(%q) = %v, want %v", key, got, want)
		}
	}
}
