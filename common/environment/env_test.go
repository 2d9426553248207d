package environment_test

import (
	"testing"
	"time"

	"github.com/botoralo/botworker/common/environment"
)

func TestStringOr(t *testing.T) {
	t.Setenv("BW_TEST_STRING", "hello")
	if got := environment.StringOr("BW_TEST_STRING", "default"); got != "hello" {
		t.Errorf("expected %q, got %q", "hello", got)
	}
	if got := environment.StringOr("BW_TEST_STRING_MISSING", "default"); got != "default" {
		t.Errorf("expected %q, got %q", "default", got)
	}
}

func TestFirstOr(t *testing.T) {
	t.Setenv("BW_TEST_LEGACY", "legacy")
	if got := environment.FirstOr("fallback", "BW_TEST_CURRENT", "BW_TEST_LEGACY"); got != "legacy" {
		t.Errorf("expected legacy, got %q", got)
	}
	t.Setenv("BW_TEST_CURRENT", "current")
	if got := environment.FirstOr("fallback", "BW_TEST_CURRENT", "BW_TEST_LEGACY"); got != "current" {
		t.Errorf("expected current, got %q", got)
	}
	if got := environment.FirstOr("fallback", "BW_TEST_NONE"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
}

func TestRequired(t *testing.T) {
	t.Setenv("BW_TEST_REQUIRED", "value")
	v, err := environment.Required("BW_TEST_REQUIRED")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "value" {
		t.Errorf("expected %q, got %q", "value", v)
	}
	if _, err := environment.Required("BW_TEST_REQUIRED_MISSING"); err == nil {
		t.Error("expected error for missing variable, got nil")
	}
}

func TestBoolOr(t *testing.T) {
	t.Setenv("BW_TEST_BOOL", "true")
	if !environment.BoolOr("BW_TEST_BOOL", false) {
		t.Error("expected true")
	}
	t.Setenv("BW_TEST_BOOL", "nope")
	if !environment.BoolOr("BW_TEST_BOOL", true) {
		t.Error("expected default for unparsable value")
	}
}

func TestIntOr(t *testing.T) {
	t.Setenv("BW_TEST_INT", "42")
	if got := environment.IntOr("BW_TEST_INT", 0); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	t.Setenv("BW_TEST_INT_BAD", "notanint")
	if got := environment.IntOr("BW_TEST_INT_BAD", 7); got != 7 {
		t.Errorf("expected default 7 for bad value, got %d", got)
	}
	t.Setenv("BW_TEST_INT64", "9000000000")
	if got := environment.Int64Or("BW_TEST_INT64", 0); got != 9000000000 {
		t.Errorf("expected 9000000000, got %d", got)
	}
}

func TestDurationOr(t *testing.T) {
	t.Setenv("BW_TEST_DURATION", "90s")
	if got := environment.DurationOr("BW_TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("expected 90s, got %s", got)
	}
	if got := environment.DurationOr("BW_TEST_DURATION_MISSING", time.Minute); got != time.Minute {
		t.Errorf("expected 1m default, got %s", got)
	}
}
