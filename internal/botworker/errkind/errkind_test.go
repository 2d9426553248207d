package errkind_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/botoralo/botworker/internal/botworker/errkind"
)

func TestIs_MatchesByKind(t *testing.T) {
	err := errkind.New(errkind.NotFound, "bot %s not found", "abc")
	if !errors.Is(err, errkind.ErrNotFound) {
		t.Error("expected NotFound error to match ErrNotFound")
	}
	if errors.Is(err, errkind.ErrForbidden) {
		t.Error("NotFound must not match ErrForbidden")
	}

	wrapped := fmt.Errorf("start: %w", err)
	if !errors.Is(wrapped, errkind.ErrNotFound) {
		t.Error("expected match through fmt.Errorf wrapping")
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want errkind.Kind
	}{
		{errkind.New(errkind.Forbidden, "quota"), errkind.Forbidden},
		{fmt.Errorf("outer: %w", errkind.New(errkind.BadRequest, "no code")), errkind.BadRequest},
		{errors.New("plain"), errkind.Internal},
	}
	for _, tc := range cases {
		if got := errkind.KindOf(tc.err); got != tc.want {
			t.Errorf("KindOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestWrap_Details(t *testing.T) {
	cause := errors.New("docker: image not found")
	err := errkind.Wrap(errkind.Internal, cause, "failed to start")
	if err.Details() != cause.Error() {
		t.Errorf("Details = %q", err.Details())
	}
	if !errors.Is(err, cause) {
		t.Error("expected Unwrap to expose the cause")
	}
	if err.Error() != "failed to start: docker: image not found" {
		t.Errorf("Error() = %q", err.Error())
	}
}
