// Package trace carries a per-request correlation id through context so that
// every log line and lifecycle notice for one caller request can be joined.
package trace

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type traceKey struct{}

// HeaderName is the HTTP header a caller may use to supply its own id.
const HeaderName = "X-Trace-Id"

// NewID returns a fresh trace id ("t_" followed by 32 hex characters).
func NewID() string {
	return "t_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// WithID returns a child context carrying id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// FromContext returns the trace id stored in ctx, or "".
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// Ensure returns ctx unchanged when it already carries an id, otherwise a
// child context with a new one.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := NewID()
	return WithID(ctx, id), id
}
