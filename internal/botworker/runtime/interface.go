// Package runtime defines the sandbox runtime abstraction bots execute in.
package runtime

import (
	"context"
	"errors"
	"io"
)

// ErrSandboxNotFound is returned when the runtime no longer knows a sandbox.
// Stop and Remove never return it; they treat absence as success.
var ErrSandboxNotFound = errors.New("sandbox not found")

// Runtime abstracts the isolation backend (Docker today).
type Runtime interface {
	// CreateSandbox creates and starts an isolated sandbox for spec.
	CreateSandbox(ctx context.Context, spec SandboxSpec) (Handle, error)

	// Stop asks the sandbox to exit, killing it after StopGracePeriod.
	Stop(ctx context.Context, handle Handle) error

	// Remove force-deletes the sandbox whatever its state.
	Remove(ctx context.Context, handle Handle) error

	// Status reports the sandbox's current state.
	Status(ctx context.Context, handle Handle) (SandboxStatus, error)

	// Stats takes one snapshot of the sandbox's cumulative counters.
	Stats(ctx context.Context, handle Handle) (RawStats, error)

	// StreamLogs follows the sandbox's combined stdout and stderr. The
	// reader ends when the sandbox stops producing output; closing it
	// releases the runtime connection.
	StreamLogs(ctx context.Context, handle Handle) (io.ReadCloser, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}
