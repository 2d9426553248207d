// Package runtimetest provides an in-memory runtime.Runtime for tests.
package runtimetest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/botoralo/botworker/internal/botworker/runtime"
)

// Sandbox is the fake's record of one created sandbox.
type Sandbox struct {
	Spec    runtime.SandboxSpec
	Handle  runtime.Handle
	State   runtime.State
	Stats   runtime.RawStats
	Logs    string
	Removed bool
}

// Runtime is a concurrency-safe fake. Set the *Err fields to make the
// corresponding call fail.
type Runtime struct {
	mu        sync.Mutex
	seq       int
	sandboxes map[string]*Sandbox

	CreateErr error
	StopErr   error
	RemoveErr error
	StatsErr  error
	LogsErr   error
	PingErr   error

	// LogStream, when set, is returned by StreamLogs instead of the
	// sandbox's Logs text.
	LogStream func() io.ReadCloser
}

// New returns an empty fake runtime.
func New() *Runtime {
	return &Runtime{sandboxes: make(map[string]*Sandbox)}
}

// CreateSandbox implements runtime.Runtime.
func (r *Runtime) CreateSandbox(_ context.Context, spec runtime.SandboxSpec) (runtime.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateErr != nil {
		return runtime.Handle{}, r.CreateErr
	}
	r.seq++
	h := runtime.Handle{
		BotID:       spec.BotID,
		ContainerID: fmt.Sprintf("fake-%s-%d", spec.BotID, r.seq),
		Name:        runtime.ContainerNameFor(spec.BotID),
	}
	r.sandboxes[h.ContainerID] = &Sandbox{Spec: spec, Handle: h, State: runtime.StateRunning}
	return h, nil
}

// Stop implements runtime.Runtime.
func (r *Runtime) Stop(_ context.Context, h runtime.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.StopErr != nil {
		return r.StopErr
	}
	if sb, ok := r.sandboxes[h.ContainerID]; ok {
		// Sandboxes are auto-removed once they exit.
		sb.State = runtime.StateExited
		sb.Removed = true
		delete(r.sandboxes, h.ContainerID)
	}
	return nil
}

// Remove implements runtime.Runtime.
func (r *Runtime) Remove(_ context.Context, h runtime.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.RemoveErr != nil {
		return r.RemoveErr
	}
	delete(r.sandboxes, h.ContainerID)
	return nil
}

// Status implements runtime.Runtime.
func (r *Runtime) Status(_ context.Context, h runtime.Handle) (runtime.SandboxStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sb, ok := r.sandboxes[h.ContainerID]
	if !ok {
		return runtime.SandboxStatus{}, runtime.ErrSandboxNotFound
	}
	return runtime.SandboxStatus{ContainerID: h.ContainerID, State: sb.State}, nil
}

// Stats implements runtime.Runtime.
func (r *Runtime) Stats(_ context.Context, h runtime.Handle) (runtime.RawStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.StatsErr != nil {
		return runtime.RawStats{}, r.StatsErr
	}
	sb, ok := r.sandboxes[h.ContainerID]
	if !ok {
		return runtime.RawStats{}, runtime.ErrSandboxNotFound
	}
	return sb.Stats, nil
}

// StreamLogs implements runtime.Runtime.
func (r *Runtime) StreamLogs(_ context.Context, h runtime.Handle) (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.LogsErr != nil {
		return nil, r.LogsErr
	}
	sb, ok := r.sandboxes[h.ContainerID]
	if !ok {
		return nil, runtime.ErrSandboxNotFound
	}
	if r.LogStream != nil {
		return r.LogStream(), nil
	}
	return io.NopCloser(strings.NewReader(sb.Logs)), nil
}

// Ping implements runtime.Runtime.
func (r *Runtime) Ping(_ context.Context) error {
	return r.PingErr
}

// Sandbox returns the live sandbox with containerID, or nil.
func (r *Runtime) Sandbox(containerID string) *Sandbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sandboxes[containerID]
}

// Live returns the number of sandboxes that have not been stopped or removed.
func (r *Runtime) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sandboxes)
}

// Kill drops a sandbox as if it died outside the orchestrator's control.
func (r *Runtime) Kill(containerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sandboxes, containerID)
}

// SetState overrides a sandbox's reported state.
func (r *Runtime) SetState(containerID string, state runtime.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sb, ok := r.sandboxes[containerID]; ok {
		sb.State = state
	}
}

// SetStats sets the counters returned by Stats for a sandbox.
func (r *Runtime) SetStats(containerID string, stats runtime.RawStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sb, ok := r.sandboxes[containerID]; ok {
		sb.Stats = stats
	}
}

// SetLogs sets the text returned by StreamLogs for a sandbox.
func (r *Runtime) SetLogs(containerID, logs string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sb, ok := r.sandboxes[containerID]; ok {
		sb.Logs = logs
	}
}

var _ runtime.Runtime = (*Runtime)(nil)
