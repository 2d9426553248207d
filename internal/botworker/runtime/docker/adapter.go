// Package docker provides a Docker Engine runtime adapter for bot sandboxes.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	units "github.com/docker/go-units"

	"github.com/botoralo/botworker/internal/botworker/runtime"
)

const (
	labelManagedBy = "botworker.managed-by"
	labelBotID     = "botworker.bot-id"
	managedByValue = "botworker"

	// DefaultImage is the sandbox image when Config.Image is empty.
	DefaultImage = "bot_runtime:latest"
	// DefaultUser runs sandboxes as nobody:nogroup.
	DefaultUser = "65534:65534"
	// DefaultPidsLimit caps processes inside one sandbox.
	DefaultPidsLimit = 128
	// DefaultLogTail is how many past lines a new log stream starts with.
	DefaultLogTail = 100

	tmpfsOptions = "rw,noexec,nosuid,size=16m"
)

// Config configures the adapter.
type Config struct {
	Image     string
	User      string
	PidsLimit int64
	LogTail   int
}

func (c Config) withDefaults() Config {
	if c.Image == "" {
		c.Image = DefaultImage
	}
	if c.User == "" {
		c.User = DefaultUser
	}
	if c.PidsLimit <= 0 {
		c.PidsLimit = DefaultPidsLimit
	}
	if c.LogTail <= 0 {
		c.LogTail = DefaultLogTail
	}
	return c
}

// Adapter implements runtime.Runtime using the Docker Engine API.
type Adapter struct {
	client *dockerclient.Client
	cfg    Config
}

// New creates a new Docker runtime adapter.
// Uses the DOCKER_HOST env var or the default socket path.
func New(cfg Config) (*Adapter, error) {
	return newAdapter(cfg, dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
}

func newAdapter(cfg Config, opts ...dockerclient.Opt) (*Adapter, error) {
	cli, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Adapter{client: cli, cfg: cfg.withDefaults()}, nil
}

// Close releases the underlying client.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// Ping checks that the daemon answers.
func (a *Adapter) Ping(ctx context.Context) error {
	if _, err := a.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	return nil
}

// CreateSandbox creates and starts a locked-down container for spec.
func (a *Adapter) CreateSandbox(ctx context.Context, spec runtime.SandboxSpec) (runtime.Handle, error) {
	if spec.BotID == "" {
		return runtime.Handle{}, fmt.Errorf("spec.BotID is required")
	}
	if !filepath.IsAbs(spec.CodeDir) {
		return runtime.Handle{}, fmt.Errorf("code dir %q must be absolute", spec.CodeDir)
	}

	name := runtime.ContainerNameFor(spec.BotID)
	containerCfg := buildContainerConfig(a.cfg, spec)
	hostCfg := buildHostConfig(a.cfg, spec)

	resp, err := a.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if errdefs.IsConflict(err) {
		// A previous sandbox with this name is still around; it cannot be
		// associated with the bot any more.
		slog.Warn("removing stale sandbox", "bot", spec.BotID, "name", name)
		if rmErr := a.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); rmErr != nil && !dockerclient.IsErrNotFound(rmErr) {
			return runtime.Handle{}, fmt.Errorf("remove stale container %s: %w", name, rmErr)
		}
		resp, err = a.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	}
	if err != nil {
		return runtime.Handle{}, fmt.Errorf("create container: %w", err)
	}
	for _, w := range resp.Warnings {
		slog.Warn("docker create warning", "bot", spec.BotID, "warning", w)
	}

	if err := a.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Best-effort cleanup
		_ = a.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return runtime.Handle{}, fmt.Errorf("start container: %w", err)
	}

	return runtime.Handle{BotID: spec.BotID, ContainerID: resp.ID, Name: name}, nil
}

// Stop gracefully stops the sandbox. A missing sandbox counts as stopped.
func (a *Adapter) Stop(ctx context.Context, handle runtime.Handle) error {
	if handle.ContainerID == "" {
		return nil
	}
	timeout := int(runtime.StopGracePeriod.Seconds())
	err := a.client.ContainerStop(ctx, handle.ContainerID, container.StopOptions{Timeout: &timeout})
	if err != nil && !dockerclient.IsErrNotFound(err) {
		return fmt.Errorf("stop container %s: %w", handle.ContainerID, err)
	}
	return nil
}

// Remove force-removes the sandbox. A missing sandbox counts as removed.
func (a *Adapter) Remove(ctx context.Context, handle runtime.Handle) error {
	if handle.ContainerID == "" {
		return nil
	}
	err := a.client.ContainerRemove(ctx, handle.ContainerID, container.RemoveOptions{Force: true})
	if err != nil && !dockerclient.IsErrNotFound(err) && !errdefs.IsConflict(err) {
		return fmt.Errorf("remove container %s: %w", handle.ContainerID, err)
	}
	return nil
}

// Status returns the current state of the sandbox.
func (a *Adapter) Status(ctx context.Context, handle runtime.Handle) (runtime.SandboxStatus, error) {
	if handle.ContainerID == "" {
		return runtime.SandboxStatus{}, runtime.ErrSandboxNotFound
	}
	inspect, err := a.client.ContainerInspect(ctx, handle.ContainerID)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return runtime.SandboxStatus{}, fmt.Errorf("%w: %s", runtime.ErrSandboxNotFound, handle.ContainerID)
		}
		return runtime.SandboxStatus{}, fmt.Errorf("inspect container: %w", err)
	}
	if inspect.ContainerJSONBase == nil || inspect.State == nil {
		return runtime.SandboxStatus{ContainerID: handle.ContainerID, State: runtime.StateUnknown}, nil
	}

	startedAt, _ := time.Parse(time.RFC3339Nano, inspect.State.StartedAt)
	finishedAt, _ := time.Parse(time.RFC3339Nano, inspect.State.FinishedAt)
	return runtime.SandboxStatus{
		ContainerID: inspect.ID,
		State:       parseContainerState(inspect.State.Status),
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
		ExitCode:    inspect.State.ExitCode,
		Error:       inspect.State.Error,
	}, nil
}

// Stats takes a single, non-streaming stats snapshot.
func (a *Adapter) Stats(ctx context.Context, handle runtime.Handle) (runtime.RawStats, error) {
	if handle.ContainerID == "" {
		return runtime.RawStats{}, runtime.ErrSandboxNotFound
	}
	resp, err := a.client.ContainerStats(ctx, handle.ContainerID, false)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return runtime.RawStats{}, fmt.Errorf("%w: %s", runtime.ErrSandboxNotFound, handle.ContainerID)
		}
		return runtime.RawStats{}, fmt.Errorf("container stats: %w", err)
	}
	defer resp.Body.Close()

	var s container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return runtime.RawStats{}, fmt.Errorf("decode stats: %w", err)
	}
	return rawStatsFrom(s), nil
}

// StreamLogs follows the sandbox's output, demultiplexed into one stream.
func (a *Adapter) StreamLogs(ctx context.Context, handle runtime.Handle) (io.ReadCloser, error) {
	if handle.ContainerID == "" {
		return nil, runtime.ErrSandboxNotFound
	}
	rc, err := a.client.ContainerLogs(ctx, handle.ContainerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       strconv.Itoa(a.cfg.LogTail),
	})
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return nil, fmt.Errorf("%w: %s", runtime.ErrSandboxNotFound, handle.ContainerID)
		}
		return nil, fmt.Errorf("container logs: %w", err)
	}
	return demux(rc), nil
}

// --- helpers ---

// demux copies docker's multiplexed log frames into a pipe. Closing the
// returned reader closes the docker connection and ends the copy.
func demux(src io.ReadCloser) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, src)
		pw.CloseWithError(err)
	}()
	return &logReader{PipeReader: pr, src: src}
}

type logReader struct {
	*io.PipeReader
	src io.ReadCloser
}

func (r *logReader) Close() error {
	err := r.src.Close()
	r.PipeReader.Close()
	return err
}

func buildContainerConfig(cfg Config, spec runtime.SandboxSpec) *container.Config {
	labels := map[string]string{
		labelManagedBy: managedByValue,
		labelBotID:     spec.BotID,
	}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	env := []string{"BOT_ID=" + spec.BotID}
	if spec.EntryFile != "" {
		env = append(env, "BOT_ENTRY="+path.Join(runtime.CodeMountPath, spec.EntryFile))
	}

	return &container.Config{
		Image:           cfg.Image,
		User:            cfg.User,
		Env:             env,
		Labels:          labels,
		WorkingDir:      runtime.CodeMountPath,
		Tty:             false,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: true,
	}
}

func buildHostConfig(cfg Config, spec runtime.SandboxSpec) *container.HostConfig {
	pids := cfg.PidsLimit
	return &container.HostConfig{
		Binds:          []string{spec.CodeDir + ":" + runtime.CodeMountPath + ":ro"},
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		AutoRemove:     true,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Tmpfs:          map[string]string{"/tmp": tmpfsOptions},
		Resources: container.Resources{
			Memory:    int64(spec.MemoryMB) * units.MiB,
			PidsLimit: &pids,
		},
	}
}

func rawStatsFrom(s container.StatsResponse) runtime.RawStats {
	online := s.CPUStats.OnlineCPUs
	if online == 0 {
		online = uint32(len(s.CPUStats.CPUUsage.PercpuUsage))
	}
	return runtime.RawStats{
		CPUTotal:     s.CPUStats.CPUUsage.TotalUsage,
		PreCPUTotal:  s.PreCPUStats.CPUUsage.TotalUsage,
		SystemCPU:    s.CPUStats.SystemUsage,
		PreSystemCPU: s.PreCPUStats.SystemUsage,
		OnlineCPUs:   online,
		MemoryUsage:  s.MemoryStats.Usage,
		MemoryLimit:  s.MemoryStats.Limit,
	}
}

func parseContainerState(s string) runtime.State {
	switch strings.ToLower(s) {
	case "running":
		return runtime.StateRunning
	case "exited", "dead":
		return runtime.StateExited
	case "created":
		return runtime.StateCreated
	case "paused":
		return runtime.StatePaused
	case "removing":
		return runtime.StateRemoving
	default:
		return runtime.StateUnknown
	}
}

var _ runtime.Runtime = (*Adapter)(nil)
