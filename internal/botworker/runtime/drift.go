package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/botoralo/botworker/internal/botworker/store"
)

// RunningLister lists every registry row that claims a live sandbox.
type RunningLister interface {
	ListRunningBots(ctx context.Context) ([]*store.Bot, error)
}

// DriftConfig configures the drift monitor.
type DriftConfig struct {
	// Interval is how often to compare registry and runtime. Defaults to 30s.
	Interval time.Duration
	// AlertFunc is called for each bot whose sandbox is gone or not running.
	// If nil, drift is only logged.
	AlertFunc func(bot *store.Bot, message string)
}

// DriftMonitor periodically checks that every running bot still has a live
// sandbox. It reports drift and never touches the registry; the next stop,
// stats or logs call converges the row.
type DriftMonitor struct {
	runtime Runtime
	bots    RunningLister
	cfg     DriftConfig
}

// NewDriftMonitor creates a DriftMonitor.
func NewDriftMonitor(rt Runtime, bots RunningLister, cfg DriftConfig) *DriftMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &DriftMonitor{runtime: rt, bots: bots, cfg: cfg}
}

// Run checks on every tick until ctx is cancelled.
func (m *DriftMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	slog.Info("drift monitor starting", "interval", m.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("drift monitor stopping")
			return
		case <-ticker.C:
			if _, err := m.Check(ctx); err != nil {
				slog.Warn("drift check failed", "err", err)
			}
		}
	}
}

// Check runs a single pass and returns the number of drifted bots.
func (m *DriftMonitor) Check(ctx context.Context) (int, error) {
	bots, err := m.bots.ListRunningBots(ctx)
	if err != nil {
		return 0, fmt.Errorf("list running bots: %w", err)
	}

	drifted := 0
	for _, bot := range bots {
		handle := Handle{BotID: bot.ID, ContainerID: bot.ContainerID.String, Name: ContainerNameFor(bot.ID)}
		status, err := m.runtime.Status(ctx, handle)
		switch {
		case errors.Is(err, ErrSandboxNotFound):
			drifted++
			m.alert(bot, "sandbox missing; registry still says running")
		case err != nil:
			slog.Warn("drift: status failed", "bot", bot.ID, "err", err)
		case status.State != StateRunning:
			drifted++
			m.alert(bot, fmt.Sprintf("sandbox is %s (exit_code=%d); registry still says running",
				status.State, status.ExitCode))
		}
	}
	return drifted, nil
}

func (m *DriftMonitor) alert(bot *store.Bot, message string) {
	if m.cfg.AlertFunc != nil {
		m.cfg.AlertFunc(bot, message)
		return
	}
	slog.Warn("drift detected", "bot", bot.ID, "external_id", bot.ExternalID, "msg", message)
}
