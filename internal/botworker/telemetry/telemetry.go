// Package telemetry streams sandbox logs and turns raw runtime counters into
// utilisation figures. It reads the registry but never writes it.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/botoralo/botworker/internal/botworker/errkind"
	"github.com/botoralo/botworker/internal/botworker/runtime"
	"github.com/botoralo/botworker/internal/botworker/store"
)

// BotGetter looks up an owner's bot by external id.
type BotGetter interface {
	GetBot(ctx context.Context, ownerID, externalID string) (*store.Bot, error)
}

// Reading is one point-in-time utilisation sample.
type Reading struct {
	CPUPercent float64 `json:"cpuPercent"`
	MemoryMB   float64 `json:"memoryMb"`
}

// Streamer serves logs and stats for registered bots.
type Streamer struct {
	bots    BotGetter
	runtime runtime.Runtime
}

// NewStreamer returns a Streamer.
func NewStreamer(bots BotGetter, rt runtime.Runtime) *Streamer {
	return &Streamer{bots: bots, runtime: rt}
}

// Stats returns the bot's current utilisation. A bot with no sandbox, or
// whose sandbox has vanished, reads as zero.
func (s *Streamer) Stats(ctx context.Context, ownerID, externalID string) (Reading, error) {
	bot, err := s.lookup(ctx, ownerID, externalID)
	if err != nil {
		return Reading{}, err
	}
	if !bot.ContainerID.Valid || bot.ContainerID.String == "" {
		return Reading{}, nil
	}

	raw, err := s.runtime.Stats(ctx, handleFor(bot))
	if errors.Is(err, runtime.ErrSandboxNotFound) {
		slog.Debug("stats: sandbox gone", "bot", bot.ID, "container", bot.ContainerID.String)
		return Reading{}, nil
	}
	if err != nil {
		return Reading{}, errkind.Wrap(errkind.Internal, err, "failed to get stats")
	}
	return Compute(raw), nil
}

// Compute converts one counter snapshot into a Reading. The CPU figure is a
// delta against the runtime's own previous sample, so its precision depends
// on the runtime's sampling cadence.
func Compute(raw runtime.RawStats) Reading {
	return Reading{
		CPUPercent: round2(CPUPercent(raw)),
		MemoryMB:   round2(float64(raw.MemoryUsage) / (1024 * 1024)),
	}
}

// CPUPercent is (cpuDelta / systemDelta) * onlineCPUs * 100, or 0 when the
// system counter did not advance.
func CPUPercent(raw runtime.RawStats) float64 {
	systemDelta := float64(raw.SystemCPU) - float64(raw.PreSystemCPU)
	if systemDelta <= 0 {
		return 0
	}
	cpuDelta := float64(raw.CPUTotal) - float64(raw.PreCPUTotal)
	return cpuDelta / systemDelta * float64(raw.OnlineCPUs) * 100
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (s *Streamer) lookup(ctx context.Context, ownerID, externalID string) (*store.Bot, error) {
	bot, err := s.bots.GetBot(ctx, ownerID, externalID)
	if errors.Is(err, store.ErrBotNotFound) {
		return nil, errkind.New(errkind.NotFound, "bot not found")
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "failed to load bot")
	}
	return bot, nil
}

func handleFor(bot *store.Bot) runtime.Handle {
	return runtime.Handle{
		BotID:       bot.ID,
		ContainerID: bot.ContainerID.String,
		Name:        runtime.ContainerNameFor(bot.ID),
	}
}
