// Package admission decides whether an owner may start another sandbox.
//
// The check is read-then-act: two concurrent starts for one owner can both
// pass before either is recorded as running. Callers accept that slight
// over-admission instead of serialising every start behind a quota lock.
package admission

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/botoralo/botworker/internal/botworker/plans"
)

// Denial reasons.
const (
	ReasonMemory = "exceeds per-bot memory limit"
	ReasonSlots  = "exceeds running-bot-slot limit"
)

// RunningCounter reports how many of an owner's bots are running.
type RunningCounter interface {
	CountRunning(ctx context.Context, ownerID string) (int, error)
}

// Decision is the outcome of a Check.
type Decision struct {
	Allowed bool
	// Reason is one of the Reason constants when denied.
	Reason string
	// Detail explains the denial in terms of the owner's plan.
	Detail string
	// Plan holds the limits the decision was made against.
	Plan plans.Limits
}

// Controller combines plan limits with the registry's running count.
type Controller struct {
	plans   plans.Resolver
	running RunningCounter
}

// New returns a Controller.
func New(resolver plans.Resolver, running RunningCounter) *Controller {
	return &Controller{plans: resolver, running: running}
}

// Check decides whether ownerID may start a sandbox of memoryMB megabytes.
// An error is returned only when the running count cannot be read.
func (c *Controller) Check(ctx context.Context, ownerID string, memoryMB int) (Decision, error) {
	limits := c.plans.Resolve(ctx, ownerID)
	d := Decision{Plan: limits}

	if memoryMB > limits.MaxMemoryMBPerBot {
		d.Reason = ReasonMemory
		d.Detail = fmt.Sprintf("plan %s allows up to %dMB per bot, requested %dMB",
			limits.Name, limits.MaxMemoryMBPerBot, memoryMB)
		slog.Info("admission denied", "owner", ownerID, "plan", limits.Name, "reason", d.Reason)
		return d, nil
	}

	n, err := c.running.CountRunning(ctx, ownerID)
	if err != nil {
		return d, fmt.Errorf("count running bots: %w", err)
	}
	if n >= limits.MaxRunningBots {
		d.Reason = ReasonSlots
		d.Detail = fmt.Sprintf("plan %s allows %d running bot slots (you have %d)",
			limits.Name, limits.MaxRunningBots, n)
		slog.Info("admission denied", "owner", ownerID, "plan", limits.Name, "reason", d.Reason)
		return d, nil
	}

	d.Allowed = true
	return d, nil
}
