// Package audit publishes lifecycle events for operators.
//
// Every lifecycle operation emits one Event. The default notifier writes it
// to the structured log; when a Matrix audit room is configured the event is
// also posted there as a short notice. Events carry the request's trace ID
// so a notice can be matched to the log lines of the same request.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/botoralo/botworker/common/trace"
)

// Kind is a machine-readable event category.
type Kind string

const (
	KindBotDeployed Kind = "bot.deployed"
	KindBotStarted  Kind = "bot.started"
	KindBotStopped  Kind = "bot.stopped"
	KindBotDeleted  Kind = "bot.deleted"
	KindBotDrift    Kind = "bot.drift"
	KindDenied      Kind = "admission.denied"
	KindError       Kind = "error"
)

// Event carries the data that notifiers format and send.
type Event struct {
	Kind Kind
	// Owner is the identity the operation acted for.
	Owner string
	// Target is the external bot id.
	Target string
	// Message is a human-friendly description of what happened.
	Message string
	// TraceID defaults to the trace ID in the context.
	TraceID string
	// Timestamp defaults to time.Now() when zero.
	Timestamp time.Time
}

// Notifier publishes lifecycle events. Implementations must not block the
// caller for longer than a short timeout; send failures are logged, not
// returned.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

func (e *Event) fill(ctx context.Context) {
	if e.TraceID == "" {
		e.TraceID = trace.FromContext(ctx)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
}

// LogNotifier writes events to the default slog logger.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(ctx context.Context, evt Event) {
	evt.fill(ctx)
	level := slog.LevelInfo
	if evt.Kind == KindError || evt.Kind == KindBotDrift {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "audit: "+evt.Message,
		"kind", evt.Kind,
		"owner", evt.Owner,
		"bot", evt.Target,
		"trace_id", evt.TraceID,
	)
}

// Multi fans an event out to several notifiers in order.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, evt Event) {
	evt.fill(ctx)
	for _, n := range m {
		n.Notify(ctx, evt)
	}
}

// Sender is the subset of the Matrix client needed by MatrixNotifier.
type Sender interface {
	SendNotice(ctx context.Context, roomID, message string) error
}

// DefaultSendTimeout bounds one Matrix notice.
const DefaultSendTimeout = 5 * time.Second

// MatrixNotifier posts formatted notices to a Matrix audit room.
type MatrixNotifier struct {
	sender  Sender
	roomID  string
	timeout time.Duration
}

// NewMatrixNotifier creates a MatrixNotifier that posts to roomID via sender.
func NewMatrixNotifier(sender Sender, roomID string) *MatrixNotifier {
	return &MatrixNotifier{sender: sender, roomID: roomID, timeout: DefaultSendTimeout}
}

// Notify formats evt as a notice and posts it to the audit room.
func (n *MatrixNotifier) Notify(ctx context.Context, evt Event) {
	if n.roomID == "" {
		return
	}
	evt.fill(ctx)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	if err := n.sender.SendNotice(ctx, n.roomID, Format(evt)); err != nil {
		slog.Warn("audit notifier: failed to send room notice",
			"room", n.roomID, "kind", evt.Kind, "err", err)
	} else {
		slog.Debug("audit notifier: sent notice", "room", n.roomID, "kind", evt.Kind)
	}
}

// Format renders evt as a plain-text notice.
func Format(evt Event) string {
	icon := kindIcon(evt.Kind)
	msg := fmt.Sprintf("%s [%s] %s", icon, evt.Kind, evt.Message)
	if evt.Target != "" {
		msg = fmt.Sprintf("%s %s → %s", icon, evt.Target, evt.Message)
	}
	if evt.Owner != "" {
		msg = fmt.Sprintf("%s\n  owner: %s", msg, evt.Owner)
	}
	if evt.TraceID != "" {
		msg = fmt.Sprintf("%s\n  trace: %s", msg, evt.TraceID)
	}
	return msg
}

// Noop discards events.
type Noop struct{}

// Notify does nothing.
func (Noop) Notify(_ context.Context, _ Event) {}

func kindIcon(k Kind) string {
	switch k {
	case KindBotDeployed:
		return "🟢"
	case KindBotStarted:
		return "▶️"
	case KindBotStopped:
		return "⏹️"
	case KindBotDeleted:
		return "🗑️"
	case KindBotDrift:
		return "⚠️"
	case KindDenied:
		return "❌"
	case KindError:
		return "🚨"
	default:
		return "ℹ️"
	}
}
