package audit_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/botoralo/botworker/common/trace"
	"github.com/botoralo/botworker/internal/botworker/audit"
)

// fakeSender records notices for assertion.
type fakeSender struct {
	notices []string
	err     error
}

func (f *fakeSender) SendNotice(ctx context.Context, _, msg string) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("notice sent without a deadline")
	}
	f.notices = append(f.notices, msg)
	return f.err
}

type recorder struct{ events []audit.Event }

func (r *recorder) Notify(_ context.Context, evt audit.Event) { r.events = append(r.events, evt) }

func TestMatrixNotifier_SendsNotice(t *testing.T) {
	sender := &fakeSender{}
	n := audit.NewMatrixNotifier(sender, "!room:example.com")

	n.Notify(context.Background(), audit.Event{
		Kind:    audit.KindBotStarted,
		Owner:   "user-1",
		Target:  "weather-bot",
		Message: "started",
		TraceID: "t_abc123",
	})

	if len(sender.notices) != 1 {
		t.Fatalf("expected 1 notice, got %d", len(sender.notices))
	}
	msg := sender.notices[0]
	for _, want := range []string{"weather-bot", "started", "t_abc123", "user-1"} {
		if !strings.Contains(msg, want) {
			t.Errorf("notice missing %q: %q", want, msg)
		}
	}
}

func TestMatrixNotifier_TraceFromContext(t *testing.T) {
	sender := &fakeSender{}
	n := audit.NewMatrixNotifier(sender, "!room:example.com")

	ctx := trace.WithID(context.Background(), "t_fromctx")
	n.Notify(ctx, audit.Event{Kind: audit.KindDenied, Message: "denied"})

	if len(sender.notices) != 1 || !strings.Contains(sender.notices[0], "t_fromctx") {
		t.Fatalf("notices = %q", sender.notices)
	}
}

func TestMatrixNotifier_NoopWhenEmptyRoom(t *testing.T) {
	sender := &fakeSender{}
	n := audit.NewMatrixNotifier(sender, "")

	n.Notify(context.Background(), audit.Event{Kind: audit.KindBotDeleted, Message: "deleted"})

	if len(sender.notices) != 0 {
		t.Fatalf("expected no notices for empty room, got %d", len(sender.notices))
	}
}

func TestMatrixNotifier_SendErrorSwallowed(t *testing.T) {
	sender := &fakeSender{err: errors.New("homeserver down")}
	n := audit.NewMatrixNotifier(sender, "!room:example.com")

	// Must not panic or block.
	n.Notify(context.Background(), audit.Event{Kind: audit.KindError, Message: "boom"})
}

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	audit.Multi{a, audit.LogNotifier{}, b}.Notify(context.Background(), audit.Event{Kind: audit.KindBotDeployed, Message: "deployed"})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("fan-out: a=%d b=%d", len(a.events), len(b.events))
	}
	if a.events[0].Timestamp.IsZero() {
		t.Error("timestamp not filled")
	}
}

func TestFormat_NoTarget(t *testing.T) {
	msg := audit.Format(audit.Event{Kind: audit.KindError, Message: "runtime unreachable"})
	if !strings.Contains(msg, "[error] runtime unreachable") {
		t.Errorf("Format = %q", msg)
	}
}

func TestNoop(t *testing.T) {
	audit.Noop{}.Notify(context.Background(), audit.Event{Kind: audit.KindError, Message: "boom"})
}
