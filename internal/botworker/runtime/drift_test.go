package runtime_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/botoralo/botworker/internal/botworker/runtime"
	"github.com/botoralo/botworker/internal/botworker/runtime/runtimetest"
	"github.com/botoralo/botworker/internal/botworker/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "drift-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	s, err := store.New(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// runningBot creates a bot row and a sandbox for it, then marks it running.
func runningBot(t *testing.T, s *store.Store, rt *runtimetest.Runtime, id string) runtime.Handle {
	t.Helper()
	ctx := context.Background()
	b := &store.Bot{ID: id, ExternalID: "ext-" + id, OwnerID: "alice", Name: id}
	if err := s.CreateBot(ctx, b); err != nil {
		t.Fatalf("CreateBot: %v", err)
	}
	h, err := rt.CreateSandbox(ctx, runtime.SandboxSpec{BotID: id})
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}
	if err := s.MarkRunning(ctx, id, h.ContainerID, time.Now()); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	return h
}

type alertRecorder struct {
	bots     []string
	messages []string
}

func (a *alertRecorder) record(bot *store.Bot, msg string) {
	a.bots = append(a.bots, bot.ID)
	a.messages = append(a.messages, msg)
}

func TestDriftMonitor_NoBots(t *testing.T) {
	m := runtime.NewDriftMonitor(runtimetest.New(), newTestStore(t), runtime.DriftConfig{})
	n, err := m.Check(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("Check = %d, %v", n, err)
	}
}

func TestDriftMonitor_HealthyBot(t *testing.T) {
	s := newTestStore(t)
	rt := runtimetest.New()
	runningBot(t, s, rt, "b1")

	rec := &alertRecorder{}
	m := runtime.NewDriftMonitor(rt, s, runtime.DriftConfig{AlertFunc: rec.record})
	if n, err := m.Check(context.Background()); err != nil || n != 0 {
		t.Fatalf("Check = %d, %v", n, err)
	}
	if len(rec.bots) != 0 {
		t.Errorf("unexpected alerts: %v", rec.messages)
	}
}

func TestDriftMonitor_MissingAndExited(t *testing.T) {
	s := newTestStore(t)
	rt := runtimetest.New()
	gone := runningBot(t, s, rt, "gone")
	exited := runningBot(t, s, rt, "exited")
	runningBot(t, s, rt, "fine")

	rt.Kill(gone.ContainerID)
	rt.SetState(exited.ContainerID, runtime.StateExited)

	rec := &alertRecorder{}
	m := runtime.NewDriftMonitor(rt, s, runtime.DriftConfig{AlertFunc: rec.record})
	n, err := m.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if n != 2 || len(rec.bots) != 2 {
		t.Fatalf("drifted = %d, alerts = %v", n, rec.bots)
	}
	joined := strings.Join(rec.messages, "|")
	if !strings.Contains(joined, "missing") || !strings.Contains(joined, "exited") {
		t.Errorf("alert messages = %v", rec.messages)
	}

	// The registry is left alone.
	running, _ := s.ListRunningBots(context.Background())
	if len(running) != 3 {
		t.Errorf("drift monitor changed the registry: %d running rows", len(running))
	}
}

func TestDriftMonitor_RunStopsOnCancel(t *testing.T) {
	m := runtime.NewDriftMonitor(runtimetest.New(), newTestStore(t), runtime.DriftConfig{Interval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
