package store_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/botoralo/botworker/internal/botworker/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "botworker-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db file: %v", err)
	}
	f.Close()

	s, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createBot(t *testing.T, s *store.Store, id, owner, external string) *store.Bot {
	t.Helper()
	b := &store.Bot{ID: id, ExternalID: external, OwnerID: owner, Name: "bot " + id}
	if err := s.CreateBot(context.Background(), b); err != nil {
		t.Fatalf("CreateBot(%s): %v", id, err)
	}
	return b
}

func TestCreateAndGetBot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := &store.Bot{ID: "b1", ExternalID: "ext-1", OwnerID: "alice", Name: "Weather", MemoryMB: 256, AutoRestart: true}
	if err := s.CreateBot(ctx, in); err != nil {
		t.Fatalf("CreateBot: %v", err)
	}

	got, err := s.GetBot(ctx, "alice", "ext-1")
	if err != nil {
		t.Fatalf("GetBot: %v", err)
	}
	if got.ID != "b1" || got.Name != "Weather" || got.MemoryMB != 256 || !got.AutoRestart {
		t.Errorf("unexpected bot: %+v", got)
	}
	if got.Status != store.StatusStopped {
		t.Errorf("Status: got %q, want stopped", got.Status)
	}
	if got.ContainerID.Valid || got.UptimeStartedAt.Valid {
		t.Error("stopped bot must have no container id or uptime")
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestCreateBot_DefaultMemory(t *testing.T) {
	s := newTestStore(t)
	for i, mem := range []int{0, -5} {
		b := &store.Bot{ID: string(rune('a' + i)), ExternalID: string(rune('x' + i)), OwnerID: "o", Name: "n", MemoryMB: mem}
		if err := s.CreateBot(context.Background(), b); err != nil {
			t.Fatalf("CreateBot: %v", err)
		}
		if b.MemoryMB != store.DefaultMemoryMB {
			t.Errorf("memory %d resolved to %d, want %d", mem, b.MemoryMB, store.DefaultMemoryMB)
		}
	}
}

func TestCreateBot_DuplicateExternalID(t *testing.T) {
	s := newTestStore(t)
	createBot(t, s, "b1", "alice", "shared")

	err := s.CreateBot(context.Background(), &store.Bot{ID: "b2", ExternalID: "shared", OwnerID: "mallory", Name: "x"})
	if !errors.Is(err, store.ErrDuplicateBot) {
		t.Fatalf("expected ErrDuplicateBot, got %v", err)
	}

	got, err := s.GetBot(context.Background(), "alice", "shared")
	if err != nil || got.ID != "b1" {
		t.Fatalf("original bot was disturbed: %+v, %v", got, err)
	}
}

func TestGetBot_OwnerScoped(t *testing.T) {
	s := newTestStore(t)
	createBot(t, s, "b1", "alice", "ext-1")

	_, err := s.GetBot(context.Background(), "mallory", "ext-1")
	if !errors.Is(err, store.ErrBotNotFound) {
		t.Fatalf("expected ErrBotNotFound for other owner, got %v", err)
	}

	taken, err := s.ExternalIDTaken(context.Background(), "ext-1")
	if err != nil || !taken {
		t.Fatalf("ExternalIDTaken = %v, %v", taken, err)
	}
}

func TestListBots(t *testing.T) {
	s := newTestStore(t)
	createBot(t, s, "b1", "alice", "e1")
	createBot(t, s, "b2", "alice", "e2")
	createBot(t, s, "b3", "bob", "e3")

	bots, err := s.ListBots(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ListBots: %v", err)
	}
	if len(bots) != 2 {
		t.Fatalf("expected 2 bots, got %d", len(bots))
	}
	for _, b := range bots {
		if b.OwnerID != "alice" {
			t.Errorf("leaked bot of owner %q", b.OwnerID)
		}
	}

	n, err := s.BotCount(context.Background())
	if err != nil || n != 3 {
		t.Errorf("BotCount = %d, %v", n, err)
	}
}

func TestMarkRunningAndStopped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := createBot(t, s, "b1", "alice", "e1")

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.MarkRunning(ctx, b.ID, "c-123", started); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	got, _ := s.GetBot(ctx, "alice", "e1")
	if got.Status != store.StatusRunning || got.ContainerID.String != "c-123" || !got.Running() {
		t.Fatalf("after MarkRunning: %+v", got)
	}
	if !got.UptimeStartedAt.Valid || !got.UptimeStartedAt.Time.Equal(started) {
		t.Errorf("UptimeStartedAt = %v", got.UptimeStartedAt)
	}

	n, err := s.CountRunning(ctx, "alice")
	if err != nil || n != 1 {
		t.Errorf("CountRunning = %d, %v", n, err)
	}
	running, err := s.ListRunningBots(ctx)
	if err != nil || len(running) != 1 {
		t.Errorf("ListRunningBots = %d, %v", len(running), err)
	}

	if err := s.MarkStopped(ctx, b.ID); err != nil {
		t.Fatalf("MarkStopped: %v", err)
	}
	got, _ = s.GetBot(ctx, "alice", "e1")
	if got.Status != store.StatusStopped || got.ContainerID.Valid || got.UptimeStartedAt.Valid {
		t.Fatalf("after MarkStopped: %+v", got)
	}
	if n, _ := s.CountRunning(ctx, "alice"); n != 0 {
		t.Errorf("CountRunning after stop = %d", n)
	}
}

func TestMarkRunning_OnlyFromStopped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := createBot(t, s, "b1", "alice", "e1")

	if err := s.MarkRunning(ctx, b.ID, "c-first", time.Now()); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := s.MarkRunning(ctx, b.ID, "c-second", time.Now()); !errors.Is(err, store.ErrNotStopped) {
		t.Fatalf("second MarkRunning: expected ErrNotStopped, got %v", err)
	}
	got, _ := s.GetBot(ctx, "alice", "e1")
	if got.ContainerID.String != "c-first" {
		t.Errorf("container overwritten: %q", got.ContainerID.String)
	}

	if err := s.MarkStopped(ctx, b.ID); err != nil {
		t.Fatalf("MarkStopped: %v", err)
	}
	if err := s.MarkRunning(ctx, b.ID, "c-third", time.Now()); err != nil {
		t.Fatalf("MarkRunning after stop: %v", err)
	}
}

func TestSetCodePath(t *testing.T) {
	s := newTestStore(t)
	b := createBot(t, s, "b1", "alice", "e1")
	if err := s.SetCodePath(context.Background(), b.ID, "/data/bots/b1/code.py"); err != nil {
		t.Fatalf("SetCodePath: %v", err)
	}
	got, _ := s.GetBot(context.Background(), "alice", "e1")
	if got.CodePath.String != "/data/bots/b1/code.py" {
		t.Errorf("CodePath = %q", got.CodePath.String)
	}
}

func TestUpdates_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	checks := map[string]error{
		"MarkRunning": s.MarkRunning(ctx, "ghost", "c", time.Now()),
		"MarkStopped": s.MarkStopped(ctx, "ghost"),
		"SetCodePath": s.SetCodePath(ctx, "ghost", "/x"),
		"DeleteBot":   s.DeleteBot(ctx, "ghost"),
	}
	for name, err := range checks {
		if !errors.Is(err, store.ErrBotNotFound) {
			t.Errorf("%s: expected ErrBotNotFound, got %v", name, err)
		}
	}
}

func TestDeleteBot(t *testing.T) {
	s := newTestStore(t)
	b := createBot(t, s, "b1", "alice", "e1")
	if err := s.DeleteBot(context.Background(), b.ID); err != nil {
		t.Fatalf("DeleteBot: %v", err)
	}
	if _, err := s.GetBot(context.Background(), "alice", "e1"); !errors.Is(err, store.ErrBotNotFound) {
		t.Fatalf("expected ErrBotNotFound after delete, got %v", err)
	}
}

func TestMigrations_Reopen(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/reopen.db"
	s, err := store.New(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	createBot(t, s, "b1", "alice", "e1")
	s.Close()

	s2, err := store.New(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()
	if _, err := s2.GetBot(context.Background(), "alice", "e1"); err != nil {
		t.Fatalf("row lost across reopen: %v", err)
	}
}
