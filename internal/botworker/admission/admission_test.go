package admission

import (
	"context"
	"errors"
	"testing"

	"github.com/botoralo/botworker/internal/botworker/plans"
)

type fixedResolver struct{ plan string }

func (r fixedResolver) Resolve(_ context.Context, _ string) plans.Limits {
	return plans.DefaultTable().Lookup(r.plan)
}

type countFunc func(ctx context.Context, ownerID string) (int, error)

func (f countFunc) CountRunning(ctx context.Context, ownerID string) (int, error) {
	return f(ctx, ownerID)
}

func running(n int) RunningCounter {
	return countFunc(func(context.Context, string) (int, error) { return n, nil })
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		plan    string
		memory  int
		running int
		allowed bool
		reason  string
	}{
		{"free within limits", plans.Free, 128, 0, true, ""},
		{"free memory over", plans.Free, 256, 0, false, ReasonMemory},
		{"free slot taken", plans.Free, 64, 1, false, ReasonSlots},
		{"pro 512", plans.Pro, 512, 4, true, ""},
		{"pro slots full", plans.Pro, 512, 5, false, ReasonSlots},
		{"power 1024", plans.Power, 1024, 19, true, ""},
		{"power memory over", plans.Power, 1025, 0, false, ReasonMemory},
		{"unknown plan uses free", "enterprise", 256, 0, false, ReasonMemory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(fixedResolver{plan: tt.plan}, running(tt.running))
			d, err := c.Check(context.Background(), "owner", tt.memory)
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if d.Allowed != tt.allowed || d.Reason != tt.reason {
				t.Errorf("got allowed=%v reason=%q, want allowed=%v reason=%q", d.Allowed, d.Reason, tt.allowed, tt.reason)
			}
			if !d.Allowed && d.Detail == "" {
				t.Error("denial without detail")
			}
		})
	}
}

func TestCheck_MemoryCheckedBeforeCount(t *testing.T) {
	called := false
	counter := countFunc(func(context.Context, string) (int, error) {
		called = true
		return 0, nil
	})
	c := New(fixedResolver{plan: plans.Free}, counter)
	if d, _ := c.Check(context.Background(), "owner", 4096); d.Allowed {
		t.Fatal("expected denial")
	}
	if called {
		t.Error("running count should not be read once memory is over the limit")
	}
}

func TestCheck_CountError(t *testing.T) {
	boom := errors.New("db locked")
	c := New(fixedResolver{plan: plans.Free}, countFunc(func(context.Context, string) (int, error) {
		return 0, boom
	}))
	if _, err := c.Check(context.Background(), "owner", 64); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped count error, got %v", err)
	}
}
