package trace_test

import (
	"context"
	"strings"
	"testing"

	"github.com/botoralo/botworker/common/trace"
)

func TestNewID_Format(t *testing.T) {
	id := trace.NewID()
	if !strings.HasPrefix(id, "t_") || len(id) != 34 {
		t.Errorf("unexpected trace id %q", id)
	}
	if id == trace.NewID() {
		t.Error("expected distinct ids")
	}
}

func TestEnsure(t *testing.T) {
	ctx, id := trace.Ensure(context.Background())
	if id == "" || trace.FromContext(ctx) != id {
		t.Fatalf("Ensure did not store id: %q", id)
	}
	again, id2 := trace.Ensure(ctx)
	if id2 != id || again != ctx {
		t.Errorf("Ensure replaced an existing id: %q -> %q", id, id2)
	}
	if trace.FromContext(context.Background()) != "" {
		t.Error("expected empty id on bare context")
	}
}
