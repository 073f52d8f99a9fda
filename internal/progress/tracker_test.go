package progress

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	mr := miniredis.RunT(t)
	tracker := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { tracker.Close() })
	return tracker
}

func TestStageAndStepAccumulate(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	tracker.Stage(ctx, "ref-42", "cloning")
	tracker.Step(ctx, "ref-42", "triaging findings", 3, 20)

	state, err := tracker.Read(ctx, "ref-42")
	if err != nil {
		t.Fatalf("reading state: %v", err)
	}
	if state["status"] != "running" {
		t.Errorf("status = %q, want running", state["status"])
	}
	if state["stage"] != "cloning" {
		t.Errorf("stage = %q, want cloning", state["stage"])
	}
	if state["message"] != "triaging findings" {
		t.Errorf("message = %q, want triaging findings", state["message"])
	}
	if state["step_number"] != "3" || state["total_steps"] != "20" {
		t.Errorf("step counters = %q/%q, want 3/20", state["step_number"], state["total_steps"])
	}
	if state["updated_at"] == "" {
		t.Error("expected updated_at to be set")
	}
}

func TestCompleteAndFail(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	tracker.Complete(ctx, "ref-ok")
	state, err := tracker.Read(ctx, "ref-ok")
	if err != nil {
		t.Fatalf("reading state: %v", err)
	}
	if state["status"] != "completed" || state["stage"] != "done" {
		t.Errorf("unexpected state: %v", state)
	}

	tracker.Fail(ctx, "ref-bad", "clone failed")
	state, err = tracker.Read(ctx, "ref-bad")
	if err != nil {
		t.Fatalf("reading state: %v", err)
	}
	if state["status"] != "failed" || state["error"] != "clone failed" {
		t.Errorf("unexpected state: %v", state)
	}
}

func TestReadMissingScanReturnsEmptyState(t *testing.T) {
	tracker := newTestTracker(t)

	state, err := tracker.Read(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("reading state: %v", err)
	}
	if len(state) != 0 {
		t.Errorf("expected empty state, got %v", state)
	}
}

func TestUpdatesSurviveRedisOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	tracker := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { tracker.Close() })

	mr.Close()

	// Must not panic or block; progress is best-effort.
	tracker.Stage(context.Background(), "ref-1", "scanning")
	tracker.Fail(context.Background(), "ref-1", "broker down")
}
