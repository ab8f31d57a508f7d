package scenemix

import (
	"context"
	"testing"
	"time"
)

func TestCoveredBy(t *testing.T) {
	target := map[string]struct{}{"cam-a": {}, "cam-b": {}}

	tests := []struct {
		name     string
		required []string
		want     bool
	}{
		{"empty requirement", nil, true},
		{"single match", []string{"cam-a"}, true},
		{"all match", []string{"cam-a", "cam-b"}, true},
		{"one missing", []string{"cam-a", "cam-c"}, false},
		{"all missing", []string{"cam-x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := coveredBy(tt.required, target); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSortedSet(t *testing.T) {
	got := sortedSet(map[string]struct{}{"zeta": {}, "alpha": {}, "mid": {}})
	want := []string{"alpha", "mid", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d entries, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, got)
			break
		}
	}
	if out := sortedSet(nil); len(out) != 0 {
		t.Errorf("Expected empty slice for nil set, got %v", out)
	}
}

// TestCloseOwnsDrainingGraphs verifies Close tears down graphs still in
// their drain grace period and the expired drain timer does not tear them
// down a second time.
func TestCloseOwnsDrainingGraphs(t *testing.T) {
	rig := newTestRig(t, Config{DrainGrace: 200 * time.Millisecond})
	ctx := context.Background()

	rig.addSource(t, "cam-a")
	rig.addSource(t, "cam-b")
	rig.putScene(t, fullFrame("solo", "cam-a"))
	rig.putScene(t, sideBySide("duo", "cam-a", "cam-b"))

	rig.mixer.ApplySceneWait(ctx, "solo")
	rig.mixer.ApplySceneWait(ctx, "duo")

	if err := rig.mixer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := rig.comp.TeardownCount(); got != 2 {
		t.Errorf("Expected both graphs torn down on close, got %d", got)
	}

	// Let the drain timer expire; the graph it pointed at is already gone.
	time.Sleep(300 * time.Millisecond)
	if got := rig.comp.TeardownCount(); got != 2 {
		t.Errorf("Expected no extra teardown from the drain timer, got %d", got)
	}
}

// TestBreakerDisabled verifies a negative threshold turns the circuit
// breaker off: failures accumulate without ever suspending rebuilds.
func TestBreakerDisabled(t *testing.T) {
	rig := newTestRig(t, Config{BreakerThreshold: -1})
	defer rig.mixer.Close()
	ctx := context.Background()

	rig.addSource(t, "cam-a")
	rig.putScene(t, fullFrame("solo", "cam-a"))

	rig.comp.FailNextCreate(5)
	for i := 0; i < 5; i++ {
		if _, err := rig.mixer.ApplySceneWait(ctx, "solo"); err == nil {
			t.Fatalf("Expected apply %d to fail", i+1)
		}
	}

	st := rig.mixer.Status()
	if st.BreakerOpen {
		t.Fatal("Expected breaker to stay closed when disabled")
	}
	if st.ConsecutiveFailures != 5 {
		t.Errorf("Expected 5 consecutive failures recorded, got %d", st.ConsecutiveFailures)
	}

	if _, err := rig.mixer.ApplySceneWait(ctx, "solo"); err != nil {
		t.Fatalf("Apply after faults cleared failed: %v", err)
	}
}

// TestReclaimBeforeFirstApply verifies reclamation is a no-op without a
// pipeline.
func TestReclaimBeforeFirstApply(t *testing.T) {
	rig := newTestRig(t, Config{})
	defer rig.mixer.Close()

	removed, ticket, err := rig.mixer.ReclaimIdlePads(time.Minute)
	if err != nil {
		t.Fatalf("ReclaimIdlePads failed: %v", err)
	}
	if removed != nil || ticket != nil {
		t.Errorf("Expected nothing to reclaim, got %v", removed)
	}
}

// TestStatusInFlightTarget verifies the status snapshot exposes the target
// of the rebuild under way.
func TestStatusInFlightTarget(t *testing.T) {
	rig := newTestRig(t, Config{})
	defer rig.mixer.Close()
	ctx := context.Background()

	rig.addSource(t, "cam-a")
	rig.addSource(t, "cam-b")
	rig.putScene(t, sideBySide("duo", "cam-a", "cam-b"))

	rig.comp.SetPrerollDelay(200 * time.Millisecond)
	ticket, err := rig.mixer.ApplyScene(ctx, "duo")
	if err != nil {
		t.Fatalf("ApplyScene failed: %v", err)
	}

	st := rig.mixer.Status()
	if !st.RebuildInFlight {
		t.Fatal("Expected rebuild in flight")
	}
	if len(st.InFlightTarget) != 2 || st.InFlightTarget[0] != "cam-a" || st.InFlightTarget[1] != "cam-b" {
		t.Errorf("Expected in-flight target [cam-a cam-b], got %v", st.InFlightTarget)
	}

	if _, err := ticket.Wait(ctx); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if st := rig.mixer.Status(); st.RebuildInFlight {
		t.Error("Expected no rebuild in flight after completion")
	}
}

// TestNewValidatesArguments verifies constructor preconditions.
func TestNewValidatesArguments(t *testing.T) {
	store := NewMemoryStore()

	if _, err := New(nil, store, Config{CanvasWidth: 1280, CanvasHeight: 720}); err == nil {
		t.Error("Expected error for nil compositor")
	}
	if _, err := New(NewStubCompositor(), store, Config{}); err == nil {
		t.Error("Expected error for missing canvas dimensions")
	}
	if _, err := New(NewStubCompositor(), store, Config{CanvasWidth: -1, CanvasHeight: 720}); err == nil {
		t.Error("Expected error for negative canvas width")
	}
}
