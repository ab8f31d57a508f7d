package scenemix

import "testing"

// TestInstanceForwardLifecycle verifies the full forward state flow.
func TestInstanceForwardLifecycle(t *testing.T) {
	inst := newInstance(1)

	if inst.State() != StateBuilding {
		t.Fatalf("Expected new instance BUILDING, got %s", inst.State())
	}

	for _, next := range []InstanceState{StatePrerolling, StateLive, StateDraining, StateDestroyed} {
		if err := inst.setState(next); err != nil {
			t.Fatalf("Transition to %s failed: %v", next, err)
		}
		if inst.State() != next {
			t.Fatalf("Expected state %s, got %s", next, inst.State())
		}
	}
}

// TestInstanceFailedIsTerminal verifies FAILED is reachable only during
// construction and allows nothing afterwards.
func TestInstanceFailedIsTerminal(t *testing.T) {
	inst := newInstance(1)
	if err := inst.setState(StateFailed); err != nil {
		t.Fatalf("BUILDING -> FAILED should be allowed: %v", err)
	}
	if err := inst.setState(StateLive); err == nil {
		t.Error("Expected FAILED -> LIVE rejected")
	}

	inst = newInstance(2)
	inst.setState(StatePrerolling)
	if err := inst.setState(StateFailed); err != nil {
		t.Fatalf("PREROLLING -> FAILED should be allowed: %v", err)
	}
}

// TestInstanceInvalidTransitions verifies shortcuts the state machine must
// reject.
func TestInstanceInvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		walk []InstanceState
		next InstanceState
	}{
		{"building to live", nil, StateLive},
		{"building to draining", nil, StateDraining},
		{"live to failed", []InstanceState{StatePrerolling, StateLive}, StateFailed},
		{"live to live", []InstanceState{StatePrerolling, StateLive}, StateLive},
		{"destroyed to anything", []InstanceState{StatePrerolling, StateLive, StateDraining, StateDestroyed}, StateBuilding},
		{"draining to live", []InstanceState{StatePrerolling, StateLive, StateDraining}, StateLive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := newInstance(1)
			for _, s := range tt.walk {
				if err := inst.setState(s); err != nil {
					t.Fatalf("Setup transition to %s failed: %v", s, err)
				}
			}
			if err := inst.setState(tt.next); err == nil {
				t.Errorf("Expected transition %s -> %s rejected", inst.State(), tt.next)
			}
		})
	}
}

// TestInstanceStateString verifies the uppercase state names used in status
// output.
func TestInstanceStateString(t *testing.T) {
	tests := []struct {
		state InstanceState
		want  string
	}{
		{StateBuilding, "BUILDING"},
		{StatePrerolling, "PREROLLING"},
		{StateLive, "LIVE"},
		{StateDraining, "DRAINING"},
		{StateDestroyed, "DESTROYED"},
		{StateFailed, "FAILED"},
		{InstanceState(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}

// TestInstanceCovers verifies the fast-path precondition check.
func TestInstanceCovers(t *testing.T) {
	inst := newInstance(1)
	inst.pads["cam-a"] = "pad-1"
	inst.pads["cam-b"] = "pad-2"
	inst.fingerprint["cam-a"] = struct{}{}
	inst.fingerprint["cam-b"] = struct{}{}

	covered := Scene{ID: "s", Slots: []Slot{{SourceID: "cam-a", W: 1, H: 1, Alpha: 1}}}
	if !inst.covers(covered) {
		t.Error("Expected scene with subset sources to be covered")
	}

	uncovered := Scene{ID: "s", Slots: []Slot{
		{SourceID: "cam-a", W: 0.5, H: 1, Alpha: 1},
		{SourceID: "cam-c", X: 0.5, W: 0.5, H: 1, Alpha: 1},
	}}
	if inst.covers(uncovered) {
		t.Error("Expected scene with extra source not covered")
	}

	if !inst.has("cam-b") {
		t.Error("Expected fingerprint to contain cam-b")
	}
	if inst.has("cam-c") {
		t.Error("Expected fingerprint to not contain cam-c")
	}

	fp := inst.fingerprintList()
	if len(fp) != 2 || fp[0] != "cam-a" || fp[1] != "cam-b" {
		t.Errorf("Expected sorted fingerprint [cam-a cam-b], got %v", fp)
	}
}
