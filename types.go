package scenemix

import (
	"fmt"
	"sort"
	"time"
)

// SourceKind classifies a registered media source. The kind is informational
// for the controller itself (all pads are wired the same way) but travels
// with status reports and events so operators can tell a camera from a
// screen share.
type SourceKind string

const (
	SourceCamera SourceKind = "camera"
	SourceScreen SourceKind = "screen"
	SourceGuest  SourceKind = "guest"
	SourceMedia  SourceKind = "media"
	SourceTest   SourceKind = "test"
)

// Source is the registry's record of one logical media producer.
type Source struct {
	ID       string     `json:"id"`
	Kind     SourceKind `json:"kind"`
	Live     bool       `json:"live"`
	LastSeen time.Time  `json:"last_seen"`
}

// Slot places one source on the canvas. Geometry is relative to the canvas:
// X, Y, W and H are fractions in [0,1] and are converted to absolute pixels
// when the slot is applied. Higher Z stacks closer to the viewer; slots that
// share a Z value keep their declaration order, earlier below later.
type Slot struct {
	SourceID string  `json:"source_id" yaml:"source"`
	X        float64 `json:"x" yaml:"x"`
	Y        float64 `json:"y" yaml:"y"`
	W        float64 `json:"w" yaml:"w"`
	H        float64 `json:"h" yaml:"h"`
	Alpha    float64 `json:"alpha" yaml:"alpha"`
	Z        int     `json:"z" yaml:"z"`
	Muted    bool    `json:"muted" yaml:"muted"`
}

// Scene is a named arrangement of slots. Scenes are immutable once handed
// out by a Catalog; callers receive their own copy.
type Scene struct {
	ID    string `json:"id"`
	Slots []Slot `json:"slots"`
}

// SourceIDs returns the distinct sources the scene references, in slot
// declaration order.
func (s Scene) SourceIDs() []string {
	ids := make([]string, 0, len(s.Slots))
	seen := make(map[string]struct{}, len(s.Slots))
	for _, slot := range s.Slots {
		if _, ok := seen[slot.SourceID]; ok {
			continue
		}
		seen[slot.SourceID] = struct{}{}
		ids = append(ids, slot.SourceID)
	}
	return ids
}

func (s Scene) clone() Scene {
	out := Scene{ID: s.ID}
	if s.Slots != nil {
		out.Slots = make([]Slot, len(s.Slots))
		copy(out.Slots, s.Slots)
	}
	return out
}

// slotsEqual reports whether two scenes would produce identical pad writes.
func slotsEqual(a, b []Slot) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ValidateScene checks a scene definition for structural problems before it
// enters a store: empty or duplicate source references, geometry outside the
// relative [0,1] range, non-positive extents, or an opacity outside [0,1].
// It returns a *ValidationError describing the first offending slot.
func ValidateScene(s Scene) error {
	if s.ID == "" {
		return &ValidationError{Reason: "scene id must not be empty"}
	}
	seen := make(map[string]struct{}, len(s.Slots))
	for i, slot := range s.Slots {
		if slot.SourceID == "" {
			return &ValidationError{
				SceneID: s.ID,
				Reason:  fmt.Sprintf("slot %d: source id must not be empty", i),
			}
		}
		if _, dup := seen[slot.SourceID]; dup {
			return &ValidationError{
				SceneID:  s.ID,
				SourceID: slot.SourceID,
				Reason:   fmt.Sprintf("slot %d: source %q appears more than once", i, slot.SourceID),
			}
		}
		seen[slot.SourceID] = struct{}{}
		if slot.X < 0 || slot.X > 1 || slot.Y < 0 || slot.Y > 1 {
			return &ValidationError{
				SceneID:  s.ID,
				SourceID: slot.SourceID,
				Reason:   fmt.Sprintf("slot %d: position (%v,%v) outside [0,1]", i, slot.X, slot.Y),
			}
		}
		if slot.W <= 0 || slot.W > 1 || slot.H <= 0 || slot.H > 1 {
			return &ValidationError{
				SceneID:  s.ID,
				SourceID: slot.SourceID,
				Reason:   fmt.Sprintf("slot %d: size (%vx%v) outside (0,1]", i, slot.W, slot.H),
			}
		}
		if slot.Alpha < 0 || slot.Alpha > 1 {
			return &ValidationError{
				SceneID:  s.ID,
				SourceID: slot.SourceID,
				Reason:   fmt.Sprintf("slot %d: alpha %v outside [0,1]", i, slot.Alpha),
			}
		}
	}
	return nil
}

// ApplyMode reports which command path served an apply request.
type ApplyMode int

const (
	// FastPath means the scene landed as property writes on the existing
	// graph with no structural change.
	FastPath ApplyMode = iota
	// Rebuilt means a new graph was constructed, preroll'd and swapped in
	// to satisfy the scene.
	Rebuilt
)

func (m ApplyMode) String() string {
	switch m {
	case FastPath:
		return "fast_path"
	case Rebuilt:
		return "rebuilt"
	default:
		return "unknown"
	}
}

// ApplyResult describes a completed scene apply.
type ApplyResult struct {
	SceneID    string        `json:"scene_id"`
	Mode       ApplyMode     `json:"-"`
	ModeName   string        `json:"mode"`
	Latency    time.Duration `json:"-"`
	LatencyMS  float64       `json:"latency_ms"`
	Generation uint64        `json:"generation"`
}

// Status is a point-in-time snapshot of the controller, safe to serialize.
type Status struct {
	Fingerprint         []string      `json:"fingerprint"`
	ActiveSceneID       string        `json:"active_scene_id"`
	PipelineState       InstanceState `json:"-"`
	PipelineStateName   string        `json:"pipeline_state"`
	Generation          uint64        `json:"generation"`
	PadCount            int           `json:"pad_count"`
	RebuildInFlight     bool          `json:"rebuild_in_flight"`
	InFlightTarget      []string      `json:"in_flight_target,omitempty"`
	BreakerOpen         bool          `json:"breaker_open"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Applies             uint64        `json:"applies"`
	FastPathApplies     uint64        `json:"fast_path_applies"`
	Rebuilds            uint64        `json:"rebuilds"`
	FailedRebuilds      uint64        `json:"failed_rebuilds"`
	Closed              bool          `json:"closed"`
}

// Alert is an operator-facing notification for conditions that need human
// attention: preroll deadline overruns, failed rebuilds, a tripped circuit
// breaker, or reclaimed pads.
type Alert struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	SceneID string    `json:"scene_id,omitempty"`
	Sources []string  `json:"sources,omitempty"`
	At      time.Time `json:"at"`
}

// Alert kinds emitted by the controller.
const (
	AlertPrerollTimeout = "preroll_timeout"
	AlertRebuildFailed  = "rebuild_failed"
	AlertBreakerOpen    = "breaker_open"
	AlertBreakerReset   = "breaker_reset"
	AlertPadsReclaimed  = "pads_reclaimed"
)

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
