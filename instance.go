package scenemix

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// InstanceState is the lifecycle state of one pipeline instance.
//
// Forward flow is BUILDING, PREROLLING, LIVE, DRAINING, DESTROYED. FAILED is
// terminal and reachable only from BUILDING or PREROLLING; a failed instance
// never served output and never will.
type InstanceState int32

const (
	StateBuilding InstanceState = iota
	StatePrerolling
	StateLive
	StateDraining
	StateDestroyed
	StateFailed
)

func (s InstanceState) String() string {
	switch s {
	case StateBuilding:
		return "BUILDING"
	case StatePrerolling:
		return "PREROLLING"
	case StateLive:
		return "LIVE"
	case StateDraining:
		return "DRAINING"
	case StateDestroyed:
		return "DESTROYED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

var stateTransitions = map[InstanceState][]InstanceState{
	StateBuilding:   {StatePrerolling, StateFailed},
	StatePrerolling: {StateLive, StateFailed},
	StateLive:       {StateDraining},
	StateDraining:   {StateDestroyed},
	StateDestroyed:  nil,
	StateFailed:     nil,
}

// instance is one constructed compositor graph together with the bookkeeping
// the controller needs: which sources it covers, the pad handle per source,
// and where it sits in its lifecycle. Fingerprint and pads are filled during
// build and never mutated afterwards; only the state field changes, and only
// under the coordinator's control mutex (the drain timer included). State
// reads are atomic because status snapshots and the output side observe
// instances cross-goroutine.
type instance struct {
	id         string
	graph      GraphID
	generation uint64
	created    time.Time

	fingerprint map[string]struct{}
	pads        map[string]PadID

	state atomic.Int32
}

func newInstance(generation uint64) *instance {
	return &instance{
		id:          uuid.NewString(),
		generation:  generation,
		created:     time.Now(),
		fingerprint: make(map[string]struct{}),
		pads:        make(map[string]PadID),
	}
}

func (i *instance) State() InstanceState {
	return InstanceState(i.state.Load())
}

// setState advances the lifecycle, rejecting transitions the state machine
// does not allow.
func (i *instance) setState(next InstanceState) error {
	cur := i.State()
	for _, allowed := range stateTransitions[cur] {
		if allowed == next {
			i.state.Store(int32(next))
			return nil
		}
	}
	return fmt.Errorf("scenemix: invalid instance transition %s -> %s", cur, next)
}

// covers reports whether every source the scene references has a pad on this
// instance. This is the fast-path precondition.
func (i *instance) covers(scene Scene) bool {
	for _, slot := range scene.Slots {
		if _, ok := i.pads[slot.SourceID]; !ok {
			return false
		}
	}
	return true
}

func (i *instance) has(sourceID string) bool {
	_, ok := i.fingerprint[sourceID]
	return ok
}

// fingerprintList returns the instance's source set, sorted.
func (i *instance) fingerprintList() []string {
	return sortedSet(i.fingerprint)
}
