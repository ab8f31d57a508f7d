package scenemix

import (
	"errors"
	"fmt"
	"strings"
)

// Common error conditions.
var (
	// ErrSceneNotFound is returned when a scene id has no definition in the
	// backing store.
	ErrSceneNotFound = errors.New("scenemix: scene not found")

	// ErrSourceUnknown is returned when a scene references a source id that
	// was never registered.
	ErrSourceUnknown = errors.New("scenemix: source was never registered")

	// ErrSourceNotRegistered is returned by registry operations on an id
	// that is not currently registered.
	ErrSourceNotRegistered = errors.New("scenemix: source not registered")

	// ErrMixerClosed is returned by operations on a closed Mixer.
	ErrMixerClosed = errors.New("scenemix: mixer is closed")

	// ErrRebuildsSuspended is returned while the failure circuit breaker is
	// open. Rebuilds stay suspended until an operator calls ResetBreaker.
	ErrRebuildsSuspended = errors.New("scenemix: rebuilds suspended after consecutive failures")

	// ErrRebuildInFlight is returned by maintenance operations that refuse
	// to run while a rebuild is already in progress.
	ErrRebuildInFlight = errors.New("scenemix: rebuild already in flight")

	// ErrPadStale is returned when a property write targets a pad the
	// current graph does not own.
	ErrPadStale = errors.New("scenemix: pad handle is stale")
)

// ValidationError reports a request that was rejected synchronously, before
// any pipeline state changed: an unknown scene, a reference to a source that
// was never registered, or a malformed scene definition.
type ValidationError struct {
	SceneID  string
	SourceID string
	Reason   string
	Err      error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("scenemix: validation failed")
	if e.SceneID != "" {
		fmt.Fprintf(&b, " for scene %q", e.SceneID)
	}
	if e.SourceID != "" {
		fmt.Fprintf(&b, " (source %q)", e.SourceID)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// TransientBuildError reports a rebuild attempt that failed at graph
// construction or preroll. The previously live graph is untouched and the
// same scene may be retried.
type TransientBuildError struct {
	Stage   string // "create", "attach", "preroll" or "swap"
	SceneID string
	Target  []string
	Err     error
}

func (e *TransientBuildError) Error() string {
	return fmt.Sprintf("scenemix: rebuild failed during %s for scene %q (target %v): %v",
		e.Stage, e.SceneID, e.Target, e.Err)
}

func (e *TransientBuildError) Unwrap() error { return e.Err }

// PropertyApplyError reports a failed pad property batch on the live graph.
// The controller retries the batch once; a second failure escalates to a
// forced rebuild.
type PropertyApplyError struct {
	SourceID string
	Pad      PadID
	Err      error
}

func (e *PropertyApplyError) Error() string {
	return fmt.Sprintf("scenemix: property apply failed for source %q (pad %s): %v",
		e.SourceID, e.Pad, e.Err)
}

func (e *PropertyApplyError) Unwrap() error { return e.Err }

// FatalError means the controller can no longer accept applies, typically
// because it was closed or its compositor is gone.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scenemix: fatal: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("scenemix: fatal: %s", e.Reason)
}

func (e *FatalError) Unwrap() error { return e.Err }
