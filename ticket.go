package scenemix

import (
	"context"
	"sync"
	"time"
)

// ApplyTicket is the async handle for one apply request. ApplyScene returns
// immediately; the ticket completes when the scene is in effect (fast path:
// already complete on return) or when the attempt fails.
//
//	ticket, err := mixer.ApplyScene(ctx, "interview")
//	if err != nil { ... }            // rejected synchronously, nothing changed
//	result, err := ticket.Wait(ctx)  // rebuild outcome arrives here
type ApplyTicket struct {
	sceneID     string
	requestedAt time.Time

	mu     sync.Mutex
	done   chan struct{}
	result ApplyResult
	err    error
}

func newTicket(sceneID string) *ApplyTicket {
	return &ApplyTicket{
		sceneID:     sceneID,
		requestedAt: time.Now(),
		done:        make(chan struct{}),
	}
}

// SceneID returns the scene this ticket was issued for.
func (t *ApplyTicket) SceneID() string { return t.sceneID }

// Done returns a channel that closes when the apply completes or fails.
func (t *ApplyTicket) Done() <-chan struct{} { return t.done }

// Result returns the outcome. It is only meaningful after Done has closed;
// before that it returns zero values.
func (t *ApplyTicket) Result() (ApplyResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
		return t.result, t.err
	default:
		return ApplyResult{}, nil
	}
}

// Wait blocks until the apply completes, fails, or ctx expires. A context
// error means the caller stopped waiting, not that the apply stopped; the
// ticket may still complete later.
func (t *ApplyTicket) Wait(ctx context.Context) (ApplyResult, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.result, t.err
	case <-ctx.Done():
		return ApplyResult{}, ctx.Err()
	}
}

// resolve completes the ticket successfully, computing latency from request
// time. Resolving an already-completed ticket is a no-op.
func (t *ApplyTicket) resolve(mode ApplyMode, generation uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
		return
	default:
	}
	latency := time.Since(t.requestedAt)
	t.result = ApplyResult{
		SceneID:    t.sceneID,
		Mode:       mode,
		ModeName:   mode.String(),
		Latency:    latency,
		LatencyMS:  float64(latency.Microseconds()) / 1000.0,
		Generation: generation,
	}
	close(t.done)
}

// fail completes the ticket with an error. Failing an already-completed
// ticket is a no-op.
func (t *ApplyTicket) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
		return
	default:
	}
	t.err = err
	close(t.done)
}
