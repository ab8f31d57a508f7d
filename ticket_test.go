package scenemix

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestTicketResolve verifies a resolved ticket reports mode, generation and
// a positive latency.
func TestTicketResolve(t *testing.T) {
	ticket := newTicket("interview")
	ticket.resolve(Rebuilt, 3)

	select {
	case <-ticket.Done():
	default:
		t.Fatal("Expected Done closed after resolve")
	}

	res, err := ticket.Result()
	if err != nil {
		t.Fatalf("Result returned error: %v", err)
	}
	if res.SceneID != "interview" {
		t.Errorf("Expected scene interview, got %q", res.SceneID)
	}
	if res.Mode != Rebuilt || res.ModeName != "rebuilt" {
		t.Errorf("Expected rebuilt mode, got %v/%q", res.Mode, res.ModeName)
	}
	if res.Generation != 3 {
		t.Errorf("Expected generation 3, got %d", res.Generation)
	}
	if res.Latency <= 0 {
		t.Errorf("Expected positive latency, got %v", res.Latency)
	}
}

// TestTicketCompletesOnce verifies later resolve and fail calls cannot
// change a completed ticket.
func TestTicketCompletesOnce(t *testing.T) {
	ticket := newTicket("s")
	ticket.resolve(FastPath, 1)
	ticket.fail(errors.New("too late"))
	ticket.resolve(Rebuilt, 9)

	res, err := ticket.Result()
	if err != nil {
		t.Fatalf("Expected first outcome kept, got error %v", err)
	}
	if res.Mode != FastPath || res.Generation != 1 {
		t.Errorf("Expected first outcome kept, got %v gen %d", res.Mode, res.Generation)
	}
}

// TestTicketResultBeforeDone verifies Result is zero-valued while pending.
func TestTicketResultBeforeDone(t *testing.T) {
	ticket := newTicket("s")
	res, err := ticket.Result()
	if err != nil {
		t.Errorf("Expected nil error while pending, got %v", err)
	}
	if res.SceneID != "" || res.Generation != 0 {
		t.Errorf("Expected zero result while pending, got %+v", res)
	}
}

// TestTicketWait verifies Wait returns the outcome once it arrives.
func TestTicketWait(t *testing.T) {
	ticket := newTicket("s")

	go func() {
		time.Sleep(20 * time.Millisecond)
		ticket.resolve(Rebuilt, 2)
	}()

	res, err := ticket.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if res.Generation != 2 {
		t.Errorf("Expected generation 2, got %d", res.Generation)
	}
}

// TestTicketWaitContextExpiry verifies an expired wait context returns the
// context error while the ticket itself stays completable.
func TestTicketWaitContextExpiry(t *testing.T) {
	ticket := newTicket("s")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := ticket.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected DeadlineExceeded, got %v", err)
	}

	// The caller stopped waiting; the apply can still complete.
	ticket.resolve(Rebuilt, 1)
	res, err := ticket.Wait(context.Background())
	if err != nil || res.Generation != 1 {
		t.Errorf("Expected ticket completable after abandoned wait, got %v/%v", res, err)
	}
}

// TestTicketFail verifies error delivery to waiters.
func TestTicketFail(t *testing.T) {
	ticket := newTicket("s")
	want := errors.New("build exploded")
	ticket.fail(want)

	if _, err := ticket.Wait(context.Background()); !errors.Is(err, want) {
		t.Errorf("Expected failure delivered, got %v", err)
	}
}
