package scenemix

import (
	"errors"
	"testing"
)

// TestRegisterAndLookup verifies basic registration and retrieval.
func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	if err := r.Register("cam-a", SourceCamera); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	src, ok := r.Get("cam-a")
	if !ok {
		t.Fatal("Expected cam-a to be registered")
	}
	if src.Kind != SourceCamera {
		t.Errorf("Expected kind camera, got %q", src.Kind)
	}
	if src.Live {
		t.Error("Expected new source to start not live")
	}
	if !r.Seen("cam-a") {
		t.Error("Expected cam-a to be seen")
	}
}

// TestRegisterEmptyID verifies the empty id is rejected.
func TestRegisterEmptyID(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("", SourceCamera); err == nil {
		t.Fatal("Expected error for empty source id, got nil")
	}
}

// TestRegisterRefreshesExisting verifies re-announcing an active source
// updates its record instead of erroring. Capture collaborators re-announce
// after every reconnect.
func TestRegisterRefreshesExisting(t *testing.T) {
	r := NewRegistry()
	r.Register("cam-a", SourceCamera)
	r.SetLive("cam-a", true)

	if err := r.Register("cam-a", SourceGuest); err != nil {
		t.Fatalf("Re-register failed: %v", err)
	}

	src, _ := r.Get("cam-a")
	if src.Kind != SourceGuest {
		t.Errorf("Expected kind refreshed to guest, got %q", src.Kind)
	}
	if !src.Live {
		t.Error("Expected liveness to survive re-registration")
	}
	if got := r.Stats().Registered; got != 1 {
		t.Errorf("Expected 1 registered source, got %d", got)
	}
}

// TestUnregisterKeepsSeen verifies unregistering removes the source from the
// active set but the id stays known forever.
func TestUnregisterKeepsSeen(t *testing.T) {
	r := NewRegistry()
	r.Register("cam-a", SourceCamera)

	if err := r.Unregister("cam-a"); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}

	if _, ok := r.Get("cam-a"); ok {
		t.Error("Expected cam-a gone from the active set")
	}
	if !r.Seen("cam-a") {
		t.Error("Expected cam-a to stay seen after unregister")
	}

	// Second unregister is an error: the source is no longer active.
	err := r.Unregister("cam-a")
	if !errors.Is(err, ErrSourceNotRegistered) {
		t.Errorf("Expected ErrSourceNotRegistered, got %v", err)
	}
}

// TestUnregisterUnknown verifies unregistering a never-seen id errors.
func TestUnregisterUnknown(t *testing.T) {
	r := NewRegistry()
	if err := r.Unregister("ghost"); !errors.Is(err, ErrSourceNotRegistered) {
		t.Errorf("Expected ErrSourceNotRegistered, got %v", err)
	}
}

// TestSetLiveAndListLive verifies liveness flips and the sorted live list.
func TestSetLiveAndListLive(t *testing.T) {
	r := NewRegistry()
	r.Register("cam-b", SourceCamera)
	r.Register("cam-a", SourceCamera)
	r.Register("screen-1", SourceScreen)

	r.SetLive("cam-b", true)
	r.SetLive("cam-a", true)

	if !r.IsLive("cam-a") {
		t.Error("Expected cam-a live")
	}
	if r.IsLive("screen-1") {
		t.Error("Expected screen-1 not live")
	}

	live := r.ListLive()
	if len(live) != 2 || live[0] != "cam-a" || live[1] != "cam-b" {
		t.Errorf("Expected sorted live list [cam-a cam-b], got %v", live)
	}

	r.SetLive("cam-a", false)
	if r.IsLive("cam-a") {
		t.Error("Expected cam-a not live after flip")
	}

	if err := r.SetLive("ghost", true); !errors.Is(err, ErrSourceNotRegistered) {
		t.Errorf("Expected ErrSourceNotRegistered for unknown source, got %v", err)
	}
}

// TestIsLiveUnregistered verifies an unregistered source is never live even
// though its id stays known.
func TestIsLiveUnregistered(t *testing.T) {
	r := NewRegistry()
	r.Register("cam-a", SourceCamera)
	r.SetLive("cam-a", true)
	r.Unregister("cam-a")

	if r.IsLive("cam-a") {
		t.Error("Expected unregistered source to report not live")
	}
}

// TestRegistryStats verifies counter accuracy across the lifecycle.
func TestRegistryStats(t *testing.T) {
	r := NewRegistry()
	r.Register("cam-a", SourceCamera)
	r.Register("cam-b", SourceCamera)
	r.SetLive("cam-a", true)
	r.Unregister("cam-b")

	stats := r.Stats()
	if stats.Registered != 1 {
		t.Errorf("Expected 1 registered, got %d", stats.Registered)
	}
	if stats.Live != 1 {
		t.Errorf("Expected 1 live, got %d", stats.Live)
	}
	if stats.Seen != 2 {
		t.Errorf("Expected 2 seen, got %d", stats.Seen)
	}
}

// TestRegistryList verifies List returns sorted copies.
func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register("screen-1", SourceScreen)
	r.Register("cam-a", SourceCamera)

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("Expected 2 sources, got %d", len(list))
	}
	if list[0].ID != "cam-a" || list[1].ID != "screen-1" {
		t.Errorf("Expected sorted list [cam-a screen-1], got [%s %s]", list[0].ID, list[1].ID)
	}

	// Mutating the copy must not reach the registry.
	list[0].Live = true
	if r.IsLive("cam-a") {
		t.Error("Expected registry unaffected by mutation of returned copy")
	}
}
