package scenemix

import (
	"context"
	"errors"
	"testing"
)

func newTestCatalog(t *testing.T) (*Catalog, *MemoryStore, *Registry) {
	t.Helper()
	store := NewMemoryStore()
	registry := NewRegistry()
	catalog, err := NewCatalog(store, registry)
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	return catalog, store, registry
}

// TestCatalogGet verifies lookup of a stored scene whose sources are known.
func TestCatalogGet(t *testing.T) {
	catalog, store, registry := newTestCatalog(t)
	ctx := context.Background()

	registry.Register("cam-a", SourceCamera)
	store.Put(ctx, Scene{ID: "solo", Slots: []Slot{
		{SourceID: "cam-a", W: 1, H: 1, Alpha: 1},
	}})

	scene, err := catalog.Get(ctx, "solo")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if scene.ID != "solo" || len(scene.Slots) != 1 {
		t.Errorf("Expected scene solo with 1 slot, got %q with %d", scene.ID, len(scene.Slots))
	}
}

// TestCatalogUnknownScene verifies an unknown id surfaces as a validation
// error wrapping ErrSceneNotFound.
func TestCatalogUnknownScene(t *testing.T) {
	catalog, _, _ := newTestCatalog(t)

	_, err := catalog.Get(context.Background(), "ghost")
	if err == nil {
		t.Fatal("Expected error for unknown scene, got nil")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected *ValidationError, got %T", err)
	}
	if !errors.Is(err, ErrSceneNotFound) {
		t.Errorf("Expected ErrSceneNotFound in chain, got %v", err)
	}
	if verr.SceneID != "ghost" {
		t.Errorf("Expected scene id ghost in error, got %q", verr.SceneID)
	}
}

// TestCatalogUnknownSource verifies a scene referencing a source that was
// never registered is rejected with the offending source named.
func TestCatalogUnknownSource(t *testing.T) {
	catalog, store, registry := newTestCatalog(t)
	ctx := context.Background()

	registry.Register("cam-a", SourceCamera)
	store.Put(ctx, Scene{ID: "duo", Slots: []Slot{
		{SourceID: "cam-a", W: 0.5, H: 1, Alpha: 1},
		{SourceID: "cam-b", X: 0.5, W: 0.5, H: 1, Alpha: 1},
	}})

	_, err := catalog.Get(ctx, "duo")
	if !errors.Is(err, ErrSourceUnknown) {
		t.Fatalf("Expected ErrSourceUnknown, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected *ValidationError, got %T", err)
	}
	if verr.SourceID != "cam-b" {
		t.Errorf("Expected offending source cam-b, got %q", verr.SourceID)
	}
}

// TestCatalogValidationIsPerCall verifies a scene rejected for a missing
// source becomes valid the moment that source registers. Validation must
// not be cached.
func TestCatalogValidationIsPerCall(t *testing.T) {
	catalog, store, registry := newTestCatalog(t)
	ctx := context.Background()

	store.Put(ctx, Scene{ID: "solo", Slots: []Slot{
		{SourceID: "cam-a", W: 1, H: 1, Alpha: 1},
	}})

	if _, err := catalog.Get(ctx, "solo"); !errors.Is(err, ErrSourceUnknown) {
		t.Fatalf("Expected ErrSourceUnknown before registration, got %v", err)
	}

	registry.Register("cam-a", SourceCamera)

	if _, err := catalog.Get(ctx, "solo"); err != nil {
		t.Fatalf("Expected scene valid after registration, got %v", err)
	}
}

// TestCatalogAcceptsUnregisteredSeenSource verifies scenes stay valid for
// sources that were registered once and later unregistered.
func TestCatalogAcceptsUnregisteredSeenSource(t *testing.T) {
	catalog, store, registry := newTestCatalog(t)
	ctx := context.Background()

	registry.Register("cam-a", SourceCamera)
	registry.Unregister("cam-a")
	store.Put(ctx, Scene{ID: "solo", Slots: []Slot{
		{SourceID: "cam-a", W: 1, H: 1, Alpha: 1},
	}})

	if _, err := catalog.Get(ctx, "solo"); err != nil {
		t.Fatalf("Expected scene valid for seen-but-unregistered source, got %v", err)
	}
}

// TestCatalogReturnsPrivateCopies verifies callers cannot mutate the stored
// definition through the returned scene.
func TestCatalogReturnsPrivateCopies(t *testing.T) {
	catalog, store, registry := newTestCatalog(t)
	ctx := context.Background()

	registry.Register("cam-a", SourceCamera)
	store.Put(ctx, Scene{ID: "solo", Slots: []Slot{
		{SourceID: "cam-a", W: 1, H: 1, Alpha: 1},
	}})

	first, _ := catalog.Get(ctx, "solo")
	first.Slots[0].Alpha = 0.1

	second, _ := catalog.Get(ctx, "solo")
	if second.Slots[0].Alpha != 1 {
		t.Errorf("Expected stored alpha 1 untouched, got %v", second.Slots[0].Alpha)
	}
}

// TestCatalogEmptyID verifies the empty scene id is rejected synchronously.
func TestCatalogEmptyID(t *testing.T) {
	catalog, _, _ := newTestCatalog(t)
	var verr *ValidationError
	if _, err := catalog.Get(context.Background(), ""); !errors.As(err, &verr) {
		t.Errorf("Expected *ValidationError for empty id, got %v", err)
	}
}

// TestNewCatalogRequiresCollaborators verifies fail-fast construction.
func TestNewCatalogRequiresCollaborators(t *testing.T) {
	if _, err := NewCatalog(nil, NewRegistry()); err == nil {
		t.Error("Expected error for nil store, got nil")
	}
	if _, err := NewCatalog(NewMemoryStore(), nil); err == nil {
		t.Error("Expected error for nil source checker, got nil")
	}
}

// TestMemoryStorePutValidates verifies malformed scenes never enter the
// store.
func TestMemoryStorePutValidates(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.Put(ctx, Scene{ID: "bad", Slots: []Slot{
		{SourceID: "cam-a", W: 2, H: 1, Alpha: 1},
	}})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected *ValidationError, got %v", err)
	}

	if _, err := store.Get(ctx, "bad"); !errors.Is(err, ErrSceneNotFound) {
		t.Errorf("Expected rejected scene absent from store, got %v", err)
	}
}

// TestMemoryStoreRemove verifies removal and the not-found error.
func TestMemoryStoreRemove(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Put(ctx, Scene{ID: "solo", Slots: []Slot{
		{SourceID: "cam-a", W: 1, H: 1, Alpha: 1},
	}})
	if err := store.Remove("solo"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := store.Remove("solo"); !errors.Is(err, ErrSceneNotFound) {
		t.Errorf("Expected ErrSceneNotFound on double remove, got %v", err)
	}
}

// TestMemoryStoreList verifies sorted id listing.
func TestMemoryStoreList(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Put(ctx, Scene{ID: "pip", Slots: []Slot{{SourceID: "a", W: 1, H: 1, Alpha: 1}}})
	store.Put(ctx, Scene{ID: "duo", Slots: []Slot{{SourceID: "a", W: 1, H: 1, Alpha: 1}}})

	ids, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "duo" || ids[1] != "pip" {
		t.Errorf("Expected sorted [duo pip], got %v", ids)
	}
}
