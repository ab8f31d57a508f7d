// Package scenemix implements the pipeline reuse/rebuild controller for a
// live multi-source video compositor.
//
// Core Philosophy: "Reuse the graph, never blank the output."
//
// A Mixer accepts scene definitions (named arrangements of visible sources
// with position, size, opacity and stacking order) and applies them to a
// running compositor graph. For each requested scene it decides between two
// command paths:
//
//   - Fast path: every source the scene needs already has a pad on the
//     current graph, so the scene lands as one batched property write per
//     pad. No structural change, low-single-digit millisecond latency.
//   - Rebuild: the graph's source set is insufficient. A new graph covering
//     the union of all sources ever requested is constructed and preroll'd
//     in the background while the old graph keeps serving output, then
//     swapped in atomically.
//
// # Superset strategy
//
// Graph fingerprints only grow. Once a source has been attached it keeps its
// pad even when later scenes do not reference it; the pad is parked in a
// hidden state (alpha 0, below the visible stack, muted). This amortizes the
// rebuild cost: after each source's first use, every scene change is a fast
// path. The one deliberate exception is idle-pad reclamation (see
// Mixer.ReclaimIdlePads), which is operator-driven and off by default.
//
// # Usage
//
//	comp := scenemix.NewStubCompositor()
//	store := scenemix.NewMemoryStore()
//	store.Put(ctx, scenemix.Scene{ID: "solo", Slots: []scenemix.Slot{
//		{SourceID: "cam-a", W: 1, H: 1, Alpha: 1},
//	}})
//
//	mixer, _ := scenemix.New(comp, store, scenemix.Config{
//		CanvasWidth:  1280,
//		CanvasHeight: 720,
//	})
//	defer mixer.Close()
//
//	mixer.RegisterSource("cam-a", scenemix.SourceCamera)
//	mixer.SetSourceLive("cam-a", true)
//
//	ticket, _ := mixer.ApplyScene(ctx, "solo")
//	result, _ := ticket.Wait(ctx)        // Rebuilt on first use
//	ticket, _ = mixer.ApplyScene(ctx, "solo")
//	result, _ = ticket.Wait(ctx)         // FastPath from now on
//	_ = result
//
// # Concurrency
//
// One control mutex owns all structural mutation and serializes fast-path
// property batches, so two concurrent applies never interleave partial pad
// writes. Rebuild construction runs on its own goroutine; ApplyScene returns
// an ApplyTicket immediately instead of blocking for the rebuild duration.
// The current-instance pointer is the only value shared with the frame
// output side and is swapped atomically.
//
// # Public API Stability
//
// This package follows semantic versioning. The public API (types,
// interfaces, errors) is considered stable and will not change in
// backwards-incompatible ways without a major version bump.
package scenemix
