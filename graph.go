package scenemix

import "context"

// GraphID is an opaque handle to one constructed compositor graph.
type GraphID string

// PadID is an opaque handle to one source's pad on a graph. A pad carries
// both the video and audio legs of its source.
type PadID string

// PadProps is the full property set committed to a pad in one batch.
// Geometry is absolute canvas pixels. A zero W or H leaves sizing to the
// compositor. Z is the effective stacking order after tie-breaking; hidden
// pads carry Z -1 and sit below every visible layer.
type PadProps struct {
	X     int
	Y     int
	W     int
	H     int
	Alpha float64
	Z     int
	Muted bool
}

// Compositor is the collaborator that owns the actual media graphs. The
// controller drives it through this narrow interface and never touches
// element mechanics itself.
//
// Implementations must make SetPadProperties atomic with respect to output:
// all properties of the batch take effect together, never a frame with half
// the batch applied. Preroll blocks until the graph is ready to produce its
// first frame or the context expires. SwapActive must route live output to
// the given graph without an observable gap.
//
// Two implementations ship with this package: NewGstCompositor (GStreamer)
// and NewStubCompositor (in-memory, for tests and development).
type Compositor interface {
	CreateGraph(ctx context.Context) (GraphID, error)
	AttachPad(graph GraphID, sourceID string) (PadID, error)
	SetPadProperties(pad PadID, props PadProps) error
	Preroll(ctx context.Context, graph GraphID) error
	SwapActive(graph GraphID) error
	Teardown(graph GraphID) error
}
