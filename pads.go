package scenemix

import (
	"fmt"
	"math"
	"sort"
)

// padController turns a scene into concrete pad property batches: relative
// geometry to absolute canvas pixels, z tie-breaking, and the hidden state
// for every pad the scene does not reference. It issues exactly one
// SetPadProperties call per pad per apply.
type padController struct {
	comp    Compositor
	canvasW int
	canvasH int
}

// padWrite pairs a source with the resolved property batch for its pad.
type padWrite struct {
	sourceID string
	pad      PadID
	props    PadProps
}

func newPadController(comp Compositor, canvasW, canvasH int) *padController {
	return &padController{comp: comp, canvasW: canvasW, canvasH: canvasH}
}

// resolve computes the full write set for applying scene on inst: one entry
// per pad in the instance fingerprint. Visible slots come first in effective
// z order, then hidden pads sorted by source id so the batch order is
// deterministic.
//
// Effective z starts at 1 for the bottom visible layer. Slots with equal
// declared Z keep declaration order, earlier below later. Hidden pads all
// carry z -1 and sit below everything visible.
func (p *padController) resolve(inst *instance, scene Scene) ([]padWrite, error) {
	order := make([]int, len(scene.Slots))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scene.Slots[order[a]].Z < scene.Slots[order[b]].Z
	})

	writes := make([]padWrite, 0, len(inst.pads))
	visible := make(map[string]struct{}, len(scene.Slots))

	for rank, idx := range order {
		slot := scene.Slots[idx]
		pad, ok := inst.pads[slot.SourceID]
		if !ok {
			return nil, &PropertyApplyError{
				SourceID: slot.SourceID,
				Err:      fmt.Errorf("%w: no pad for source on current graph", ErrPadStale),
			}
		}
		visible[slot.SourceID] = struct{}{}
		writes = append(writes, padWrite{
			sourceID: slot.SourceID,
			pad:      pad,
			props: PadProps{
				X:     scalePx(slot.X, p.canvasW),
				Y:     scalePx(slot.Y, p.canvasH),
				W:     scalePx(slot.W, p.canvasW),
				H:     scalePx(slot.H, p.canvasH),
				Alpha: slot.Alpha,
				Z:     rank + 1,
				Muted: slot.Muted,
			},
		})
	}

	hidden := make([]string, 0, len(inst.pads))
	for sourceID := range inst.pads {
		if _, ok := visible[sourceID]; !ok {
			hidden = append(hidden, sourceID)
		}
	}
	sort.Strings(hidden)
	for _, sourceID := range hidden {
		writes = append(writes, padWrite{
			sourceID: sourceID,
			pad:      inst.pads[sourceID],
			props:    hiddenProps(),
		})
	}
	return writes, nil
}

// apply commits the write set for scene on inst, one batched property call
// per pad. The first failed batch aborts the apply and is reported as a
// *PropertyApplyError; the caller decides between retry and forced rebuild.
func (p *padController) apply(inst *instance, scene Scene) error {
	writes, err := p.resolve(inst, scene)
	if err != nil {
		return err
	}
	for _, w := range writes {
		if err := p.comp.SetPadProperties(w.pad, w.props); err != nil {
			return &PropertyApplyError{SourceID: w.sourceID, Pad: w.pad, Err: err}
		}
	}
	return nil
}

// hiddenProps is the parked state for pads the active scene does not
// reference: fully transparent, below every visible layer, muted. Geometry
// is left to the compositor; an invisible pad's size does not matter.
func hiddenProps() PadProps {
	return PadProps{Alpha: 0, Z: -1, Muted: true}
}

func scalePx(frac float64, extent int) int {
	return int(math.Round(frac * float64(extent)))
}
