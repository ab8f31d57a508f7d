// Package gstgraph drives GStreamer compositor graphs: construction,
// per-source pad branches, preroll, activation and teardown. It is the
// media-stack half of the controller; decision logic lives above it.
//
// Each graph is one pipeline: per-source inter sources feeding a compositor
// and an audiomixer, which feed the configured sinks. Capture processes
// publish frames into the per-source inter channels; the output transport is
// expected to follow the active output channel.
package gstgraph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
)

var initOnce sync.Once

// Config describes how graphs are built.
type Config struct {
	CanvasWidth   int
	CanvasHeight  int
	FrameRate     int    // output frames per second
	VideoSink     string // e.g. "autovideosink", "fakesink", "intervideosink"
	AudioSink     string // e.g. "autoaudiosink", "fakesink", "interaudiosink"
	OutputChannel string // inter channel name used when sinks are inter*
}

// PadProps is one batched property commit for a source's pads. Geometry in
// canvas pixels; zero W or H lets the stream keep its own size. Z -1 parks
// the pad beneath every visible layer.
type PadProps struct {
	X     int
	Y     int
	W     int
	H     int
	Alpha float64
	Z     int
	Muted bool
}

// Engine owns every constructed graph and the pad handles on them.
type Engine struct {
	cfg Config

	mu     sync.Mutex
	graphs map[string]*graph
	pads   map[string]*padRef
	active string
}

type graph struct {
	id       string
	pipeline *gst.Pipeline
	video    *gst.Element // compositor
	audio    *gst.Element // audiomixer
	padIDs   []string
}

type padRef struct {
	graphID  string
	sourceID string
	video    *gst.Pad
	audio    *gst.Pad
}

// New validates the configuration and initializes GStreamer.
func New(cfg Config) (*Engine, error) {
	if cfg.CanvasWidth <= 0 || cfg.CanvasHeight <= 0 {
		return nil, fmt.Errorf("gstgraph: canvas dimensions are required (got %dx%d)",
			cfg.CanvasWidth, cfg.CanvasHeight)
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 30
	}
	if cfg.VideoSink == "" {
		cfg.VideoSink = "autovideosink"
	}
	if cfg.AudioSink == "" {
		cfg.AudioSink = "autoaudiosink"
	}
	if cfg.OutputChannel == "" {
		cfg.OutputChannel = "program"
	}

	initOnce.Do(func() {
		gst.Init(nil)
	})

	return &Engine{
		cfg:    cfg,
		graphs: make(map[string]*graph),
		pads:   make(map[string]*padRef),
	}, nil
}

// CreateGraph constructs a new idle pipeline with empty mixers. The pipeline
// stays in NULL until Preroll.
func (e *Engine) CreateGraph(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g, err := e.buildGraph()
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	e.graphs[g.id] = g
	e.mu.Unlock()
	return g.id, nil
}

// AttachPad wires a source branch into the graph's compositor and audiomixer
// and returns the pad handle. New pads start parked: transparent, bottom of
// the stack, muted. Attaching is only valid before Preroll.
func (e *Engine) AttachPad(graphID, sourceID string) (string, error) {
	e.mu.Lock()
	g, ok := e.graphs[graphID]
	e.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("gstgraph: unknown graph %s", graphID)
	}

	ref, err := e.attachBranches(g, sourceID)
	if err != nil {
		return "", err
	}

	padID := uuid.NewString()
	e.mu.Lock()
	e.pads[padID] = ref
	g.padIDs = append(g.padIDs, padID)
	e.mu.Unlock()
	return padID, nil
}

// SetPadProperties commits one property batch on the pad. The compositor
// picks pad properties up at the next output frame aggregation, so the batch
// lands between frames as a unit.
func (e *Engine) SetPadProperties(padID string, p PadProps) error {
	e.mu.Lock()
	ref, ok := e.pads[padID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("gstgraph: unknown pad %s", padID)
	}

	if err := ref.video.SetProperty("xpos", p.X); err != nil {
		return fmt.Errorf("gstgraph: set xpos on %s: %w", ref.sourceID, err)
	}
	if err := ref.video.SetProperty("ypos", p.Y); err != nil {
		return fmt.Errorf("gstgraph: set ypos on %s: %w", ref.sourceID, err)
	}
	if err := ref.video.SetProperty("width", p.W); err != nil {
		return fmt.Errorf("gstgraph: set width on %s: %w", ref.sourceID, err)
	}
	if err := ref.video.SetProperty("height", p.H); err != nil {
		return fmt.Errorf("gstgraph: set height on %s: %w", ref.sourceID, err)
	}
	if err := ref.video.SetProperty("alpha", p.Alpha); err != nil {
		return fmt.Errorf("gstgraph: set alpha on %s: %w", ref.sourceID, err)
	}
	if err := ref.video.SetProperty("zorder", zorderFor(p.Z)); err != nil {
		return fmt.Errorf("gstgraph: set zorder on %s: %w", ref.sourceID, err)
	}
	if err := ref.audio.SetProperty("mute", p.Muted); err != nil {
		return fmt.Errorf("gstgraph: set mute on %s: %w", ref.sourceID, err)
	}
	return nil
}

// Preroll moves the pipeline to PAUSED and waits for it to become ready to
// produce its first frame, bounded by ctx.
func (e *Engine) Preroll(ctx context.Context, graphID string) error {
	e.mu.Lock()
	g, ok := e.graphs[graphID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("gstgraph: unknown graph %s", graphID)
	}

	if err := g.pipeline.SetState(gst.StatePaused); err != nil {
		return fmt.Errorf("gstgraph: failed to pause pipeline: %w", err)
	}

	bus := g.pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		default:
			// Poll with a short timeout so the preroll ceiling stays
			// responsive.
			msg := bus.TimedPop(50 * time.Millisecond)
			if msg == nil {
				continue
			}

			switch msg.Type() {
			case gst.MessageAsyncDone:
				return nil

			case gst.MessageStateChanged:
				// Live sources report NO_PREROLL and never post
				// async-done; the pipeline reaching PAUSED is the ready
				// signal then.
				if msg.Source() == g.pipeline.GetName() {
					_, newState := msg.ParseStateChanged()
					if newState == gst.StatePaused {
						return nil
					}
				}

			case gst.MessageError:
				gerr := msg.ParseError()
				return fmt.Errorf("gstgraph: preroll error: %s", gerr.Error())

			case gst.MessageEOS:
				return fmt.Errorf("gstgraph: unexpected EOS during preroll")
			}
		}
	}
}

// SwapActive starts the graph and routes output to it.
func (e *Engine) SwapActive(graphID string) error {
	e.mu.Lock()
	g, ok := e.graphs[graphID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("gstgraph: unknown graph %s", graphID)
	}

	if err := g.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("gstgraph: failed to start pipeline: %w", err)
	}
	e.mu.Lock()
	e.active = graphID
	e.mu.Unlock()
	return nil
}

// Teardown stops the graph and forgets it and all its pads.
func (e *Engine) Teardown(graphID string) error {
	e.mu.Lock()
	g, ok := e.graphs[graphID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("gstgraph: unknown graph %s", graphID)
	}
	delete(e.graphs, graphID)
	for _, padID := range g.padIDs {
		delete(e.pads, padID)
	}
	if e.active == graphID {
		e.active = ""
	}
	e.mu.Unlock()

	if err := g.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("gstgraph: failed to stop pipeline: %w", err)
	}
	return nil
}

// ActiveGraph returns the id of the graph currently routed to output.
func (e *Engine) ActiveGraph() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// zorderFor maps the controller's stacking order to the compositor's
// unsigned zorder: parked pads (-1) sit at 0, visible layers from 1 up.
func zorderFor(z int) uint {
	if z < 0 {
		return 0
	}
	return uint(z)
}
