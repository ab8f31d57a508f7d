package scenemix

import (
	"context"
	"fmt"

	"github.com/visiona/scenemix/internal/gstgraph"
)

// GstConfig configures the GStreamer compositor backend.
type GstConfig struct {
	// CanvasWidth and CanvasHeight set the output canvas in pixels. They
	// must match the Mixer's canvas configuration.
	CanvasWidth  int
	CanvasHeight int

	// FrameRate is the output frame rate. Default 30.
	FrameRate int

	// VideoSink and AudioSink name the output sink elements. Defaults are
	// autovideosink and autoaudiosink; use "fakesink" for headless runs or
	// the inter sinks to hand output to a downstream transport pipeline.
	VideoSink string
	AudioSink string

	// OutputChannel names the inter channel used when the sinks are
	// intervideosink/interaudiosink. Default "program".
	OutputChannel string
}

// gstCompositor adapts the gstgraph engine to the Compositor interface.
type gstCompositor struct {
	engine *gstgraph.Engine
}

// NewGstCompositor creates the GStreamer-backed Compositor. Each source is
// consumed from the inter channel named after its source id ("<id>" video,
// "<id>-audio" audio); capture processes publish into those channels.
func NewGstCompositor(cfg GstConfig) (Compositor, error) {
	engine, err := gstgraph.New(gstgraph.Config{
		CanvasWidth:   cfg.CanvasWidth,
		CanvasHeight:  cfg.CanvasHeight,
		FrameRate:     cfg.FrameRate,
		VideoSink:     cfg.VideoSink,
		AudioSink:     cfg.AudioSink,
		OutputChannel: cfg.OutputChannel,
	})
	if err != nil {
		return nil, err
	}
	return &gstCompositor{engine: engine}, nil
}

func (g *gstCompositor) CreateGraph(ctx context.Context) (GraphID, error) {
	id, err := g.engine.CreateGraph(ctx)
	if err != nil {
		return "", err
	}
	return GraphID(id), nil
}

func (g *gstCompositor) AttachPad(graph GraphID, sourceID string) (PadID, error) {
	if sourceID == "" {
		return "", fmt.Errorf("scenemix: source id must not be empty")
	}
	id, err := g.engine.AttachPad(string(graph), sourceID)
	if err != nil {
		return "", err
	}
	return PadID(id), nil
}

func (g *gstCompositor) SetPadProperties(pad PadID, props PadProps) error {
	return g.engine.SetPadProperties(string(pad), gstgraph.PadProps{
		X:     props.X,
		Y:     props.Y,
		W:     props.W,
		H:     props.H,
		Alpha: props.Alpha,
		Z:     props.Z,
		Muted: props.Muted,
	})
}

func (g *gstCompositor) Preroll(ctx context.Context, graph GraphID) error {
	return g.engine.Preroll(ctx, string(graph))
}

func (g *gstCompositor) SwapActive(graph GraphID) error {
	return g.engine.SwapActive(string(graph))
}

func (g *gstCompositor) Teardown(graph GraphID) error {
	return g.engine.Teardown(string(graph))
}
