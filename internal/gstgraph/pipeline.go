package gstgraph

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
)

// buildGraph assembles one empty graph: compositor and audiomixer feeding
// the configured sinks, no source branches yet.
func (e *Engine) buildGraph() (*graph, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("gstgraph: failed to create pipeline: %w", err)
	}

	comp, err := gst.NewElement("compositor")
	if err != nil {
		return nil, fmt.Errorf("gstgraph: failed to create compositor: %w", err)
	}
	// 1 = black; the default checker pattern bleeds through wherever no
	// visible pad covers the canvas.
	if err := comp.SetProperty("background", 1); err != nil {
		return nil, fmt.Errorf("gstgraph: failed to set background: %w", err)
	}

	vconv, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("gstgraph: failed to create videoconvert: %w", err)
	}
	vcaps, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("gstgraph: failed to create capsfilter: %w", err)
	}
	caps := gst.NewCapsFromString(capsString(e.cfg.CanvasWidth, e.cfg.CanvasHeight, e.cfg.FrameRate))
	if err := vcaps.SetProperty("caps", caps); err != nil {
		return nil, fmt.Errorf("gstgraph: failed to set output caps: %w", err)
	}
	vsink, err := gst.NewElement(e.cfg.VideoSink)
	if err != nil {
		return nil, fmt.Errorf("gstgraph: failed to create video sink %q: %w", e.cfg.VideoSink, err)
	}
	if e.cfg.VideoSink == "intervideosink" {
		if err := vsink.SetProperty("channel", e.cfg.OutputChannel); err != nil {
			return nil, fmt.Errorf("gstgraph: failed to set output channel: %w", err)
		}
	}

	amix, err := gst.NewElement("audiomixer")
	if err != nil {
		return nil, fmt.Errorf("gstgraph: failed to create audiomixer: %w", err)
	}
	aconv, err := gst.NewElement("audioconvert")
	if err != nil {
		return nil, fmt.Errorf("gstgraph: failed to create audioconvert: %w", err)
	}
	ares, err := gst.NewElement("audioresample")
	if err != nil {
		return nil, fmt.Errorf("gstgraph: failed to create audioresample: %w", err)
	}
	asink, err := gst.NewElement(e.cfg.AudioSink)
	if err != nil {
		return nil, fmt.Errorf("gstgraph: failed to create audio sink %q: %w", e.cfg.AudioSink, err)
	}
	if e.cfg.AudioSink == "interaudiosink" {
		if err := asink.SetProperty("channel", e.cfg.OutputChannel+"-audio"); err != nil {
			return nil, fmt.Errorf("gstgraph: failed to set audio output channel: %w", err)
		}
	}

	if err := pipeline.AddMany(comp, vconv, vcaps, vsink, amix, aconv, ares, asink); err != nil {
		return nil, fmt.Errorf("gstgraph: failed to add elements: %w", err)
	}
	if err := gst.ElementLinkMany(comp, vconv, vcaps, vsink); err != nil {
		return nil, fmt.Errorf("gstgraph: failed to link video chain: %w", err)
	}
	if err := gst.ElementLinkMany(amix, aconv, ares, asink); err != nil {
		return nil, fmt.Errorf("gstgraph: failed to link audio chain: %w", err)
	}

	g := &graph{
		id:       uuid.NewString(),
		pipeline: pipeline,
		video:    comp,
		audio:    amix,
	}
	slog.Debug("gstgraph: graph created", "graph", g.id,
		"canvas", fmt.Sprintf("%dx%d", e.cfg.CanvasWidth, e.cfg.CanvasHeight))
	return g, nil
}

// attachBranches adds the video and audio source branches for sourceID and
// links them to fresh request pads on the graph's mixers. Sources publish
// into per-source inter channels, which keep producing (black frames,
// silence) while the real producer is away, so a graph prerolls even when a
// source is not live yet.
func (e *Engine) attachBranches(g *graph, sourceID string) (*padRef, error) {
	vsrc, err := gst.NewElement("intervideosrc")
	if err != nil {
		return nil, fmt.Errorf("gstgraph: failed to create intervideosrc: %w", err)
	}
	if err := vsrc.SetProperty("channel", sourceID); err != nil {
		return nil, fmt.Errorf("gstgraph: failed to set channel for %q: %w", sourceID, err)
	}
	vqueue, err := gst.NewElement("queue")
	if err != nil {
		return nil, fmt.Errorf("gstgraph: failed to create queue: %w", err)
	}
	vconv, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("gstgraph: failed to create videoconvert: %w", err)
	}
	vscale, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("gstgraph: failed to create videoscale: %w", err)
	}

	asrc, err := gst.NewElement("interaudiosrc")
	if err != nil {
		return nil, fmt.Errorf("gstgraph: failed to create interaudiosrc: %w", err)
	}
	if err := asrc.SetProperty("channel", sourceID+"-audio"); err != nil {
		return nil, fmt.Errorf("gstgraph: failed to set audio channel for %q: %w", sourceID, err)
	}
	aqueue, err := gst.NewElement("queue")
	if err != nil {
		return nil, fmt.Errorf("gstgraph: failed to create queue: %w", err)
	}
	aconv, err := gst.NewElement("audioconvert")
	if err != nil {
		return nil, fmt.Errorf("gstgraph: failed to create audioconvert: %w", err)
	}
	ares, err := gst.NewElement("audioresample")
	if err != nil {
		return nil, fmt.Errorf("gstgraph: failed to create audioresample: %w", err)
	}

	if err := g.pipeline.AddMany(vsrc, vqueue, vconv, vscale, asrc, aqueue, aconv, ares); err != nil {
		return nil, fmt.Errorf("gstgraph: failed to add source branch for %q: %w", sourceID, err)
	}
	if err := gst.ElementLinkMany(vsrc, vqueue, vconv, vscale); err != nil {
		return nil, fmt.Errorf("gstgraph: failed to link video branch for %q: %w", sourceID, err)
	}
	if err := gst.ElementLinkMany(asrc, aqueue, aconv, ares); err != nil {
		return nil, fmt.Errorf("gstgraph: failed to link audio branch for %q: %w", sourceID, err)
	}

	vpad := g.video.GetRequestPad("sink_%u")
	if vpad == nil {
		return nil, fmt.Errorf("gstgraph: compositor refused a pad for %q", sourceID)
	}
	if ret := vscale.GetStaticPad("src").Link(vpad); ret != gst.PadLinkOK {
		return nil, fmt.Errorf("gstgraph: video pad link for %q returned %v", sourceID, ret)
	}
	apad := g.audio.GetRequestPad("sink_%u")
	if apad == nil {
		return nil, fmt.Errorf("gstgraph: audiomixer refused a pad for %q", sourceID)
	}
	if ret := ares.GetStaticPad("src").Link(apad); ret != gst.PadLinkOK {
		return nil, fmt.Errorf("gstgraph: audio pad link for %q returned %v", sourceID, ret)
	}

	// Park the pad until a scene references it.
	if err := vpad.SetProperty("alpha", 0.0); err != nil {
		return nil, fmt.Errorf("gstgraph: failed to park pad for %q: %w", sourceID, err)
	}
	if err := vpad.SetProperty("zorder", uint(0)); err != nil {
		return nil, fmt.Errorf("gstgraph: failed to park pad for %q: %w", sourceID, err)
	}
	if err := apad.SetProperty("mute", true); err != nil {
		return nil, fmt.Errorf("gstgraph: failed to mute pad for %q: %w", sourceID, err)
	}

	slog.Debug("gstgraph: source branch attached", "graph", g.id, "source", sourceID)
	return &padRef{
		graphID:  g.id,
		sourceID: sourceID,
		video:    vpad,
		audio:    apad,
	}, nil
}

func capsString(width, height, fps int) string {
	return fmt.Sprintf("video/x-raw,width=%d,height=%d,framerate=%d/1", width, height, fps)
}
