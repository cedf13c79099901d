// Package gstplugin implements a higher-ranked built-in codec plugin
// that encodes the display via a GStreamer pipeline to H.264 (spec §2
// "JPEG/GStreamer encoding", §4.10). It is preferred over the MJPEG
// fallback whenever the remote client accepts its codec, but never
// fatal: if GStreamer cannot be initialized (missing runtime libraries),
// CreateCapture declines so the registry falls back to MJPEG.
package gstplugin

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/spice-space/spice-streaming-agent/internal/logger"
	"github.com/spice-space/spice-streaming-agent/internal/plugin"
)

// VideoCodecH264 is this plugin's codec id.
const VideoCodecH264 uint8 = 2

// Settings holds the operator-configurable pipeline parameters.
type Settings struct {
	BitrateKbps int
	Pipeline    string // override the whole pipeline description
}

// DefaultSettings picks a conservative default bitrate and the standard
// X11-grab-to-H.264 pipeline shape used by the reference GStreamer
// capture path.
func DefaultSettings() Settings {
	return Settings{BitrateKbps: 2000}
}

// Plugin is the GStreamer-backed codec capability record.
type Plugin struct {
	mu       sync.Mutex
	settings Settings
}

// New returns a GStreamer plugin with default settings.
func New() *Plugin {
	return &Plugin{settings: DefaultSettings()}
}

func (p *Plugin) Rank() uint            { return 50 }
func (p *Plugin) VideoCodecType() uint8 { return VideoCodecH264 }
func (p *Plugin) Name() string          { return "gstreamer" }

// ParseOptions recognizes "bitrate" (kbps) and "pipeline" (a full
// gst-launch-style description overriding the built-in one).
func (p *Plugin) ParseOptions(options map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := options["bitrate"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("gstreamer: invalid bitrate %q", v)
		}
		p.settings.BitrateKbps = n
	}
	if v, ok := options["pipeline"]; ok {
		p.settings.Pipeline = v
	}
	return nil
}

func (p *Plugin) pipelineString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settings.Pipeline != "" {
		return p.settings.Pipeline
	}
	return fmt.Sprintf(
		"ximagesrc use-damage=0 ! videoconvert ! "+
			"x264enc tune=zerolatency bitrate=%d speed-preset=ultrafast ! "+
			"video/x-h264,stream-format=byte-stream ! "+
			"appsink name=sink emit-signals=false max-buffers=2 drop=true",
		p.settings.BitrateKbps,
	)
}

// CreateCapture builds and starts the GStreamer pipeline. If gst.Init or
// pipeline construction fails -- typically because the runtime GStreamer
// libraries or the x264enc plugin aren't installed -- it returns
// (nil, nil) rather than an error, per the registry's fallback contract
// (spec §4.4 step 3).
func (p *Plugin) CreateCapture() (plugin.Capture, error) {
	log := logger.WithComponent("gstreamer-plugin")

	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("gstreamer init panicked, declining capture")
		}
	}()

	gst.Init(nil)

	pipelineStr := p.pipelineString()
	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		log.Warn().Err(err).Str("pipeline", pipelineStr).Msg("failed to build pipeline, declining capture")
		return nil, nil
	}

	sinkElement, err := pipeline.GetElementByName("sink")
	if err != nil {
		log.Warn().Err(err).Msg("failed to get appsink, declining capture")
		return nil, nil
	}
	sink := app.SinkFromElement(sinkElement)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		log.Warn().Err(err).Msg("failed to start pipeline, declining capture")
		return nil, nil
	}

	return &capture{pipeline: pipeline, sink: sink, first: true}, nil
}

type capture struct {
	pipeline *gst.Pipeline
	sink     *app.Sink
	mu       sync.Mutex
	first    bool
	lastW    int
	lastH    int
}

func (c *capture) VideoCodecType() uint8 { return VideoCodecH264 }

func (c *capture) Close() error {
	c.pipeline.SetState(gst.StateNull)
	c.pipeline.Unref()
	return nil
}

// CaptureFrame polls the appsink for the next encoded sample. The real
// time bound is provider-defined (spec §4.5 step 1): it blocks up to a
// short timeout and retries, since GStreamer delivers samples
// asynchronously from its own streaming thread.
func (c *capture) CaptureFrame() (plugin.FrameInfo, error) {
	for {
		sample := c.sink.TryPullSample(50 * time.Millisecond)
		if sample == nil {
			continue
		}

		buffer := sample.GetBuffer()
		if buffer == nil {
			continue
		}
		mapInfo := buffer.Map(gst.MapRead)
		if mapInfo == nil {
			continue
		}
		data := append([]byte(nil), mapInfo.Bytes()...)
		buffer.Unmap()

		width, height := c.frameSize(sample)

		c.mu.Lock()
		streamStart := c.first || width != c.lastW || height != c.lastH
		c.first = false
		c.lastW, c.lastH = width, height
		c.mu.Unlock()

		return plugin.FrameInfo{
			Buffer:      data,
			Width:       uint32(width),
			Height:      uint32(height),
			StreamStart: streamStart,
		}, nil
	}
}

func (c *capture) frameSize(sample *gst.Sample) (width, height int) {
	caps := sample.GetCaps()
	if caps == nil {
		return 0, 0
	}
	structure := caps.GetStructureAt(0)
	if structure == nil {
		return 0, 0
	}
	if w, err := structure.GetValue("width"); err == nil {
		if wi, ok := w.(int); ok {
			width = wi
		}
	}
	if h, err := structure.GetValue("height"); err == nil {
		if hi, ok := h.(int); ok {
			height = hi
		}
	}
	return width, height
}
