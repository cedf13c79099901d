// Package mjpegplugin implements the built-in, always-registered
// fallback codec plugin: it grabs the X11 root window and JPEG-encodes
// it (spec §4.4 "built-in MJPEG plugin always registered"). It is the
// universal capture provider, required any time no other plugin accepts
// the client's codec set.
package mjpegplugin

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"strconv"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/spice-space/spice-streaming-agent/internal/logger"
	"github.com/spice-space/spice-streaming-agent/internal/plugin"
)

// VideoCodecMJPEG is this plugin's codec id (spec §3 "codec id").
const VideoCodecMJPEG uint8 = 1

// Settings mirrors the reference MjpegSettings{fps, quality} default
// {10, 80}.
type Settings struct {
	FPS     int
	Quality int
}

// DefaultSettings matches the reference plugin's defaults.
func DefaultSettings() Settings {
	return Settings{FPS: 10, Quality: 80}
}

// Plugin is the MJPEG fallback capability record.
type Plugin struct {
	settings Settings
}

// New returns an MJPEG plugin with the reference's default settings.
func New() *Plugin {
	return &Plugin{settings: DefaultSettings()}
}

func (p *Plugin) Rank() uint            { return 10 }
func (p *Plugin) VideoCodecType() uint8 { return VideoCodecMJPEG }
func (p *Plugin) Name() string          { return "mjpeg" }

// ParseOptions recognizes "framerate" (1-100) and "quality" (1-100);
// unrecognized keys are ignored (spec §4.4). Invalid values within a
// recognized key are a ConfigError at parse time.
func (p *Plugin) ParseOptions(options map[string]string) error {
	if v, ok := options["framerate"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return fmt.Errorf("mjpeg: invalid framerate %q (want 1-100)", v)
		}
		p.settings.FPS = n
	}
	if v, ok := options["quality"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return fmt.Errorf("mjpeg: invalid quality %q (want 1-100)", v)
		}
		p.settings.Quality = n
	}
	return nil
}

// CreateCapture opens an X11 connection and returns a Capture grabbing
// the root window on demand. Never fatal: if no X server is reachable,
// it returns (nil, nil) so the registry falls back to the next plugin
// (spec §4.4 step 3).
func (p *Plugin) CreateCapture() (plugin.Capture, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		logger.WithComponent("mjpeg").Warn().Err(err).Msg("no X server reachable, declining capture")
		return nil, nil
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	return &capture{
		conn:     conn,
		root:     screen.Root,
		depth:    screen.RootDepth,
		quality:  p.settings.Quality,
		first:    true,
		lastSize: image.Point{},
	}, nil
}

type capture struct {
	conn     *xgb.Conn
	root     xproto.Window
	depth    byte
	quality  int
	first    bool
	lastSize image.Point
}

func (c *capture) VideoCodecType() uint8 { return VideoCodecMJPEG }

func (c *capture) Close() error {
	c.conn.Close()
	return nil
}

// CaptureFrame grabs the root window via GetImage, converts it to RGBA,
// and JPEG-encodes the result. stream_start is set on the first frame of
// this capture's lifetime and whenever the screen geometry changes
// (spec §3 FrameInfo).
func (c *capture) CaptureFrame() (plugin.FrameInfo, error) {
	geom, err := xproto.GetGeometry(c.conn, xproto.Drawable(c.root)).Reply()
	if err != nil {
		return plugin.FrameInfo{}, fmt.Errorf("mjpeg: GetGeometry: %w", err)
	}

	reply, err := xproto.GetImage(
		c.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(c.root),
		0, 0,
		geom.Width, geom.Height,
		0xffffffff,
	).Reply()
	if err != nil {
		return plugin.FrameInfo{}, fmt.Errorf("mjpeg: GetImage: %w", err)
	}

	img := convertImageData(reply.Data, int(geom.Width), int(geom.Height), c.depth)

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return plugin.FrameInfo{}, fmt.Errorf("mjpeg: jpeg encode: %w", err)
	}

	size := image.Point{X: int(geom.Width), Y: int(geom.Height)}
	streamStart := c.first || size != c.lastSize
	c.first = false
	c.lastSize = size

	return plugin.FrameInfo{
		Buffer:      buf.Bytes(),
		Width:       uint32(geom.Width),
		Height:      uint32(geom.Height),
		StreamStart: streamStart,
	}, nil
}

// convertImageData converts a ZPixmap reply's BGRA/BGRX bytes to RGBA,
// the same conversion the reference X11 capturer performs.
func convertImageData(data []byte, width, height int, depth byte) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	if depth != 24 && depth != 32 {
		return img
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * 4
			if i+3 < len(data) {
				img.Set(x, y, color.RGBA{
					R: data[i+2],
					G: data[i+1],
					B: data[i],
					A: 255,
				})
			}
		}
	}
	return img
}
