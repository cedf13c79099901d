package plugin

import (
	"testing"

	"github.com/spice-space/spice-streaming-agent/internal/agenterr"
)

type fakePlugin struct {
	name    string
	rank    uint
	codec   uint8
	decline bool
}

func (f *fakePlugin) CreateCapture() (Capture, error) {
	if f.decline {
		return nil, nil
	}
	return &fakeCapture{name: f.name, codec: f.codec}, nil
}
func (f *fakePlugin) Rank() uint                               { return f.rank }
func (f *fakePlugin) ParseOptions(map[string]string) error     { return nil }
func (f *fakePlugin) VideoCodecType() uint8                    { return f.codec }
func (f *fakePlugin) Name() string                             { return f.name }

type fakeCapture struct {
	name  string
	codec uint8
}

func (c *fakeCapture) CaptureFrame() (FrameInfo, error) { return FrameInfo{}, nil }
func (c *fakeCapture) VideoCodecType() uint8            { return c.codec }
func (c *fakeCapture) Close() error                     { return nil }

func TestSelectHighestRankWins(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakePlugin{name: "mjpeg", rank: 10, codec: 1})
	r.Register(&fakePlugin{name: "gst", rank: 50, codec: 1})

	cap, err := r.Select([]uint8{1})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if cap.VideoCodecType() != 1 {
		t.Fatalf("unexpected codec %d", cap.VideoCodecType())
	}
	if name := cap.(*fakeCapture).name; name != "gst" {
		t.Fatalf("selected %q, want the rank-50 plugin gst", name)
	}
}

func TestSelectFiltersByAcceptedCodecs(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakePlugin{name: "mjpeg", rank: 10, codec: 1})
	r.Register(&fakePlugin{name: "h264", rank: 50, codec: 2})

	cap, err := r.Select([]uint8{1})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if cap.VideoCodecType() != 1 {
		t.Fatalf("expected codec 1 (only accepted), got %d", cap.VideoCodecType())
	}
}

func TestSelectFallsBackOnDecline(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakePlugin{name: "mjpeg", rank: 10, codec: 1})
	r.Register(&fakePlugin{name: "gst", rank: 50, codec: 1, decline: true})

	cap, err := r.Select([]uint8{1})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if cap == nil {
		t.Fatal("expected fallback plugin to be selected")
	}
}

func TestSelectNoCaptureAvailable(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakePlugin{name: "mjpeg", rank: 10, codec: 1})

	_, err := r.Select([]uint8{99})
	if _, ok := err.(*agenterr.NoCaptureAvailableError); !ok {
		t.Fatalf("expected *NoCaptureAvailableError, got %T: %v", err, err)
	}
}

func TestSelectTieBrokenByRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakePlugin{name: "first", rank: 10, codec: 1})
	r.Register(&fakePlugin{name: "second", rank: 10, codec: 1})

	candidates := r.candidates(map[uint8]struct{}{1: {}})
	if candidates[0].Name() != "first" {
		t.Fatalf("expected 'first' to win tie, got %q", candidates[0].Name())
	}
}
