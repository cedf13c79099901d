package capture

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/spice-space/spice-streaming-agent/internal/plugin"
	"github.com/spice-space/spice-streaming-agent/internal/session"
	"github.com/spice-space/spice-streaming-agent/internal/streamport"
	"github.com/spice-space/spice-streaming-agent/internal/wire"
)

type scriptedPlugin struct {
	codec  uint8
	frames []plugin.FrameInfo
	idx    int
}

func (p *scriptedPlugin) CreateCapture() (plugin.Capture, error) {
	return &scriptedCapture{plugin: p}, nil
}
func (p *scriptedPlugin) Rank() uint                           { return 10 }
func (p *scriptedPlugin) ParseOptions(map[string]string) error { return nil }
func (p *scriptedPlugin) VideoCodecType() uint8                { return p.codec }
func (p *scriptedPlugin) Name() string                         { return "scripted" }

type scriptedCapture struct{ plugin *scriptedPlugin }

func (c *scriptedCapture) CaptureFrame() (plugin.FrameInfo, error) {
	p := c.plugin
	f := p.frames[p.idx%len(p.frames)]
	p.idx++
	return f, nil
}
func (c *scriptedCapture) VideoCodecType() uint8 { return c.plugin.codec }
func (c *scriptedCapture) Close() error          { return nil }

// duplexPipe builds two Ports that can talk to each other: portA writes
// are read by portB, and vice versa.
func duplexPipe(t *testing.T) (a, b *streamport.Port) {
	t.Helper()
	r1, w1, err := os.Pipe() // a -> b
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	r2, w2, err := os.Pipe() // b -> a
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	t.Cleanup(func() {
		r1.Close()
		w1.Close()
		r2.Close()
		w2.Close()
	})
	return streamport.NewDuplexForTest(r2, w1), streamport.NewDuplexForTest(r1, w2)
}

func TestLoopEmitsFormatThenData(t *testing.T) {
	agentPort, testPort := duplexPipe(t)

	state := session.NewState()
	state.ApplyStartStop([]uint8{1})

	registry := plugin.NewRegistry()
	registry.Register(&scriptedPlugin{codec: 1, frames: []plugin.FrameInfo{
		{Buffer: []byte("abc"), Width: 64, Height: 48, StreamStart: true},
	}})

	reader := session.NewReader(agentPort, state)
	loop := New(agentPort, state, reader, registry, noopLog{})

	done := make(chan error, 1)
	go func() {
		done <- loop.captureSession()
	}()

	// Format header + body.
	var fmtHdr [wire.HeaderSize]byte
	if err := testPort.ReadExact(fmtHdr[:]); err != nil {
		t.Fatalf("reading format header: %v", err)
	}
	hdr, err := wire.DecodeHeader(fmtHdr[:])
	if err != nil || hdr.Type != wire.TypeFormat {
		t.Fatalf("expected Format header, got %+v err=%v", hdr, err)
	}
	fmtBody := make([]byte, hdr.Size)
	if err := testPort.ReadExact(fmtBody); err != nil {
		t.Fatalf("reading format body: %v", err)
	}

	// Data header + body.
	var dataHdr [wire.HeaderSize]byte
	if err := testPort.ReadExact(dataHdr[:]); err != nil {
		t.Fatalf("reading data header: %v", err)
	}
	dhdr, err := wire.DecodeHeader(dataHdr[:])
	if err != nil || dhdr.Type != wire.TypeData || dhdr.Size != 3 {
		t.Fatalf("expected Data header size 3, got %+v err=%v", dhdr, err)
	}
	dataBody := make([]byte, dhdr.Size)
	if err := testPort.ReadExact(dataBody); err != nil {
		t.Fatalf("reading data body: %v", err)
	}
	if string(dataBody) != "abc" {
		t.Fatalf("data body = %q, want %q", dataBody, "abc")
	}

	// Stop streaming so captureSession returns; feed a StartStop(0).
	stopHdr := wire.EncodeHeader(wire.TypeStartStop, 1)
	stop := append(append([]byte(nil), stopHdr[:]...), 0x00)
	if err := testPort.WriteAll(stop); err != nil {
		t.Fatalf("writing stop: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("captureSession: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("captureSession did not return after stop")
	}
}

type noopLog struct{}

func (noopLog) Stat(string, ...interface{}) {}
func (noopLog) Frame([]byte)                {}
func (noopLog) Close() error                { return nil }

var _ io.Closer = noopLog{}
