package session

import (
	"errors"
	"os"
	"testing"

	"github.com/spice-space/spice-streaming-agent/internal/agenterr"
	"github.com/spice-space/spice-streaming-agent/internal/streamport"
)

func TestReaderCapabilitiesEcho(t *testing.T) {
	_, readerPort, replyDest := capabilitiesFixture(t)

	state := NewState()
	reader := NewReader(readerPort, state)

	if err := reader.ReadCommand(false); err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}

	reply := make([]byte, 8)
	if _, err := replyDest.Read(reply); err != nil {
		t.Fatalf("reading reply: %v", err)
	}
	want := []byte{0x01, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}
	for i := range want {
		if reply[i] != want[i] {
			t.Fatalf("reply = % X, want % X", reply, want)
		}
	}
}

// capabilitiesFixture builds a duplex pipe pair so the reader's outbound
// reply can be observed: inboundW feeds the reader's read side, and the
// reader's write side is read back via replyR.
func capabilitiesFixture(t *testing.T) (inboundW *os.File, readerPort *streamport.Port, replyR *os.File) {
	t.Helper()
	inR, inW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	t.Cleanup(func() {
		inR.Close()
		inW.Close()
		outR.Close()
		outW.Close()
	})

	msg := []byte{0x01, 0x00, 0x01, 0x00, 0x04, 0x00, 0x00, 0x00, 0xDE, 0xAD, 0xBE, 0xEF}
	go inW.Write(msg)

	port := streamport.NewDuplexForTest(inR, outW)
	return inW, port, outR
}

func TestReaderStartStopSetsState(t *testing.T) {
	body := []byte{0x01, 0x00, 0x03, 0x00, 0x03, 0x00, 0x00, 0x00, 0x02, 0x01, 0x03}
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	go w.Write(body)

	port := streamport.NewForTest(r)
	state := NewState()
	reader := NewReader(port, state)

	if err := reader.ReadCommand(true); err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}

	if !state.StreamingRequested() {
		t.Fatal("expected streaming requested after StartStop with num_codecs=2")
	}
	if !state.AcceptsCodec(1) || !state.AcceptsCodec(3) {
		t.Fatalf("expected codecs {1,3}, got %v", state.ClientCodecs())
	}
}

func TestReaderStopClearsStreaming(t *testing.T) {
	body := []byte{0x01, 0x00, 0x03, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00}
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	go w.Write(body)

	port := streamport.NewForTest(r)
	state := NewState()
	state.ApplyStartStop([]uint8{1})
	reader := NewReader(port, state)

	if err := reader.ReadCommand(true); err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	if state.StreamingRequested() {
		t.Fatal("expected streaming stopped after num_codecs=0")
	}
}

func TestReaderUnknownTypeIsProtocolError(t *testing.T) {
	body := []byte{0x01, 0x00, 0x99, 0x00, 0x00, 0x00, 0x00, 0x00}
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()
	go w.Write(body)

	port := streamport.NewForTest(r)
	state := NewState()
	reader := NewReader(port, state)

	err = reader.ReadCommand(true)
	var pe *agenterr.ProtocolError
	if !errors.As(err, &pe) || pe.Kind != "unknown_type" {
		t.Fatalf("expected ProtocolError(unknown_type), got %v", err)
	}
	if !state.QuitRequested() {
		t.Fatal("expected quit requested after unknown-type ProtocolError")
	}
}
