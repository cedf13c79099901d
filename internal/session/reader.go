package session

import (
	"bytes"
	"time"

	"github.com/spice-space/spice-streaming-agent/internal/agenterr"
	"github.com/spice-space/spice-streaming-agent/internal/logger"
	"github.com/spice-space/spice-streaming-agent/internal/streamport"
	"github.com/spice-space/spice-streaming-agent/internal/wire"
)

// Reader is the control reader (C3): it parses inbound messages, mutates
// State, and replies to Capabilities under the port's write mutex.
type Reader struct {
	port  *streamport.Port
	state *State
}

// NewReader builds a control reader bound to port and state.
func NewReader(port *streamport.Port, state *State) *Reader {
	return &Reader{port: port, state: state}
}

// ReadCommand waits for one inbound message and dispatches it. In
// blocking mode it loops: if the poll returns not-ready because of a
// signal, it sleeps one second and rechecks QuitRequested, bounding
// shutdown latency (spec §4.3, invariant 4). In non-blocking mode it
// returns immediately if nothing is pending.
func (r *Reader) ReadCommand(blocking bool) error {
	for !r.state.QuitRequested() {
		ready, err := r.port.PollReadable(blocking)
		if err != nil {
			return err
		}
		if ready {
			return r.readOne()
		}
		if !blocking {
			return nil
		}
		time.Sleep(1 * time.Second)
	}
	return nil
}

// readOne reads and dispatches exactly one header+body pair under the
// port's write mutex, so that a read is never interleaved with a write
// assembling its own header+body on the same fd.
func (r *Reader) readOne() error {
	r.port.Lock()
	defer r.port.Unlock()

	var hdrBuf [wire.HeaderSize]byte
	if err := r.port.ReadExact(hdrBuf[:]); err != nil {
		r.state.RequestQuit()
		return err
	}

	hdr, err := wire.DecodeHeader(hdrBuf[:])
	if err != nil {
		r.state.RequestQuit()
		return agenterr.NewProtocolError("bad_version", err)
	}

	switch hdr.Type {
	case wire.TypeCapabilities:
		return r.handleCapabilities(hdr.Size)
	case wire.TypeNotifyError:
		return r.handleNotifyError(hdr.Size)
	case wire.TypeStartStop:
		return r.handleStartStop(hdr.Size)
	default:
		r.state.RequestQuit()
		return agenterr.NewProtocolError("unknown_type", nil)
	}
}

func (r *Reader) handleCapabilities(size uint32) error {
	if size > wire.CapabilitiesMaxBytes {
		r.state.RequestQuit()
		return agenterr.NewProtocolError("oversize", nil)
	}
	body := make([]byte, size)
	if err := r.port.ReadExact(body); err != nil {
		r.state.RequestQuit()
		return err
	}
	reply := wire.EncodeCapabilitiesReply()
	if err := r.port.WriteAll(reply[:]); err != nil {
		r.state.RequestQuit()
		return err
	}
	return nil
}

func (r *Reader) handleNotifyError(size uint32) error {
	if size < wire.NotifyErrorCodeSize {
		r.state.RequestQuit()
		return agenterr.NewProtocolError("malformed_notify_error", nil)
	}

	cap := wire.NotifyErrorCodeSize + wire.NotifyErrorMaxTextBytes
	readLen := int(size)
	oversize := readLen > cap
	if oversize {
		readLen = cap
	}

	body := make([]byte, readLen)
	if err := r.port.ReadExact(body); err != nil {
		r.state.RequestQuit()
		return err
	}

	code, _ := wire.DecodeNotifyErrorCode(body)
	text := body[wire.NotifyErrorCodeSize:]
	if end := bytes.IndexByte(text, 0); end >= 0 {
		text = text[:end]
	}

	// Open question (spec §9): log the truncated message before failing
	// on oversize, matching the reference's null-terminate-then-syslog
	// order in handle_stream_error.
	logger.WithComponent("session").Error().
		Uint32("code", code).
		Str("message", string(text)).
		Msg("received NotifyError from host")

	if oversize {
		r.state.RequestQuit()
		return agenterr.NewProtocolError("oversize", nil)
	}
	return nil
}

func (r *Reader) handleStartStop(size uint32) error {
	body := make([]byte, size)
	if err := r.port.ReadExact(body); err != nil {
		r.state.RequestQuit()
		return err
	}

	numCodecs, codecs, err := wire.DecodeStartStop(body)
	if err != nil {
		r.state.RequestQuit()
		return agenterr.NewProtocolError("malformed_start_stop", err)
	}

	r.state.ApplyStartStop(codecs)

	logger.WithComponent("session").Info().
		Uint8("num_codecs", numCodecs).
		Bool("streaming", numCodecs != 0).
		Msg("start/stop request")
	return nil
}
