// Package capture implements the capture loop (C5): the IDLE/CAPTURING
// state machine that drives a selected plugin's capture provider,
// emitting Format+Data messages and draining control between frames.
package capture

import (
	"github.com/spice-space/spice-streaming-agent/internal/agenterr"
	"github.com/spice-space/spice-streaming-agent/internal/framelog"
	"github.com/spice-space/spice-streaming-agent/internal/logger"
	"github.com/spice-space/spice-streaming-agent/internal/plugin"
	"github.com/spice-space/spice-streaming-agent/internal/session"
	"github.com/spice-space/spice-streaming-agent/internal/streamport"
	"github.com/spice-space/spice-streaming-agent/internal/wire"
)

// Loop drives the IDLE/CAPTURING state machine described in spec §4.5.
type Loop struct {
	port     *streamport.Port
	state    *session.State
	reader   *session.Reader
	registry *plugin.Registry
	log      framelog.Log
}

// New builds a capture loop wired to the shared port, session state,
// control reader, and plugin registry.
func New(port *streamport.Port, state *session.State, reader *session.Reader, registry *plugin.Registry, log framelog.Log) *Loop {
	return &Loop{port: port, state: state, reader: reader, registry: registry, log: log}
}

// Run executes the full loop until quit is requested (spec §4.5's state
// diagram: IDLE <-> CAPTURING, both -> TERMINATED on quit_requested).
func (l *Loop) Run() error {
	logr := logger.WithComponent("capture")
	for !l.state.QuitRequested() {
		for !l.state.QuitRequested() && !l.state.StreamingRequested() {
			if err := l.reader.ReadCommand(true); err != nil {
				return err
			}
		}
		if l.state.QuitRequested() {
			return nil
		}

		logr.Info().Msg("streaming starts now")
		if err := l.captureSession(); err != nil {
			return err
		}
	}
	return nil
}

// captureSession runs one CAPTURING episode: selects a capture provider
// for the client's accepted codecs and emits frames until streaming is
// toggled off or quit is requested.
func (l *Loop) captureSession() error {
	logr := logger.WithComponent("capture")

	cap, err := l.registry.Select(l.state.ClientCodecs())
	if err != nil {
		return err
	}
	defer cap.Close()

	frameCount := 0
	for !l.state.QuitRequested() && l.state.StreamingRequested() {
		frameCount++

		frame, err := cap.CaptureFrame()
		if err != nil {
			return agenterr.NewCaptureError(err)
		}

		l.log.Stat("frame %d captured (%d bytes)", frameCount, len(frame.Buffer))
		l.log.Frame(frame.Buffer)

		if err := l.emitFrame(cap.VideoCodecType(), frame); err != nil {
			if ioErr, ok := err.(*agenterr.IOError); ok {
				// Write-path IOError: demote to IDLE, keep the process
				// alive (spec §4.5, §7).
				logr.Error().Err(ioErr).Msg("write failed on data path, returning to IDLE")
				l.state.RecordError(ioErr.Error())
				return nil
			}
			if agenterr.Fatal(err) {
				return err
			}
			logr.Error().Err(err).Msg("recoverable error on data path, returning to IDLE")
			l.state.RecordError(err.Error())
			return nil
		}

		l.state.RecordFrameSent(len(frame.Buffer))
		l.log.Stat("frame %d sent", frameCount)

		if err := l.reader.ReadCommand(false); err != nil {
			return err
		}
	}
	return nil
}

// emitFrame sends Format (if stream_start) then Data, both under one
// write-mutex hold so Format always precedes its Data message atomically
// (spec invariant 5).
func (l *Loop) emitFrame(codec uint8, frame plugin.FrameInfo) error {
	l.port.Lock()
	defer l.port.Unlock()

	if frame.StreamStart {
		logger.WithComponent("capture").Debug().
			Uint32("width", frame.Width).Uint32("height", frame.Height).
			Uint8("codec", codec).Msg("sending format")
		buf := wire.EncodeFormat(frame.Width, frame.Height, codec)
		if err := l.port.WriteAll(buf); err != nil {
			return err
		}
	}

	hdr := wire.EncodeDataHeader(uint32(len(frame.Buffer)))
	if err := l.port.WriteAll(hdr[:]); err != nil {
		return err
	}
	return l.port.WriteAll(frame.Buffer)
}
