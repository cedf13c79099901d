// Package session holds the single process-global session record (spec
// §3 Session state) and the control reader (C3) that mutates it. There is
// exactly one device and one session per process, so a shared record
// guarded by a small mutex -- rather than per-request plumbing -- is the
// right shape here (spec §9 Design notes).
package session

import "sync"

// State is the shared record. Its session fields are mutated only by the
// control reader and the session supervisor, and read by the capture loop
// and the diagnostics snapshot; the capture loop also records the frame
// counters and last error that the snapshot reports.
type State struct {
	mu                  sync.Mutex
	streamingRequested  bool
	clientCodecs        map[uint8]struct{}
	quitRequested       bool
	framesSent          uint64
	bytesSent           uint64
	lastError           string
}

// NewState returns a freshly initialized State: streaming off, no codecs,
// not quitting.
func NewState() *State {
	return &State{clientCodecs: make(map[uint8]struct{})}
}

// ApplyStartStop implements the StartStop side effects (spec §3):
// streaming_requested := (num_codecs != 0); client_codecs replaced with
// the listed codec ids, duplicates coalesced by the set.
func (s *State) ApplyStartStop(codecs []uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientCodecs = make(map[uint8]struct{}, len(codecs))
	for _, c := range codecs {
		s.clientCodecs[c] = struct{}{}
	}
	s.streamingRequested = len(codecs) != 0
}

// StreamingRequested reports the current streaming toggle.
func (s *State) StreamingRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamingRequested
}

// ClientCodecs returns a snapshot of the accepted codec set.
func (s *State) ClientCodecs() []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint8, 0, len(s.clientCodecs))
	for c := range s.clientCodecs {
		out = append(out, c)
	}
	return out
}

// AcceptsCodec reports whether codec id c is in the current client-codec
// set.
func (s *State) AcceptsCodec(c uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.clientCodecs[c]
	return ok
}

// RequestQuit sets quit_requested. Monotonic: once true, never reset.
// Safe to call from a signal handler.
func (s *State) RequestQuit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quitRequested = true
}

// QuitRequested reports whether quit has been requested.
func (s *State) QuitRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quitRequested
}

// RecordFrameSent updates the frame/byte counters the diagnostics
// snapshot reports.
func (s *State) RecordFrameSent(bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.framesSent++
	s.bytesSent += uint64(bytes)
}

// RecordError stashes the last error message surfaced for diagnostics.
func (s *State) RecordError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = msg
}

// Snapshot is an immutable, lock-free-to-read copy of State for the
// diagnostics server (spec §3 Diagnostics snapshot).
type Snapshot struct {
	Streaming  bool
	Codecs     []uint8
	FramesSent uint64
	BytesSent  uint64
	LastError  string
}

// Snapshot copies the current state out under the lock.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	codecs := make([]uint8, 0, len(s.clientCodecs))
	for c := range s.clientCodecs {
		codecs = append(codecs, c)
	}
	return Snapshot{
		Streaming:  s.streamingRequested,
		Codecs:     codecs,
		FramesSent: s.framesSent,
		BytesSent:  s.bytesSent,
		LastError:  s.lastError,
	}
}
