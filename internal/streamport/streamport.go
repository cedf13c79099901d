// Package streamport owns the duplex byte device (a virtio-serial port on
// the guest) and provides the mutually-exclusive framed read/write
// primitives every other component builds on. Exactly one Port exists per
// process; it is opened once and lives until process exit -- no
// reconnection logic is attempted (spec §1 Non-goals).
package streamport

import (
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/spice-space/spice-streaming-agent/internal/agenterr"
)

// Port is a duplex byte device opened for non-blocking readiness checks
// but read with blocking reads once readiness is observed. readFile and
// writeFile are the same *os.File for a real virtio-serial port (opened
// O_RDWR); tests wire them to the two ends of a pipe pair instead, since
// a single os.Pipe fd is one-directional.
type Port struct {
	readFile  *os.File
	writeFile *os.File
	pollFd    int

	// writeMu guards the entire header+body of any outbound message, and
	// is also taken by readers so that a logical read (header then body)
	// is never interleaved with another reader on the same fd. Writes
	// never block on reads because the device is full-duplex; the mutex
	// exists purely to serialize message assembly (spec §4.1).
	writeMu sync.Mutex
}

// Open opens path for reading and writing. Failure is fatal to the caller
// (spec §4.7 step 4).
func Open(path string) (*Port, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, agenterr.NewIOError("open", err)
	}
	return &Port{readFile: f, writeFile: f, pollFd: int(f.Fd())}, nil
}

// NewForTest builds a Port over a single *os.File used for both ends,
// for tests that only exercise one direction at a time.
func NewForTest(f *os.File) *Port {
	return &Port{readFile: f, writeFile: f, pollFd: int(f.Fd())}
}

// NewDuplexForTest builds a Port reading from r and writing to w, for
// tests wiring together the two ends of a pair of os.Pipe pipes to
// simulate a duplex device.
func NewDuplexForTest(r, w *os.File) *Port {
	return &Port{readFile: r, writeFile: w, pollFd: int(r.Fd())}
}

// Close releases the underlying file descriptor(s).
func (p *Port) Close() error {
	if p.readFile == p.writeFile {
		return p.readFile.Close()
	}
	err := p.readFile.Close()
	if werr := p.writeFile.Close(); err == nil {
		err = werr
	}
	return err
}

// Lock acquires the write mutex for the duration of one logical message
// (header + body). Callers must pair every Lock with Unlock.
func (p *Port) Lock() { p.writeMu.Lock() }

// Unlock releases the write mutex acquired by Lock.
func (p *Port) Unlock() { p.writeMu.Unlock() }

// ReadExact reads exactly len(buf) bytes. A short read or any underlying
// failure is a fatal protocol error -- no resync is attempted, matching
// the reference's read() wrapper which throws on any partial read.
func (p *Port) ReadExact(buf []byte) error {
	n, err := io.ReadFull(p.readFile, buf)
	if err != nil {
		return agenterr.NewIOError("read", err)
	}
	if n != len(buf) {
		return agenterr.NewIOError("read", io.ErrShortBuffer)
	}
	return nil
}

// WriteAll writes buf in its entirety. Callers that need atomicity across
// a header+body pair must hold Lock/Unlock around both WriteAll calls
// themselves; WriteAll itself does not take the mutex so that a single
// lock hold can cover multiple writes (e.g. Data header then payload)
// without copying the payload into one buffer.
func (p *Port) WriteAll(buf []byte) error {
	n, err := p.writeFile.Write(buf)
	if err != nil {
		return agenterr.NewIOError("write", err)
	}
	if n != len(buf) {
		return agenterr.NewIOError("write", io.ErrShortWrite)
	}
	return nil
}

// PollReadable reports whether at least one byte is ready to read. If
// blocking is false it returns immediately. On interruption by a signal
// it returns (false, nil) rather than an error, so callers can recheck a
// quit flag and retry (spec §4.1, §4.3).
func (p *Port) PollReadable(blocking bool) (bool, error) {
	timeout := 0
	if blocking {
		timeout = -1
	}
	fds := []unix.PollFd{{Fd: int32(p.pollFd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, timeout)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, agenterr.NewIOError("poll", err)
	}
	if n > 0 && fds[0].Revents&unix.POLLIN != 0 {
		return true, nil
	}
	return false, nil
}
