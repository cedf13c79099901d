// Package framelog implements the diagnostic frame-log sink: an
// append-only, format-unstable dump of capture timing and (optionally)
// raw frame bytes, external to the protocol core (spec §1, §6 Persisted
// state). It exists only for operator debugging; nothing in the core
// reads it back.
package framelog

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"
)

// Log is the interface the capture loop writes diagnostics through.
type Log interface {
	// Stat appends a formatted timestamped status line, if the "frames"
	// category is enabled.
	Stat(format string, args ...interface{})
	// Frame appends raw frame bytes, if both binary logging and the
	// "frames" category are enabled.
	Frame(buf []byte)
	// Close flushes and closes the underlying file, if any.
	Close() error
}

// Options configures a file-backed Log (spec §6 CLI surface: -l,
// --log-binary, --log-categories).
type Options struct {
	Path       string
	LogBinary  bool
	LogFrames  bool // "frames" category enabled
}

// fileLog is the concrete, minimal implementation: plain buffered
// appends, no compression, no format stability guarantee.
type fileLog struct {
	mu        sync.Mutex
	w         *bufio.Writer
	f         *os.File
	logBinary bool
	logFrames bool
}

// New opens (or no-ops, if path is empty) the frame log described by
// opts.
func New(opts Options) (Log, error) {
	if opts.Path == "" {
		return noopLog{}, nil
	}
	f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("framelog: open %s: %w", opts.Path, err)
	}
	return &fileLog{
		w:         bufio.NewWriter(f),
		f:         f,
		logBinary: opts.LogBinary,
		logFrames: opts.LogFrames,
	}, nil
}

func (l *fileLog) Stat(format string, args ...interface{}) {
	if !l.logFrames {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "[%s] %s\n", time.Now().Format(time.RFC3339Nano), fmt.Sprintf(format, args...))
}

func (l *fileLog) Frame(buf []byte) {
	if !l.logFrames || !l.logBinary {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(buf)
}

func (l *fileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}

// noopLog discards everything; used when no -l path is configured.
type noopLog struct{}

func (noopLog) Stat(string, ...interface{}) {}
func (noopLog) Frame([]byte)                {}
func (noopLog) Close() error                { return nil }
