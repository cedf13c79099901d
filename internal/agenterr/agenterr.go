// Package agenterr defines the typed error kinds the streaming agent
// raises: IOError, ProtocolError, ConfigError, NoCaptureAvailableError,
// and CaptureError (spec §7). Each except NoCaptureAvailableError wraps an
// underlying cause reachable through Unwrap, matching the wrapping idiom used throughout the
// reference repo's internal/capture and internal/window packages -- no
// error-values framework is introduced because the reference never
// reaches for one.
package agenterr

import "fmt"

// IOError wraps a failure reading or writing the stream device. Fatal on
// the control path; the capture loop demotes a write-path IOError to a
// return-to-IDLE instead of propagating it.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("io error during %s: %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// NewIOError builds an IOError for the given operation name.
func NewIOError(op string, err error) *IOError { return &IOError{Op: op, Err: err} }

// ProtocolError signals a malformed or unexpected wire message. Always
// fatal -- the stream has no delimiter to resynchronize against.
type ProtocolError struct {
	Kind string // e.g. "bad_version", "unknown_type", "malformed_start_stop", "oversize"
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("protocol error (%s)", e.Kind)
}
func (e *ProtocolError) Unwrap() error { return e.Err }

// NewProtocolError builds a ProtocolError of the given kind.
func NewProtocolError(kind string, err error) *ProtocolError {
	return &ProtocolError{Kind: kind, Err: err}
}

// ConfigError signals bad CLI usage or an invalid plugin option value.
// Fatal at startup.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config error: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("config error: %s", e.Msg)
}
func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError builds a ConfigError with a message and optional cause.
func NewConfigError(msg string, err error) *ConfigError {
	return &ConfigError{Msg: msg, Err: err}
}

// NoCaptureAvailableError signals that no registered plugin agreed to the
// client's codec set, or every selected plugin refused to construct a
// capture.
type NoCaptureAvailableError struct {
	Codecs []uint8
}

func (e *NoCaptureAvailableError) Error() string {
	return fmt.Sprintf("no capture available for client codecs %v", e.Codecs)
}

// CaptureError wraps a failure inside a capture provider. Surfaced as
// fatal; no partial frame is ever sent.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string { return fmt.Sprintf("capture error: %v", e.Err) }
func (e *CaptureError) Unwrap() error { return e.Err }

// NewCaptureError builds a CaptureError wrapping the given cause.
func NewCaptureError(err error) *CaptureError { return &CaptureError{Err: err} }

// Fatal reports whether err should unwind all the way to the supervisor
// rather than be recovered locally. The single recoverable case --
// write-path IOError -- is handled by the capture loop checking for
// *IOError itself before calling Fatal on anything else; Fatal always
// returns true here because every kind in this package is fatal by
// default except that one caller-local exception.
func Fatal(err error) bool {
	return err != nil
}
