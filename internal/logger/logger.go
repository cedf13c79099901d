// Package logger configures the process-wide zerolog logger every
// component of the streaming agent writes through via WithComponent, so
// every log line (control reader, capture loop, cursor updater,
// diagnostics server) carries a consistent "service"/"component" shape
// for the operator to filter on.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// serviceName tags every log line so agent output is identifiable when
// captured alongside other guest services in a shared journal.
const serviceName = "spice-streaming-agent"

// base is the process-wide logger, reconfigured by Init once the CLI
// flags are known. Package init sets a sane pre-Init default (info
// level, plain stdout) so components constructed before main runs
// Init still log somewhere.
var base = newLogger(os.Stdout)

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = base
}

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().
		Timestamp().
		Str("service", serviceName).
		Caller().
		Logger()
}

var levelByName = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
}

// Init reconfigures the global logger once the CLI's -d/--debug and
// config-resolved level are known. pretty selects a human-readable
// console writer over stdout; the agent always runs with pretty=true
// from a terminal or journal, so there is no separate JSON-output flag.
func Init(level string, pretty bool) {
	zlLevel, ok := levelByName[strings.ToLower(level)]
	if !ok {
		zlLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(zlLevel)

	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	base = newLogger(out)
	log.Logger = base
}

// WithComponent returns a logger tagged with the given component name,
// the shape every call site in this repo logs through (e.g. "agent",
// "capture", "cursor", "diagnostics", "plugin-loader").
func WithComponent(component string) *zerolog.Logger {
	l := base.With().Str("component", component).Logger()
	return &l
}
