// Package agent implements the session supervisor (C7): it wires every
// other component together, owns process lifecycle (signals, plugin
// registration, teardown order), and is the only place that treats an
// error as fatal-to-the-process (spec §4.7, §7).
package agent

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spice-space/spice-streaming-agent/internal/capture"
	"github.com/spice-space/spice-streaming-agent/internal/capture/gstplugin"
	"github.com/spice-space/spice-streaming-agent/internal/capture/mjpegplugin"
	"github.com/spice-space/spice-streaming-agent/internal/config"
	"github.com/spice-space/spice-streaming-agent/internal/cursor"
	"github.com/spice-space/spice-streaming-agent/internal/diagnostics"
	"github.com/spice-space/spice-streaming-agent/internal/framelog"
	"github.com/spice-space/spice-streaming-agent/internal/logger"
	"github.com/spice-space/spice-streaming-agent/internal/plugin"
	"github.com/spice-space/spice-streaming-agent/internal/session"
	"github.com/spice-space/spice-streaming-agent/internal/streamport"
)

// Run executes one full agent lifetime: open the device, register
// plugins, launch the cursor updater and (optionally) the diagnostics
// server, then run the capture loop on the calling goroutine until quit
// is requested. It returns nil on clean shutdown, a non-nil error
// otherwise; the caller (main) is responsible for the exit code (spec §7,
// §9 "detached cursor thread... joined on supervisor teardown").
func Run(opts config.Options) error {
	log := logger.WithComponent("agent")

	port, err := streamport.Open(opts.DevicePath)
	if err != nil {
		return fmt.Errorf("agent: opening device %s: %w", opts.DevicePath, err)
	}
	defer port.Close()

	flog, err := framelog.New(framelog.Options{
		Path:      opts.FrameLogPath,
		LogBinary: opts.LogBinary,
		LogFrames: categoryEnabled(opts.LogCategories, "frames"),
	})
	if err != nil {
		return fmt.Errorf("agent: opening frame log: %w", err)
	}
	defer flog.Close()

	registry := plugin.NewRegistry()
	// Built-ins register first so rank ties (there are none today, but a
	// future dynamically-loaded plugin might collide) favor them.
	registry.Register(mjpegplugin.New())
	registry.Register(gstplugin.New())

	loader := plugin.NewLoader(opts.PluginsDir, registry)
	if err := loader.LoadAll(); err != nil {
		log.Warn().Err(err).Msg("plugin directory scan failed, continuing with built-ins")
	}

	if err := registry.ApplyOptions(opts.PluginOptions); err != nil {
		return fmt.Errorf("agent: applying plugin options: %w", err)
	}
	loader.WatchForHotAdd()
	defer loader.Close()

	state := session.NewState()
	reader := session.NewReader(port, state)

	cursorUpdater, err := cursor.New(port, state)
	if err != nil {
		log.Warn().Err(err).Msg("cursor updater unavailable, continuing without cursor updates")
	}
	cursorDone := make(chan struct{})
	go func() {
		defer close(cursorDone)
		cursorUpdater.Run()
	}()
	defer func() {
		cursorUpdater.Close()
		<-cursorDone
	}()

	if opts.DiagAddr != "" {
		diagServer := diagnostics.New(opts.DiagAddr, state)
		if err := diagServer.Start(); err != nil {
			log.Warn().Err(err).Msg("diagnostics server failed to start, continuing without it")
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			defer diagServer.Shutdown(ctx)
		}
	}

	installSignalHandlers(state)

	loop := capture.New(port, state, reader, registry, flog)
	log.Info().Str("device", opts.DevicePath).Msg("agent starting")
	if err := loop.Run(); err != nil {
		return fmt.Errorf("agent: capture loop: %w", err)
	}
	log.Info().Msg("agent shutting down cleanly")
	return nil
}

// installSignalHandlers sets quit_requested on SIGINT/SIGTERM (spec §5:
// "Signal handlers mutate only quit_requested").
func installSignalHandlers(state *session.State) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		state.RequestQuit()
	}()
}

func categoryEnabled(categories []string, name string) bool {
	if len(categories) == 0 {
		return false
	}
	for _, c := range categories {
		if c == name {
			return true
		}
	}
	return false
}
