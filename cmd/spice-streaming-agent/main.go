// Command spice-streaming-agent is the guest-side streaming agent: it
// captures the display, encodes it through a pluggable codec, and
// transmits the stream to a remote viewer over a host-provided serial
// device while reacting to inbound control messages.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spice-space/spice-streaming-agent/internal/agent"
	"github.com/spice-space/spice-streaming-agent/internal/config"
	"github.com/spice-space/spice-streaming-agent/internal/logger"
)

var flags config.Flags

var rootCmd = &cobra.Command{
	Use:   "spice-streaming-agent",
	Short: "Stream the guest display to a SPICE client over a virtio-serial device",
	Long: `spice-streaming-agent captures the guest display, encodes each frame
through a pluggable video codec, and transmits the encoded stream over a
host-provided serial device to a remote viewer. It reacts to inbound
control messages (capability announcements, start/stop requests, error
notifications) and reports cursor-shape changes out of band.`,
	RunE: runAgent,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.DevicePath, "port", "p", "", "stream device path (default "+config.DefaultDevicePath+")")
	pf.StringVarP(&flags.FrameLogPath, "log-file", "l", "", "diagnostic frame log output file")
	pf.BoolVar(&flags.LogBinary, "log-binary", false, "write binary frames into the frame log")
	pf.StringVar(&flags.LogCategories, "log-categories", "", "enable named log categories, colon separated")
	pf.StringVar(&flags.PluginsDir, "plugins-dir", "", "directory to scan for codec plugins (.so files)")
	pf.BoolVarP(&flags.Debug, "debug", "d", false, "debug log verbosity")
	pf.StringArrayVarP(&flags.PluginOptionsRaw, "plugin-option", "c", nil, "plugin option as key=value")
	pf.StringVar(&flags.DiagAddr, "diag-addr", "", "enable the diagnostics HTTP/WS server on host:port")
	pf.StringVar(&flags.ConfigFile, "config", "", "optional YAML/TOML config file")
}

func runAgent(cmd *cobra.Command, args []string) error {
	opts, err := config.Resolve(flags)
	if err != nil {
		return err
	}

	level := "info"
	if opts.Debug {
		level = "debug"
	}
	logger.Init(level, true)

	return agent.Run(opts)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "spice-streaming-agent: %v\n", err)
		os.Exit(1)
	}
}
