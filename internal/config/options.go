// Package config resolves the agent's CLI surface (spec §6) into an
// immutable Options value, layering an optional config file under
// explicit flags the way the reference stack's config.Manager layers
// viper values under persisted configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultDevicePath is the standard SPICE stream device node (spec §6).
const DefaultDevicePath = "/dev/virtio-ports/org.spice-space.stream.0"

// Options is the fully resolved, read-only configuration for one agent
// run: CLI flags layered over an optional config file, flags always
// winning (SPEC_FULL.md §6).
type Options struct {
	DevicePath    string
	FrameLogPath  string
	LogBinary     bool
	LogCategories []string
	PluginsDir    string
	Debug         bool
	PluginOptions map[string]string
	DiagAddr      string
	ConfigFile    string
}

// PluginOptionsError reports a malformed -c flag (missing '=').
type PluginOptionsError struct {
	Raw string
}

func (e *PluginOptionsError) Error() string {
	return fmt.Sprintf("config: malformed plugin option %q (want key=value)", e.Raw)
}

// ParsePluginOptions splits a repeated "-c key=value" flag slice into a
// map. A missing '=' is fatal at startup (spec §6: "missing `=` is
// fatal").
func ParsePluginOptions(raw []string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for _, kv := range raw {
		idx := strings.IndexByte(kv, '=')
		if idx < 0 {
			return nil, &PluginOptionsError{Raw: kv}
		}
		out[kv[:idx]] = kv[idx+1:]
	}
	return out, nil
}

// ParseLogCategories splits a "cat1:cat2:..." flag value. Unknown
// categories are not rejected here; the frame logger itself ignores
// categories it doesn't recognize (spec §6).
func ParseLogCategories(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ":")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Flags is the raw set of CLI flag values, collected by the cobra command
// before resolution (kept separate from Options so cobra/pflag details
// never leak past this package).
type Flags struct {
	DevicePath       string
	FrameLogPath     string
	LogBinary        bool
	LogCategories    string
	PluginsDir       string
	Debug            bool
	PluginOptionsRaw []string
	DiagAddr         string
	ConfigFile       string
}

// Resolve layers an optional config file under the given flags (flags
// win) and validates plugin options, producing an Options ready for the
// supervisor.
func Resolve(f Flags) (Options, error) {
	v := viper.New()
	v.SetDefault("device_path", DefaultDevicePath)
	v.SetDefault("plugins_dir", "")
	v.SetDefault("diag_addr", "")

	configPath := f.ConfigFile
	if configPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			candidate := filepath.Join(home, ".config", "spice-streaming-agent", "config.yaml")
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
			}
		}
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Options{}, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	opts := Options{
		DevicePath:   firstNonEmpty(f.DevicePath, v.GetString("device_path"), DefaultDevicePath),
		FrameLogPath: firstNonEmpty(f.FrameLogPath, v.GetString("frame_log_path")),
		LogBinary:    f.LogBinary || v.GetBool("log_binary"),
		PluginsDir:   firstNonEmpty(f.PluginsDir, v.GetString("plugins_dir")),
		Debug:        f.Debug || v.GetBool("debug"),
		DiagAddr:     firstNonEmpty(f.DiagAddr, v.GetString("diag_addr")),
		ConfigFile:   configPath,
	}

	categories := f.LogCategories
	if categories == "" {
		categories = v.GetString("log_categories")
	}
	opts.LogCategories = ParseLogCategories(categories)

	pluginOpts, err := ParsePluginOptions(f.PluginOptionsRaw)
	if err != nil {
		return Options{}, err
	}
	opts.PluginOptions = pluginOpts

	return opts, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
