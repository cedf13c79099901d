package plugin

import (
	gopl "plugin"

	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/spice-space/spice-streaming-agent/internal/logger"
)

// Loader discovers codec plugins dropped as .so files into a directory
// (C9). Built-in plugins are registered directly by the caller before
// LoadAll runs; Loader only adds dynamically discovered ones.
type Loader struct {
	dir      string
	registry *Registry
	watcher  *fsnotify.Watcher
}

// NewLoader binds a loader to dir and the registry it populates.
func NewLoader(dir string, registry *Registry) *Loader {
	return &Loader{dir: dir, registry: registry}
}

// LoadAll globs dir for *.so files and loads each at startup. A bad
// plugin file is logged and skipped -- it must never prevent the
// built-in plugins (already registered) from working.
func (l *Loader) LoadAll() error {
	if l.dir == "" {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(l.dir, "*.so"))
	if err != nil {
		return err
	}
	for _, path := range matches {
		l.loadOne(path)
	}
	return nil
}

// WatchForHotAdd starts an fsnotify watch on dir so plugins dropped in
// after startup are picked up without a restart. Best-effort: failure to
// establish the watch is logged, not fatal (spec §4.9). Plugins registered
// through the watch do not go through Registry.ApplyOptions, so they run
// with their own default settings.
func (l *Loader) WatchForHotAdd() {
	if l.dir == "" {
		return
	}
	log := logger.WithComponent("plugin-loader")
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("fsnotify unavailable, plugin hot-add disabled")
		return
	}
	if err := w.Add(l.dir); err != nil {
		log.Warn().Err(err).Str("dir", l.dir).Msg("failed to watch plugins directory")
		w.Close()
		return
	}
	l.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 && filepath.Ext(ev.Name) == ".so" {
					l.loadOne(ev.Name)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("plugin directory watch error")
			}
		}
	}()
}

// Close stops the hot-add watcher, if any.
func (l *Loader) Close() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// PluginConstructor is the symbol every loadable plugin exports.
type PluginConstructor func() Plugin

func (l *Loader) loadOne(path string) {
	log := logger.WithComponent("plugin-loader")
	p, err := gopl.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to open plugin")
		return
	}
	sym, err := p.Lookup("NewPlugin")
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("plugin missing NewPlugin symbol")
		return
	}
	ctor, ok := sym.(func() Plugin)
	if !ok {
		log.Warn().Str("path", path).Msg("NewPlugin has unexpected signature")
		return
	}
	l.registry.Register(ctor())
	log.Info().Str("path", path).Msg("loaded plugin")
}
