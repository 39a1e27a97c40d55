package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tim-br/diakonos/internal/dkerr"
	"github.com/tim-br/diakonos/internal/registry"
)

const watcherDebounce = 500 * time.Millisecond

// Watcher watches the service directory for new unit files and loads them
// into the registry as they appear. Existing services are never removed or
// restarted by a directory event — reload is add-only, per spec.
type Watcher struct {
	reg        *registry.Registry
	serviceDir string
	logger     *slog.Logger
}

// NewWatcher constructs a Watcher over serviceDir.
func NewWatcher(reg *registry.Registry, serviceDir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{reg: reg, serviceDir: serviceDir, logger: logger.With("component", "watcher")}
}

// Run blocks, reloading the service directory on filesystem events, until
// ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return dkerr.IoError("creating directory watcher", err)
	}
	defer fw.Close()

	if err := fw.Add(w.serviceDir); err != nil {
		return dkerr.IoError("watching service directory", err)
	}

	w.logger.Info("watching service directory for new units", "dir", w.serviceDir)

	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.logger.Debug("service directory changed", "file", event.Name, "op", event.Op)

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watcherDebounce, w.reloadNew)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("directory watcher error", "error", err)
		}
	}
}

// reloadNew scans the service directory and loads any unit not already
// known to the registry. Units already loaded are left untouched — this is
// an additive reload, not a reconfiguration mechanism.
func (w *Watcher) reloadNew() {
	added := w.reg.LoadAll()
	if added != nil {
		w.logger.Error("reload scan failed", "error", added)
	}
}
