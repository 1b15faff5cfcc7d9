package settings

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// LoadFunc reads the preferences section of the configuration file.
type LoadFunc func() (Preferences, error)

const reloadDebounce = 200 * time.Millisecond

// Watch reloads the preferences whenever the configuration file at path
// changes on disk, until ctx is cancelled. The parent directory is watched
// so that editors replacing the file by rename are picked up. Events are
// debounced and invalid files are logged and ignored.
func Watch(ctx context.Context, path string, load LoadFunc, store *Store, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	path = filepath.Clean(path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}
	logger.Info("settings watcher: started", slog.String("path", path))

	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(reloadDebounce)
			timerCh = timer.C
		} else {
			timer.Reset(reloadDebounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("settings watcher: stopped")
			return nil

		case <-timerCh:
			prefs, err := load()
			if err != nil {
				logger.Warn("settings watcher: reload failed", slog.String("error", err.Error()))
				continue
			}
			changed, err := store.Reload(prefs)
			if err != nil {
				logger.Warn("settings watcher: rejected edit", slog.String("error", err.Error()))
				continue
			}
			if changed {
				logger.Info("settings watcher: reloaded", slog.String("path", path))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("settings watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
