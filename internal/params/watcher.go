package params

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/relabs-tech/hip_exo/internal/config"
)

// FileWatcher reloads the config file when it changes on disk and stages the
// result. Calibration zero references are kept from the running config.
type FileWatcher struct {
	path     string
	shared   *Shared
	debounce time.Duration
	watcher  *fsnotify.Watcher
}

// NewFileWatcher watches the directory holding path, so editors that save
// by rename are seen too.
func NewFileWatcher(path string, shared *Shared) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	return &FileWatcher{path: filepath.Clean(path), shared: shared, debounce: 100 * time.Millisecond, watcher: w}, nil
}

// Run blocks until ctx is done.
func (fw *FileWatcher) Run(ctx context.Context) error {
	defer fw.watcher.Close()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != fw.path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			timer.Reset(fw.debounce)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("params: config watcher: %v", err)
		case <-timer.C:
			fw.reload()
		}
	}
}

func (fw *FileWatcher) reload() {
	loaded, err := config.Load(fw.path)
	if err != nil {
		log.Printf("params: ignoring edited %s: %v", fw.path, err)
		return
	}
	err = fw.shared.Stage(func(cfg *config.Config) error {
		left, right := cfg.HipLeftZeroPosition, cfg.HipRightZeroPosition
		*cfg = *loaded
		if cfg.HipLeftZeroPosition == nil {
			cfg.HipLeftZeroPosition = left
		}
		if cfg.HipRightZeroPosition == nil {
			cfg.HipRightZeroPosition = right
		}
		return nil
	})
	if err != nil {
		log.Printf("params: %v", err)
		return
	}
	log.Printf("params: staged config from %s", fw.path)
}
