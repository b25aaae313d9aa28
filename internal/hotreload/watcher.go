// Package hotreload re-reads the config file when it changes on disk and
// hands the new config to a callback.
package hotreload

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jordanhubbard/ouroboros/internal/logging"
	"github.com/jordanhubbard/ouroboros/pkg/config"
)

const debounceDelay = 200 * time.Millisecond

// ApplyFunc receives each successfully parsed config.
type ApplyFunc func(*config.Config)

// Watcher watches one config file. The parent directory is watched so
// editors that replace the file by rename are still seen.
type Watcher struct {
	path    string
	apply   ApplyFunc
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	reloads int
}

// NewWatcher starts watching path.
func NewWatcher(path string, apply ApplyFunc) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{path: abs, apply: apply, watcher: fw}, nil
}

// Reloads returns how many configs have been applied.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Run processes file events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) {
	log := logging.Component("hotreload")
	defer w.watcher.Close()

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceDelay)
			} else {
				timer.Reset(debounceDelay)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	log := logging.Component("hotreload")
	cfg, err := config.LoadConfigFromFile(w.path)
	if err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("ignoring invalid config change")
		return
	}
	w.apply(cfg)
	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
	log.Info().Str("path", w.path).Msg("config reloaded")
}
