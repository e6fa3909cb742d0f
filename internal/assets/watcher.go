package assets

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// rescanDelay coalesces bursts of events, e.g. a bundler rewriting dist/.
const rescanDelay = 100 * time.Millisecond

// Watcher keeps an Index current by rescanning on filesystem changes.
type Watcher struct {
	index  *Index
	logger *slog.Logger
	fsw    *fsnotify.Watcher

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher creates a Watcher for idx. Call Start to begin watching.
func NewWatcher(idx *Index, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	return &Watcher{
		index:  idx,
		logger: logger.With("component", "asset_watcher"),
		fsw:    fsw,
		done:   make(chan struct{}),
	}, nil
}

// Start registers every directory under the root and starts the event loop.
// A missing root is logged and left unwatched, as NewIndex tolerates it.
func (w *Watcher) Start() error {
	if _, err := os.Stat(w.index.Root()); os.IsNotExist(err) {
		w.logger.Warn("asset root missing; not watching", "root", w.index.Root())
		return nil
	}
	if err := w.addTree(w.index.Root()); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.loop()
	w.logger.Info("watching asset root", "root", w.index.Root())
	return nil
}

// Close stops the event loop and releases the underlying watcher.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			// fsnotify is not recursive; new directories must be added.
			if ev.Has(fsnotify.Create) {
				if err := w.addTree(ev.Name); err != nil {
					w.logger.Debug("watch new path", "path", ev.Name, "err", err)
				}
			}
			if timer == nil {
				timer = time.NewTimer(rescanDelay)
			} else {
				timer.Reset(rescanDelay)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := w.index.Rescan(); err != nil {
				w.logger.Error("rescan asset root", "err", err)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("asset watcher error", "err", err)
		}
	}
}

// addTree watches dir and all directories below it. Non-directories are ignored.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}
