// Package watcher monitors directories for new images and triggers embed
// events once files have stabilized.
package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// imageExtensions are the container formats the pipeline accepts.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// Event is a stable image file ready for embedding.
type Event struct {
	Path      string
	Size      int64
	Timestamp time.Time
}

// Watcher monitors directories for image writes.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	paths     []string
	interval  time.Duration

	// State tracking: path -> last modification time
	state   map[string]time.Time
	stateMu sync.RWMutex

	events chan Event
	errors chan error

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher over the given directories with a debounce
// interval in seconds.
func New(paths []string, intervalSec int) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		paths:     paths,
		interval:  time.Duration(intervalSec) * time.Second,
		state:     make(map[string]time.Time),
		events:    make(chan Event, 100),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}, nil
}

// Events returns the channel of stable-image events.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors returns the channel of watch errors.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Start begins watching all configured paths.
func (w *Watcher) Start() error {
	for _, path := range w.paths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		info, err := os.Stat(absPath)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			continue
		}
		if err := w.fsWatcher.Add(absPath); err != nil {
			return err
		}
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()
	return nil
}

// Stop gracefully shuts down the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return w.fsWatcher.Close()
}

// IsImage reports whether a path looks like an accepted image.
func IsImage(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// eventLoop handles fsnotify events.
func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !IsImage(event.Name) {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil || info.IsDir() {
				continue
			}

			w.stateMu.Lock()
			w.state[event.Name] = time.Now()
			w.stateMu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

// debounceLoop promotes files that stayed unchanged for the interval.
func (w *Watcher) debounceLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case now := <-ticker.C:
			w.checkStableFiles(now)
		}
	}
}

// checkStableFiles emits events for files stable past the interval.
func (w *Watcher) checkStableFiles(now time.Time) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	threshold := now.Add(-w.interval)

	for path, lastMod := range w.state {
		if !lastMod.Before(threshold) {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			delete(w.state, path)
			continue
		}

		event := Event{
			Path:      path,
			Size:      info.Size(),
			Timestamp: now,
		}

		select {
		case w.events <- event:
			delete(w.state, path)
		default:
			// Event channel full, try again next tick.
		}
	}
}

// TrackedFiles returns the current number of pending files.
func (w *Watcher) TrackedFiles() int {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return len(w.state)
}

// WatchedPaths returns the configured directories.
func (w *Watcher) WatchedPaths() []string { return w.paths }
