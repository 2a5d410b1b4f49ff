package library

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stephencjuliano/streambox/internal/config"
)

// debounceDelay batches the event bursts a copy or download produces
// into a single rescan
const debounceDelay = 30 * time.Second

// Watcher monitors backend roots for file changes and schedules rescans
// between the periodic passes. It never writes catalog rows itself.
type Watcher struct {
	cfg     *config.Config
	scanner *Scanner
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher creates a new backend watcher
func NewWatcher(cfg *config.Config, scanner *Scanner) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		cfg:     cfg,
		scanner: scanner,
		watcher: fsWatcher,
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching all backend roots
func (w *Watcher) Start() error {
	for i := range w.cfg.Backends {
		if err := w.addPath(w.cfg.Backends[i].RootDir); err != nil {
			log.Printf("Error watching %s: %v", w.cfg.Backends[i].RootDir, err)
		}
	}

	go w.eventLoop()
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() {
	close(w.done)
	w.watcher.Close()
}

func (w *Watcher) addPath(path string) error {
	if err := w.watcher.Add(path); err != nil {
		return err
	}

	// Recursively add subdirectories
	return filepath.Walk(path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) eventLoop() {
	// one pending rescan per backend, reset while events keep arriving
	timers := make(map[string]*time.Timer)

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) && !event.Op.Has(fsnotify.Remove) {
				continue
			}

			// new directories join the watch so nested copies are seen
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addPath(event.Name)
				}
			}

			backend := w.backendFor(event.Name)
			if backend == nil {
				continue
			}

			if !event.Op.Has(fsnotify.Remove) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					// directory events only matter for watch bookkeeping
					continue
				}
				if !videoExtensions[strings.ToLower(filepath.Ext(event.Name))] {
					continue
				}
			}

			name := backend.Name
			if timer, ok := timers[name]; ok {
				timer.Reset(debounceDelay)
			} else {
				timers[name] = time.AfterFunc(debounceDelay, func() {
					log.Printf("Backend '%s' changed, scheduling rescan", name)
					w.scanner.RequestRescan(name)
				})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Watcher error: %v", err)
		}
	}
}

// backendFor maps an event path back to the backend containing it
func (w *Watcher) backendFor(path string) *config.Backend {
	for i := range w.cfg.Backends {
		root := w.cfg.Backends[i].RootDir
		if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
			return &w.cfg.Backends[i]
		}
	}
	return nil
}
