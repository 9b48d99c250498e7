package blob

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// SnapshotEvent reports that a snapshot file changed on disk.
type SnapshotEvent struct {
	// Key is the namespace storage key the snapshot belongs to.
	Key string
}

// Watcher watches an FSStore directory for snapshot writes made by other
// processes (a second worker persisting the same namespace).
//
// It uses fsnotify for cross-platform file system event monitoring. Only
// completed writes are reported; the store's temp files are filtered out.
type Watcher struct {
	watcher *fsnotify.Watcher
	events  chan SnapshotEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	dir     string
}

// NewWatcher creates a watcher for the given store.
// The watcher must be started with Start() before it will emit events.
func NewWatcher(store *FSStore) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		watcher: w,
		events:  make(chan SnapshotEvent, 64),
		errors:  make(chan error, 8),
		done:    make(chan struct{}),
		dir:     store.Dir(),
	}, nil
}

// Events returns the channel of snapshot change events.
func (w *Watcher) Events() <-chan SnapshotEvent {
	return w.events
}

// Errors returns the channel of watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start begins watching the store directory.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.running = true

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop shuts the watcher down and closes the event channels.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	_ = w.watcher.Close()
	w.wg.Wait()
	close(w.events)
	close(w.errors)
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			key, ok := keyFromPath(event.Name)
			if !ok {
				continue
			}
			select {
			case w.events <- SnapshotEvent{Key: key}:
			default:
				// Drop rather than block the fsnotify pump.
			}

		case err, ok := <-w.watcher.Errors:
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

// keyFromPath extracts the storage key from a snapshot filename.
// Temp files and unrelated files yield ok=false.
func keyFromPath(path string) (string, bool) {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, ".db") {
		return "", false
	}
	key := strings.TrimSuffix(name, ".db")
	if key == "" || strings.Contains(key, ".tmp-") {
		return "", false
	}
	return key, true
}
