package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/mkrause/deskpad/internal/shared"
)

// SnapshotWatcher watches the shared folder for snapshot rewrites by other
// machines and nudges the engine's debounced sync when one lands.
//
// This is an acceleration, not a correctness mechanism: fsnotify over a
// network filesystem may deliver nothing at all, and the periodic timer
// remains the backstop. Our own writes also fire events; the resulting extra
// round is dropped by the in-flight guard or degenerates to a no-op adopt.
type SnapshotWatcher struct {
	watcher *fsnotify.Watcher
	engine  *Engine
	dir     string
	logger  *log.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// NewSnapshotWatcher creates a watcher for the shared folder at dir.
func NewSnapshotWatcher(e *Engine, dir string, logger *log.Logger) (*SnapshotWatcher, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[watcher] ", log.LstdFlags)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &SnapshotWatcher{
		watcher: w,
		engine:  e,
		dir:     dir,
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching. Returns an error if the shared folder cannot be
// watched; callers may log and continue, since the periodic timer still
// covers propagation.
func (w *SnapshotWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch shared folder %s: %w", w.dir, err)
	}

	w.logger.Printf("Watching shared folder: %s", w.dir)

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop closes the watcher and waits for the event loop to exit.
func (w *SnapshotWatcher) Stop() {
	close(w.done)
	if err := w.watcher.Close(); err != nil {
		w.logger.Printf("Error closing watcher: %v", err)
	}
	w.wg.Wait()
}

func (w *SnapshotWatcher) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Base(event.Name) != shared.SnapshotFileName {
				continue
			}
			w.logger.Printf("Shared snapshot changed (%s), scheduling sync", event.Op)
			w.scheduleSync()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("Watcher error: %v", err)
		}
	}
}

// scheduleSync routes through the engine's debounce so a writer mid-burst on
// another machine produces one round here, not one per write.
func (w *SnapshotWatcher) scheduleSync() {
	w.engine.ScheduleDebounced()
}
