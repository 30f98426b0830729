package queue

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// submitSignal is touched by processes that mark jobs Ready.
const submitSignal = "submit"

// SignalDir returns the directory holding signal files inside dataDir.
func SignalDir(dataDir string) string {
	return filepath.Join(dataDir, "signals")
}

// SendSubmit tells a supervisor in another process that jobs are ready.
func SendSubmit(dataDir string) error {
	dir := SignalDir(dataDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create signal directory: %w", err)
	}
	path := filepath.Join(dir, submitSignal)
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339Nano)), 0644)
}

// SignalWatcher wakes a queue when another process sends a submit signal.
type SignalWatcher struct {
	q       *Queue
	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// WatchSignals starts watching dataDir's signal directory on behalf of q.
// Callers that cannot watch (no inotify, unsupported filesystem) should
// fall back to polling with a non-zero poll interval.
func WatchSignals(dataDir string, q *Queue) (*SignalWatcher, error) {
	dir := SignalDir(dataDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create signal directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	sw := &SignalWatcher{
		q:       q,
		watcher: watcher,
		done:    make(chan struct{}),
	}
	sw.wg.Add(1)
	go sw.watch()
	return sw, nil
}

func (sw *SignalWatcher) watch() {
	defer sw.wg.Done()
	for {
		select {
		case <-sw.done:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) == submitSignal && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				sw.q.Notify()
			}
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[queue] signal watcher: %v", err)
		}
	}
}

// Close stops watching.
func (sw *SignalWatcher) Close() error {
	var err error
	sw.once.Do(func() {
		close(sw.done)
		err = sw.watcher.Close()
		sw.wg.Wait()
	})
	return err
}
