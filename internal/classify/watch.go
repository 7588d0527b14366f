package classify

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a rules file into a Classifier whenever the file changes.
// Invalid documents are logged and ignored; the previous rules stay active.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	classifier  *Classifier
	path        string
	logger      *log.Logger
	debounceDur time.Duration
	pending     time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	reloads     int
}

// NewWatcher prepares a watcher for path. The parent directory is watched so
// editors that replace the file by rename are picked up.
func NewWatcher(path string, classifier *Classifier, logger *log.Logger) (*Watcher, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fw,
		classifier:  classifier,
		path:        filepath.Clean(path),
		logger:      logger,
		debounceDur: 200 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// WatchRules creates a watcher for path and starts it. When starting fails
// the underlying watcher is released before the error is returned.
func WatchRules(ctx context.Context, path string, classifier *Classifier, logger *log.Logger) (*Watcher, error) {
	w, err := NewWatcher(path, classifier, logger)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return nil, err
	}
	return w, nil
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	go w.run(ctx)
	return nil
}

// Stop ends the watch loop and releases the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		_ = w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		w.logger.Printf("rules watcher close: %v", err)
	}
}

// Reloads returns the number of successful reloads so far.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = time.Now()
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("rules watcher error: %v", err)
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if w.pending.IsZero() || time.Since(w.pending) < w.debounceDur {
		w.mu.Unlock()
		return
	}
	w.pending = time.Time{}
	w.mu.Unlock()

	rules, err := LoadRules(w.path)
	if err != nil {
		w.logger.Printf("rules reload rejected: %v", err)
		return
	}
	w.classifier.SetRules(rules)

	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
	w.logger.Printf("rules reloaded from %s", w.path)
}
