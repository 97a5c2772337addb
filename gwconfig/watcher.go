package gwconfig

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tensorzero/tensorzero-sub009/gwtelemetry"
)

// Watcher watches a configuration file for changes and triggers a reload,
// debouncing rapid successive writes (a YAML file is frequently rewritten
// in several syscalls by an editor or a deploy tool) into a single
// callback invocation.
type Watcher struct {
	watcher  *fsnotify.Watcher
	log      gwtelemetry.Logger
	path     string
	debounce *debouncer

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WatcherConfig configures a Watcher. DebounceInterval defaults to 100ms.
type WatcherConfig struct {
	Path             string
	DebounceInterval time.Duration
}

// NewWatcher builds a Watcher for cfg.Path. The returned Watcher does not
// start watching until Watch is called.
func NewWatcher(cfg WatcherConfig, log gwtelemetry.Logger) (*Watcher, error) {
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = 100 * time.Millisecond
	}
	if log == nil {
		log = gwtelemetry.NoopLogger{}
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("gwconfig: create fsnotify watcher: %w", err)
	}
	return &Watcher{
		watcher:  fw,
		log:      log,
		path:     cfg.Path,
		debounce: newDebouncer(cfg.DebounceInterval),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Watch blocks, watching the configured path until ctx is cancelled or Stop
// is called, invoking onReload (expected to re-run Load and swap the live
// configuration) once per debounced burst of write events. A reload error
// is logged, not returned: a bad edit to the config file must not bring
// down an already-running gateway.
func (w *Watcher) Watch(ctx context.Context, onReload func() error) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("gwconfig: watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(w.doneCh)
	}()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("gwconfig: watch %q: %w", w.path, err)
	}

	w.log.Info(ctx, "config watcher started", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.stopCh:
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("gwconfig: watcher events channel closed")
			}
			if !w.shouldProcessEvent(event) {
				continue
			}
			w.log.Debug(ctx, "config file event", "path", event.Name, "op", event.Op.String())
			w.debounce.trigger(func() {
				w.log.Info(ctx, "reloading config", "path", event.Name)
				if err := onReload(); err != nil {
					w.log.Error(ctx, "config reload failed", "error", err)
				}
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("gwconfig: watcher errors channel closed")
			}
			w.log.Error(ctx, "config watcher error", "error", err)
		}
	}
}

// Stop stops the watcher and releases its fsnotify resources.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.debounce.stop()
	return w.watcher.Close()
}

// shouldProcessEvent filters out Chmod-only events and writes to anything
// other than the watched file itself (the watch is registered on the
// parent directory so atomic rename-based saves, which replace the inode,
// are still seen).
func (w *Watcher) shouldProcessEvent(event fsnotify.Event) bool {
	if event.Op&fsnotify.Chmod == fsnotify.Chmod {
		return false
	}
	return filepath.Clean(event.Name) == filepath.Clean(w.path)
}

// debouncer collects rapid successive triggers and invokes the callback
// only after a quiet period, preventing a reload storm from a multi-write
// save.
type debouncer struct {
	interval time.Duration
	mu       sync.Mutex
	timer    *time.Timer
	callback func()
	stopCh   chan struct{}
}

func newDebouncer(interval time.Duration) *debouncer {
	return &debouncer{interval: interval, stopCh: make(chan struct{})}
}

func (d *debouncer) trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.callback = callback
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, func() {
		select {
		case <-d.stopCh:
			return
		default:
		}
		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()
		if cb != nil {
			cb()
		}
	})
}

func (d *debouncer) stop() {
	close(d.stopCh)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.callback = nil
}
