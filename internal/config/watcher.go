package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/moolen/quorum/internal/logging"
)

// ReloadCallback is called when the config file is successfully reloaded and
// validated. A callback error is logged but the watcher keeps watching.
type ReloadCallback func(cfg *Config) error

// WatcherConfig holds configuration for the config file watcher.
type WatcherConfig struct {
	// FilePath is the YAML config file to watch.
	FilePath string

	// DebounceMillis coalesces bursts of change events (editor save
	// sequences, atomic renames) into a single reload. Default: 500ms.
	DebounceMillis int
}

// Watcher watches the config file and pushes validated reloads to a
// callback. An invalid file never replaces the running config; the watcher
// logs the error and keeps the previous policy.
type Watcher struct {
	config   WatcherConfig
	callback ReloadCallback
	cancel   context.CancelFunc
	stopped  chan struct{}
	ready    chan struct{}
	logger   *logging.Logger
	mu       sync.Mutex

	debounceTimer *time.Timer
}

// NewWatcher creates a watcher for the given config file.
func NewWatcher(cfg WatcherConfig, callback ReloadCallback) (*Watcher, error) {
	if cfg.FilePath == "" {
		return nil, NewConfigError("watcher file path must not be empty")
	}
	if callback == nil {
		return nil, NewConfigError("watcher callback must not be nil")
	}
	if cfg.DebounceMillis == 0 {
		cfg.DebounceMillis = 500
	}

	return &Watcher{
		config:   cfg,
		callback: callback,
		stopped:  make(chan struct{}),
		ready:    make(chan struct{}),
		logger:   logging.GetLogger("config.watcher"),
	}, nil
}

// Start begins watching. It returns once the underlying file watch is
// installed, so changes made after Start cannot be missed.
func (w *Watcher) Start(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go w.watchLoop(watchCtx)

	select {
	case <-w.ready:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for config watcher to initialize")
	}
	return nil
}

// Stop stops the watcher and waits for the watch loop to exit.
func (w *Watcher) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	select {
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for config watcher to stop: %w", ctx.Err())
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for config watcher to stop")
	}
}

// Name returns the component name.
func (w *Watcher) Name() string {
	return "config-watcher"
}

func (w *Watcher) signalReady() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.ready:
	default:
		close(w.ready)
	}
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.stopped)
	defer w.signalReady()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.ErrorWithErr("failed to create file watcher", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(w.config.FilePath); err != nil {
		w.logger.ErrorWithErr("failed to watch config file", err)
		return
	}

	w.logger.Info("watching %s for changes (debounce: %dms)", w.config.FilePath, w.config.DebounceMillis)
	w.signalReady()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			// Atomic writes unlink the old inode; the watch must be
			// re-installed on the new file.
			if event.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
				time.Sleep(50 * time.Millisecond)
				if err := watcher.Add(w.config.FilePath); err != nil {
					w.logger.Warn("failed to re-add watch after %s: %v", event.Op, err)
				}
			}
			w.scheduleReload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.ErrorWithErr("watcher error", err)
		}
	}
}

// scheduleReload debounces by resetting a timer on each change event.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(
		time.Duration(w.config.DebounceMillis)*time.Millisecond,
		w.reload,
	)
}

// reload loads and validates the file, then hands it to the callback. Any
// failure keeps the previous config in force.
func (w *Watcher) reload() {
	cfg, err := Load(w.config.FilePath)
	if err != nil {
		w.logger.ErrorWithErr("reload failed, keeping previous config", err)
		return
	}
	if err := w.callback(cfg); err != nil {
		w.logger.ErrorWithErr("reload callback failed", err)
		return
	}
	w.logger.Info("config reloaded from %s", w.config.FilePath)
}
