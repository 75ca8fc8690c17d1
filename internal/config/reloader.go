package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeCallback is invoked with the freshly loaded Config after a reload.
type ChangeCallback func(newCfg *Config)

// Reloader watches configPath for changes, swaps its Config snapshot under
// a lock, and passes the new Config to every OnChange callback; a setting is
// retuned only where a callback applies it.
type Reloader struct {
	configPath string

	mu  sync.RWMutex
	cfg *Config

	watcher *fsnotify.Watcher

	cbMu      sync.RWMutex
	callbacks []ChangeCallback

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
	debounceDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log *zap.Logger
}

// NewReloader builds a Reloader for configPath. log may be nil.
func NewReloader(configPath string, log *zap.Logger) *Reloader {
	return &Reloader{
		configPath:    configPath,
		debounceDelay: time.Second,
		log:           log,
	}
}

// OnChange registers a callback fired after every successful reload.
func (r *Reloader) OnChange(cb ChangeCallback) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Config returns the current snapshot.
func (r *Reloader) Config() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Start loads the initial config and begins watching its directory for
// writes, creates, and renames (editors commonly replace a file via a
// rename rather than an in-place write).
func (r *Reloader) Start() error {
	if r.ctx != nil {
		return fmt.Errorf("config: reloader already started")
	}

	cfg, err := Load(r.configPath)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: new watcher: %w", err)
	}
	r.watcher = watcher

	dir := filepath.Dir(r.configPath)
	if dir == "" {
		dir = "."
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}
	if _, err := os.Stat(r.configPath); err == nil {
		_ = watcher.Add(r.configPath)
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.wg.Add(1)
	go r.watch()

	if r.log != nil {
		r.log.Info("config reloader started", zap.String("path", r.configPath))
	}
	return nil
}

// Stop halts the watcher and waits for its goroutine to exit.
func (r *Reloader) Stop() {
	if r.ctx == nil {
		return
	}
	r.cancel()
	if r.watcher != nil {
		r.watcher.Close()
	}
	r.debounceMu.Lock()
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	r.debounceMu.Unlock()
	r.wg.Wait()
}

func (r *Reloader) watch() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != filepath.Base(r.configPath) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				r.debounce()
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			if r.log != nil {
				r.log.Warn("config watcher error", zap.Error(err))
			}
		}
	}
}

func (r *Reloader) debounce() {
	r.debounceMu.Lock()
	defer r.debounceMu.Unlock()
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	r.debounceTimer = time.AfterFunc(r.debounceDelay, r.reload)
}

func (r *Reloader) reload() {
	cfg, err := Load(r.configPath)
	if err != nil {
		if r.log != nil {
			r.log.Error("config reload failed", zap.Error(err))
		}
		return
	}
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()

	if r.log != nil {
		r.log.Info("config reloaded",
			zap.String("path", r.configPath),
			zap.Int("max_concurrent_cards", cfg.MaxConcurrentCards),
			zap.Int("stale_scroll_limit", cfg.StaleScrollLimit))
	}

	r.cbMu.RLock()
	defer r.cbMu.RUnlock()
	for _, cb := range r.callbacks {
		cb(cfg)
	}
}
