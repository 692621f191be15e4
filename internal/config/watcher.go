package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher reloads configuration when the YAML file changes and hands the result to
// registered callbacks. Only settings that are safe to change at runtime should be
// applied by callbacks; the rest take effect on restart.
type Watcher struct {
	path     string
	reload   func() (*Config, error)
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	debounce time.Duration

	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)

	started  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWatcher watches the directory holding path so atomic saves (rename over) are seen.
// reload is called after each debounced change; a reload error keeps the current config.
func NewWatcher(path string, current *Config, reload func() (*Config, error), logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}
	return &Watcher{
		path:     path,
		reload:   reload,
		watcher:  fw,
		logger:   logger,
		debounce: defaultDebounce,
		current:  current,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// OnChange registers fn. Callbacks run sequentially on the reload goroutine.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.loop()
	w.logger.Info("config watcher started", zap.String("path", w.path))
}

// Stop ends the watch loop and closes the underlying watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()
		if w.started.Load() {
			<-w.done
		}
		w.logger.Info("config watcher stopped")
	})
}

func (w *Watcher) loop() {
	defer close(w.done)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.apply)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) apply() {
	cfg, err := w.reload()
	if err != nil {
		w.logger.Error("config reload failed, keeping current", zap.String("path", w.path), zap.Error(err))
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = cfg
	handlers := append([]func(*Config){}, w.onChange...)
	w.mu.Unlock()

	if prev != nil && prev.LogLevel != cfg.LogLevel {
		w.logger.Info("log level changed", zap.String("from", prev.LogLevel), zap.String("to", cfg.LogLevel))
	}
	for _, fn := range handlers {
		fn(cfg)
	}
	w.logger.Info("config reloaded", zap.String("path", w.path))
}
