package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 500 * time.Millisecond

// ConfigChangeCallback receives the configuration before and after a reload.
type ConfigChangeCallback func(oldConfig, newConfig *Config)

// Watcher reloads a config file when it changes on disk and tells the
// registered callbacks. A file that fails to load or validate leaves the
// current configuration in place.
type Watcher struct {
	path     string
	loader   *Loader
	logger   *zap.Logger
	debounce time.Duration
	fs       *fsnotify.Watcher

	mu        sync.RWMutex
	current   *Config
	callbacks []ConfigChangeCallback

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewWatcher loads path once so that a broken file fails early.
func NewWatcher(path string, loader *Loader, logger *zap.Logger) (*Watcher, error) {
	if _, err := formatOf(path); err != nil {
		return nil, err
	}
	if loader == nil {
		loader = NewLoader()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("initial load: %w", err)
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}

	return &Watcher{
		path:     filepath.Clean(path),
		loader:   loader,
		logger:   logger.With(zap.String("config_file", path)),
		debounce: defaultDebounce,
		fs:       fs,
		current:  cfg,
		stop:     make(chan struct{}),
	}, nil
}

// Start watches the file's directory, so replacing the file by rename is
// noticed as well as writes in place.
func (w *Watcher) Start() error {
	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	w.wg.Add(1)
	go w.loop()
	return nil
}

func (w *Watcher) Stop() error {
	w.once.Do(func() { close(w.stop) })
	err := w.fs.Close()
	w.wg.Wait()
	return err
}

// GetConfig returns the most recently loaded configuration.
func (w *Watcher) GetConfig() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) OnConfigChange(callback ConfigChangeCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Reload reads the file now instead of waiting for an fs event.
func (w *Watcher) Reload() error {
	next, err := w.loader.LoadFromFile(w.path)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	callbacks := append([]ConfigChangeCallback(nil), w.callbacks...)
	w.mu.Unlock()

	w.logger.Info("configuration reloaded")
	for _, cb := range callbacks {
		go w.notify(cb, prev, next)
	}
	return nil
}

func (w *Watcher) notify(cb ConfigChangeCallback, prev, next *Config) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("config change callback panicked", zap.Any("panic", r))
		}
	}()
	cb(prev, next)
}

// loop coalesces bursts of fs events into one reload per debounce window.
func (w *Watcher) loop() {
	defer w.wg.Done()

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-w.stop:
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(w.debounce, func() {
				if err := w.Reload(); err != nil {
					w.logger.Warn("keeping previous config", zap.Error(err))
				}
			})

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}
