package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a config file and calls onChange with every new valid
// version. Invalid edits are logged and the previous config is kept.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	logger   *slog.Logger

	mu       sync.Mutex
	current  *Config
	lastMod  time.Time
	lastHash [sha256.Size]byte

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger. Defaults to slog.Default().
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher loads path once and starts polling it in the background. The
// initial load must succeed.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		logger:   slog.Default(),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, hash, mod, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.lastHash, w.lastMod = cfg, hash, mod

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for the poll goroutine to exit. It is safe to
// call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	<-w.stopped
}

func (w *Watcher) poll() {
	defer close(w.stopped)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check skips files whose mtime is unchanged, and files that were touched
// without a content change.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.lastMod)
	w.mu.Unlock()
	if unchanged {
		return
	}

	cfg, hash, mod, err := w.read()
	if err != nil {
		w.logger.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		// Remember the mtime so a broken file is reported once per edit.
		w.mu.Lock()
		w.lastMod = info.ModTime()
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.lastMod = mod
	if hash == w.lastHash {
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.lastHash = hash
	w.mu.Unlock()

	w.logger.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

func (w *Watcher) read() (*Config, [sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
