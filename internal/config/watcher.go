package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultReloadInterval is how often a [Watcher] stats the config file.
const DefaultReloadInterval = 5 * time.Second

// ApplyFunc receives a reloaded config together with the one it replaces.
// It is only called when [Diff] reports a change.
type ApplyFunc func(old, new *Config)

// Watcher keeps the running config in step with the file on disk. It stats
// the file every interval and reloads it when its size or mtime moved, or
// immediately when [Watcher.Reload] is called (SIGHUP in cmd/earshot).
//
// A file that fails to parse or validate is logged and skipped; the last
// valid config stays current. Edits that leave the config semantically
// unchanged, such as comments or reordered keys, never reach apply.
type Watcher struct {
	path     string
	interval time.Duration
	apply    ApplyFunc

	mu      sync.Mutex
	current *Config
	stamp   fileStamp
	reloads int

	kick     chan struct{}
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// fileStamp identifies one version of the file on disk.
type fileStamp struct {
	size  int64
	mtime int64
}

func stampOf(info os.FileInfo) fileStamp {
	return fileStamp{size: info.Size(), mtime: info.ModTime().UnixNano()}
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is
// [DefaultReloadInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path and starts watching it. apply may be
// nil, in which case the watcher only tracks [Watcher.Current].
func NewWatcher(path string, apply ApplyFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultReloadInterval,
		apply:    apply,
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch: %w", err)
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	w.current = cfg
	w.stamp = stampOf(info)

	go w.loop()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reloads returns how many reloads were handed to apply.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Reload asks the watcher to re-read the file now, whether or not its stamp
// moved. It does not block; requests made while one is pending coalesce.
func (w *Watcher) Reload() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Stop ends watching and waits for an in-flight reload to finish. It is safe
// to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	<-w.stopped
}

func (w *Watcher) loop() {
	defer close(w.stopped)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check(false)
		case <-w.kick:
			w.check(true)
		}
	}
}

// check reloads the file if forced or if its stamp changed since the last
// load attempt.
func (w *Watcher) check(force bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: cannot stat file", "path", w.path, "err", err)
		return
	}
	stamp := stampOf(info)

	w.mu.Lock()
	unchanged := stamp == w.stamp
	w.mu.Unlock()
	if unchanged && !force {
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		// Remember the stamp so a broken file is reported once, not every tick.
		w.mu.Lock()
		w.stamp = stamp
		w.mu.Unlock()
		slog.Warn("config: reload rejected, keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.stamp = stamp
	d := Diff(old, cfg)
	if !d.Empty() {
		w.reloads++
	}
	w.mu.Unlock()

	if d.Empty() {
		slog.Debug("config: file changed without effect", "path", w.path)
		return
	}
	slog.Info("config: reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"vocabulary_changed", d.VocabularyChanged,
		"restart_required", d.RestartRequired,
	)
	if w.apply != nil {
		w.apply(old, cfg)
	}
}
