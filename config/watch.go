package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long Watch waits after the last write before
// reloading. Editors often write a file in several steps.
const DefaultDebounce = 250 * time.Millisecond

// WatchOption configures Watch.
type WatchOption func(*watcher)

// WithDebounce sets the reload delay.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *watcher) { w.debounce = d }
}

// WithWatchLogger sets the logger for reload failures.
func WithWatchLogger(l *slog.Logger) WatchOption {
	return func(w *watcher) { w.logger = l }
}

type watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	onChange func(*File)

	mu   sync.Mutex
	last []byte
}

// Watch calls onChange with the reloaded file every time the file at path
// changes to valid content that differs from what was last seen. Invalid
// content is logged and skipped. The directory is watched rather than the
// file so that editors replacing the file by rename keep working. Watch
// blocks until ctx ends.
func Watch(ctx context.Context, path string, onChange func(*File), opts ...WatchOption) error {
	w := &watcher{
		path:     path,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}
	if data, err := os.ReadFile(path); err == nil {
		w.last = data
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(path), err)
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	base := filepath.Base(path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)
			timerMu.Unlock()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watch error",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (w *watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn("config reload failed",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
		return
	}

	w.mu.Lock()
	unchanged := bytes.Equal(data, w.last)
	w.mu.Unlock()
	if unchanged {
		return
	}

	f, err := Parse(bytes.NewReader(data))
	if err != nil {
		w.logger.Warn("config rejected",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
		return
	}

	w.mu.Lock()
	w.last = data
	w.mu.Unlock()

	w.logger.Info("config reloaded", slog.String("path", w.path))
	w.onChange(f)
}
