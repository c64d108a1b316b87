package infra

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce is how long the file must stay quiet before it is reloaded.
const DefaultReloadDebounce = 500 * time.Millisecond

// ConfigWatcher reloads the config file whenever it changes on disk and hands
// every valid result to onChange. Invalid files are logged and skipped.
type ConfigWatcher struct {
	path     string
	debounce time.Duration
	onChange func(*Config)

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewConfigWatcher watches path's directory so that atomic replace-on-save is seen.
// A burst of events is collapsed into one reload, debounce after the last event.
func NewConfigWatcher(path string, debounce time.Duration, onChange func(*Config)) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch config dir: %w", err)
	}
	return &ConfigWatcher{
		path:     abs,
		debounce: debounce,
		onChange: onChange,
		watcher:  w,
		done:     make(chan struct{}),
	}, nil
}

// Run processes file events until ctx is cancelled, then closes the watcher.
func (c *ConfigWatcher) Run(ctx context.Context) {
	defer close(c.done)
	defer c.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	slog.Info("Config watcher started", slog.String("path", c.path))
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != c.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Every event of a burst restarts the quiet period.
			if timer == nil {
				timer = time.NewTimer(c.debounce)
			} else {
				timer.Reset(c.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			c.reload()
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Config watcher error", slog.Any("error", err))
		}
	}
}

// Done is closed once Run has returned.
func (c *ConfigWatcher) Done() <-chan struct{} {
	return c.done
}

func (c *ConfigWatcher) reload() {
	cfg, err := LoadConfig(c.path)
	if err != nil {
		slog.Warn("Config reload rejected", slog.String("path", c.path), slog.Any("error", err))
		return
	}

	slog.Info("Config reloaded", slog.String("product", cfg.Feed.Product), slog.String("grouping", cfg.Engine.Grouping))
	if c.onChange != nil {
		c.onChange(cfg)
	}
}
