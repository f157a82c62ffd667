package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the configuration file and invokes a callback with the
// freshly loaded config after changes settle. Rapid successive writes (editor
// save patterns) are debounced.
type Watcher struct {
	configPath   string
	onReload     func(*Config)
	watcher      *fsnotify.Watcher
	reloadChan   chan struct{}
	debounceTime time.Duration
}

// NewWatcher creates a watcher for the given config path.
func NewWatcher(configPath string, onReload func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	return &Watcher{
		configPath:   absPath,
		onReload:     onReload,
		watcher:      fw,
		reloadChan:   make(chan struct{}, 1),
		debounceTime: 2 * time.Second,
	}, nil
}

// Start begins monitoring. Watching the parent directory is more reliable
// than watching the file itself across rename-based saves.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.configPath)); err != nil {
		return fmt.Errorf("watch config directory: %w", err)
	}

	slog.Info("starting configuration watcher", "config_path", w.configPath)
	go w.watchLoop(ctx)
	go w.reloadLoop(ctx)
	return nil
}

// Stop closes the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.configPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			select {
			case w.reloadChan <- struct{}{}:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reloadLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.reloadChan:
			timer := time.NewTimer(w.debounceTime)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			cfg, err := Load(w.configPath)
			if err != nil {
				slog.Error("config reload failed, keeping previous config", "error", err)
				continue
			}
			slog.Info("configuration reloaded", "config_path", w.configPath)
			w.onReload(cfg)
		}
	}
}
