package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Manager holds the live configuration behind an atomic pointer so readers
// always see a complete snapshot. Reload swaps the pointer; it never mutates
// a published Config.
type Manager struct {
	path string
	cur  atomic.Pointer[Config]
}

// NewManager wraps an already-loaded config.
func NewManager(path string, cfg *Config) *Manager {
	m := &Manager{path: path}
	m.cur.Store(cfg)
	return m
}

// Current returns the live config snapshot.
func (m *Manager) Current() *Config {
	return m.cur.Load()
}

// Reload re-reads the file and swaps the snapshot. A config that fails to
// parse or validate leaves the previous snapshot in place.
func (m *Manager) Reload() error {
	cfg, err := Load(m.path)
	if err != nil {
		return err
	}
	warnings, err := cfg.Validate()
	if err != nil {
		return err
	}
	LogValidation(warnings)
	m.cur.Store(cfg)
	slog.Info("config reloaded", "path", m.path)
	return nil
}

// Watch reloads the config whenever the file changes on disk. Editors often
// write via rename, so the watch is on the parent directory. Events are
// debounced because a single save can produce several of them.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		var pending *time.Timer
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(m.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(200*time.Millisecond, func() {
					if err := m.Reload(); err != nil {
						slog.Error("config reload failed, keeping previous", "error", err)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
