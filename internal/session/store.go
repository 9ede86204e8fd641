// Package session owns the session table: key derivation, lifecycle,
// bounded history, idle eviction, and the persisted JSON document.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/clawgate/internal/types"
)

const (
	debounceMin = 250 * time.Millisecond
	debounceMax = 2 * time.Second
)

// Store persists the session table as a single JSON document mapping
// key → SessionEntry. Writes are debounced: a change is flushed no sooner
// than 250ms and no later than 2s after the first unflushed change.
// Persistence errors never block the in-memory path; they are logged and
// retried on the next change.
type Store struct {
	path string

	mu         sync.Mutex
	entries    map[types.SessionKey]*types.SessionEntry
	dirty      bool
	firstDirty time.Time
	timer      *time.Timer
	closed     bool
}

// OpenStore loads the document at <dir>/sessions/sessions.json, creating
// the directory as needed. A corrupted document is renamed with a timestamp
// suffix and a fresh one started.
func OpenStore(dir string) (*Store, error) {
	path := filepath.Join(dir, "sessions", "sessions.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}

	s := &Store{
		path:    path,
		entries: make(map[types.SessionKey]*types.SessionEntry),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session store: %w", err)
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		quarantine := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		slog.Warn("session store corrupted, starting fresh", "renamed_to", quarantine, "error", err)
		if renameErr := os.Rename(path, quarantine); renameErr != nil {
			slog.Error("failed to quarantine corrupt store", "error", renameErr)
		}
		s.entries = make(map[types.SessionKey]*types.SessionEntry)
	}
	return s, nil
}

// Get returns the persisted entry for a key, or nil.
func (s *Store) Get(key types.SessionKey) *types.SessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[key]
}

// All returns a copy of the persisted table.
func (s *Store) All() map[types.SessionKey]*types.SessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[types.SessionKey]*types.SessionEntry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// Put records an entry and schedules a debounced write.
func (s *Store) Put(key types.SessionKey, entry *types.SessionEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry
	s.markDirtyLocked()
}

// Delete removes an entry and schedules a debounced write.
func (s *Store) Delete(key types.SessionKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return
	}
	delete(s.entries, key)
	s.markDirtyLocked()
}

func (s *Store) markDirtyLocked() {
	if s.closed {
		return
	}
	now := time.Now()
	if !s.dirty {
		s.dirty = true
		s.firstDirty = now
	}

	delay := debounceMin
	if elapsed := now.Sub(s.firstDirty); elapsed+debounceMin > debounceMax {
		delay = debounceMax - elapsed
		if delay < 0 {
			delay = 0
		}
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, func() {
		if err := s.Flush(); err != nil {
			slog.Error("session store write failed, will retry on next change", "error", err)
		}
	})
}

// Flush writes the document immediately if there are unflushed changes.
func (s *Store) Flush() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("marshal session store: %w", err)
	}
	s.dirty = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	path := s.path
	s.mu.Unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.markFailed()
		return fmt.Errorf("write session store: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		s.markFailed()
		return fmt.Errorf("rename session store: %w", err)
	}
	return nil
}

// markFailed re-arms the dirty flag so the next change retries the write.
func (s *Store) markFailed() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// Close flushes and stops the debounce timer.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.Flush()
}
