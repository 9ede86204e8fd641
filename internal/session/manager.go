package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/user/clawgate/internal/config"
	"github.com/user/clawgate/internal/types"
)

// Session is one conversation with its own agent context. The manager owns
// every field; the run coordinator reads them through accessor methods and
// mutates history and run timestamps through the manager only.
type Session struct {
	Key          types.SessionKey
	Surface      string
	To           string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastRunAt    time.Time // zero = never ran
	History      []types.HistoryEntry
	IdleDeadline time.Time
}

func (s *Session) entry() *types.SessionEntry {
	e := &types.SessionEntry{
		Surface:   s.Surface,
		To:        s.To,
		CreatedAt: types.Millis(s.CreatedAt),
		UpdatedAt: types.Millis(s.UpdatedAt),
		History:   append([]types.HistoryEntry(nil), s.History...),
	}
	if !s.LastRunAt.IsZero() {
		ms := types.Millis(s.LastRunAt)
		e.LastRunAt = &ms
	}
	return e
}

// Manager exclusively owns the in-memory session table. Evicted sessions
// stay in the store and are restored on the next accepted message for
// their key.
type Manager struct {
	store *Store
	cfg   config.SessionConfig

	mu       sync.Mutex
	sessions map[types.SessionKey]*Session

	// activeProbe reports whether a run is in flight for a key; idle
	// eviction skips such sessions. Wired by the coordinator.
	activeProbe func(types.SessionKey) bool

	now func() time.Time
}

func NewManager(store *Store, cfg config.SessionConfig) *Manager {
	return &Manager{
		store:    store,
		cfg:      cfg,
		sessions: make(map[types.SessionKey]*Session),
		now:      time.Now,
	}
}

// SetActiveProbe wires the run coordinator's "is a run active" check.
func (m *Manager) SetActiveProbe(probe func(types.SessionKey) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeProbe = probe
}

// DeriveKey maps an event to its session key according to the configured
// scope. Group messages under per-group scope share one session; DMs always
// key on the sender.
func (m *Manager) DeriveKey(evt *types.InboundEvent) types.SessionKey {
	switch m.cfg.Scope {
	case "per-group":
		if evt.ChatType == types.ChatGroup && evt.GroupID != "" {
			return types.NewSessionKey(evt.Surface, "group", evt.GroupID)
		}
		return types.NewSessionKey(evt.Surface, evt.From)
	case "global":
		key := m.cfg.MainKey
		if key == "" {
			key = "main"
		}
		return types.SessionKey(key)
	default: // per-sender
		return types.NewSessionKey(evt.Surface, evt.From)
	}
}

// IsResetTrigger reports whether the trimmed body equals a configured
// reset trigger.
func (m *Manager) IsResetTrigger(body string) bool {
	trimmed := strings.TrimSpace(body)
	for _, t := range m.cfg.ResetTriggers {
		if trimmed == t {
			return true
		}
	}
	return false
}

// Resolve returns the session for a key, restoring it from the store or
// creating it. Reports whether the session is new (no prior state anywhere).
func (m *Manager) Resolve(key types.SessionKey, surface, to string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[key]; ok {
		return sess, false
	}

	now := m.now()
	if entry := m.store.Get(key); entry != nil {
		sess := &Session{
			Key:          key,
			Surface:      entry.Surface,
			To:           entry.To,
			CreatedAt:    time.UnixMilli(entry.CreatedAt),
			UpdatedAt:    now,
			History:      append([]types.HistoryEntry(nil), entry.History...),
			IdleDeadline: m.deadlineFrom(now),
		}
		if entry.LastRunAt != nil {
			sess.LastRunAt = time.UnixMilli(*entry.LastRunAt)
		}
		m.sessions[key] = sess
		return sess, false
	}

	sess := &Session{
		Key:          key,
		Surface:      surface,
		To:           to,
		CreatedAt:    now,
		UpdatedAt:    now,
		IdleDeadline: m.deadlineFrom(now),
	}
	m.sessions[key] = sess
	m.store.Put(key, sess.entry())
	return sess, true
}

// Reset drops all state for a key, in memory and in the store. The next
// accepted message starts a fresh session.
func (m *Manager) Reset(key types.SessionKey) {
	m.mu.Lock()
	delete(m.sessions, key)
	m.mu.Unlock()
	m.store.Delete(key)
	slog.Info("session reset", "key", key)
}

// AppendHistory appends one turn, dropping the oldest entries past the
// history limit, and persists.
func (m *Manager) AppendHistory(key types.SessionKey, role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[key]
	if !ok {
		return
	}
	now := m.now()
	sess.History = append(sess.History, types.HistoryEntry{
		Role:    role,
		Content: content,
		TS:      types.Millis(now),
	})
	if limit := m.cfg.HistoryLimit; limit > 0 && len(sess.History) > limit {
		sess.History = sess.History[len(sess.History)-limit:]
	}
	sess.UpdatedAt = now
	sess.IdleDeadline = m.deadlineFrom(now)
	m.store.Put(key, sess.entry())
}

// History returns a copy of the session's context window.
func (m *Manager) History(key types.SessionKey) []types.HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[key]; ok {
		return append([]types.HistoryEntry(nil), sess.History...)
	}
	return nil
}

// TouchRun records a run start for the key and pushes out the idle deadline.
func (m *Manager) TouchRun(key types.SessionKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[key]
	if !ok {
		return
	}
	now := m.now()
	sess.LastRunAt = now
	sess.UpdatedAt = now
	sess.IdleDeadline = m.deadlineFrom(now)
	m.store.Put(key, sess.entry())
}

// Lookup returns the in-memory session for a key, or nil.
func (m *Manager) Lookup(key types.SessionKey) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[key]
}

// Keys lists the keys currently resident in memory.
func (m *Manager) Keys() []types.SessionKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]types.SessionKey, 0, len(m.sessions))
	for k := range m.sessions {
		keys = append(keys, k)
	}
	return keys
}

func (m *Manager) deadlineFrom(now time.Time) time.Time {
	idle := m.cfg.IdleMinutes
	if idle <= 0 {
		idle = 60
	}
	return now.Add(time.Duration(idle) * time.Minute)
}

// SweepIdle evicts sessions past their idle deadline with no active run.
// Evicted state stays in the store, so re-resolving the key restores it.
func (m *Manager) SweepIdle() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	evicted := 0
	for key, sess := range m.sessions {
		if now.Before(sess.IdleDeadline) {
			continue
		}
		if m.activeProbe != nil && m.activeProbe(key) {
			continue
		}
		m.store.Put(key, sess.entry())
		delete(m.sessions, key)
		evicted++
	}
	if evicted > 0 {
		slog.Debug("idle sessions evicted", "count", evicted)
	}
	return evicted
}

// StartSweeper runs SweepIdle once a minute until the context ends.
func (m *Manager) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.SweepIdle()
			case <-ctx.Done():
				return
			}
		}
	}()
}
