package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/metrics"
)

// ErrSessionNotFound marks a session id with no live entry and no
// persisted snapshot.
var ErrSessionNotFound = errors.New("session not found")

const (
	defaultIdleTimeout     = 30 * time.Minute
	defaultCleanupInterval = time.Minute
	defaultRevisionLimit   = 10
)

// ManagerOptions bound session lifecycle.
type ManagerOptions struct {
	IdleTimeout     time.Duration // eviction threshold for the in-memory entry
	CleanupInterval time.Duration
	RevisionLimit   int // feedback undo depth per session
}

func (o *ManagerOptions) normalize() {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = defaultIdleTimeout
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = defaultCleanupInterval
	}
	if o.RevisionLimit <= 0 {
		o.RevisionLimit = defaultRevisionLimit
	}
}

// Manager owns the live session map. Sessions are evicted from memory
// after the idle timeout but their persisted snapshot stays in the
// store, so a later message transparently restores the conversation.
type Manager struct {
	store *store.Store // nil runs memory-only
	exp   *metrics.Exporter
	opts  ManagerOptions

	mu       sync.RWMutex
	sessions map[string]*Session
	done     chan struct{}
}

// NewManager creates a manager and starts its cleanup loop. store and
// exporter may be nil.
func NewManager(st *store.Store, exporter *metrics.Exporter, opts ManagerOptions) *Manager {
	opts.normalize()
	m := &Manager{
		store:    st,
		exp:      exporter,
		opts:     opts,
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// Create starts a fresh conversation and persists its initial snapshot.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	sess := newSession(uuid.NewString(), m.opts.RevisionLimit)

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	count := len(m.sessions)
	m.mu.Unlock()
	m.setGauge(count)

	sess.mu.Lock()
	m.persistLocked(ctx, sess)
	sess.mu.Unlock()
	return sess, nil
}

// Get returns the live session, restoring it from the store when the
// in-memory entry was evicted or the process restarted.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return sess, nil
	}

	restored, err := m.restore(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if live, ok := m.sessions[id]; ok {
		// Someone restored it while we were reading the store.
		m.mu.Unlock()
		return live, nil
	}
	m.sessions[id] = restored
	count := len(m.sessions)
	m.mu.Unlock()
	m.setGauge(count)
	return restored, nil
}

// Reset clears a session's slots back to IDLE, keeping the id.
func (m *Manager) Reset(ctx context.Context, id string) error {
	sess, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.resetLocked(m.opts.RevisionLimit)
	m.persistLocked(ctx, sess)
	return nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown stops the cleanup loop. Per-turn persistence means there is
// nothing left to flush.
func (m *Manager) Shutdown() {
	close(m.done)
}

// persistLocked writes the session snapshot through the store,
// best-effort. Caller holds the session mutex.
func (m *Manager) persistLocked(ctx context.Context, sess *Session) {
	if m.store == nil {
		return
	}
	raw, err := json.Marshal(sess.slots)
	if err != nil {
		slog.Warn("session snapshot marshal failed", "session_id", sess.ID, "error", err)
		return
	}
	_, err = m.store.UpsertConversationSession(ctx, &store.UpsertConversationSession{
		ID:    sess.ID,
		State: string(sess.state),
		Slots: string(raw),
		Turn:  sess.turn,
	})
	if err != nil {
		slog.Warn("session snapshot persist failed", "session_id", sess.ID, "error", err)
	}
}

func (m *Manager) restore(ctx context.Context, id string) (*Session, error) {
	if m.store == nil {
		return nil, ErrSessionNotFound
	}
	row, err := m.store.GetConversationSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("session restore: %w", err)
	}
	if row == nil {
		return nil, ErrSessionNotFound
	}

	sess := newSession(row.ID, m.opts.RevisionLimit)
	sess.CreatedAt = time.Unix(row.CreatedTs, 0)
	sess.turn = row.Turn
	if row.Slots != "" {
		if err := json.Unmarshal([]byte(row.Slots), &sess.slots); err != nil {
			slog.Warn("session snapshot unmarshal failed, restoring empty slots",
				"session_id", id, "error", err)
			sess.slots = Slots{}
		}
	}
	sess.state = restingState(State(row.State), &sess.slots)
	return sess, nil
}

// restingState maps a persisted state onto a state the machine can
// resume from. A snapshot taken mid-turn (the process died between
// nodes) falls back to the nearest resting state its slots support.
func restingState(s State, slots *Slots) State {
	switch s {
	case StateIdle, StateReady, StatePendingDecision:
		return s
	}
	switch {
	case slots.Itinerary != nil:
		return StateReady
	case len(slots.Options) > 0:
		return StatePendingDecision
	default:
		return StateIdle
	}
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.opts.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.evictIdle()
		case <-m.done:
			return
		}
	}
}

// evictIdle drops in-memory entries past the idle timeout. The store
// snapshot survives, so the conversation is recoverable.
func (m *Manager) evictIdle() {
	now := time.Now()

	m.mu.Lock()
	for id, sess := range m.sessions {
		sess.mu.Lock()
		idle := now.Sub(sess.lastActive)
		sess.mu.Unlock()
		if idle > m.opts.IdleTimeout {
			slog.Info("evicting idle session", "session_id", id, "idle", idle)
			delete(m.sessions, id)
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()
	m.setGauge(count)
}

func (m *Manager) setGauge(count int) {
	if m.exp != nil {
		m.exp.SetActiveSessions(count)
	}
}
