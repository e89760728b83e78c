package history

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/nadzzz/aura/internal/intent"
	"github.com/nadzzz/aura/internal/message"
)

// DefaultTTL bounds how old an entry may be and still be referenced.
const DefaultTTL = 2 * time.Minute

// Store persists the frame of each session.
type Store interface {
	// Load returns the frame of session, or an empty frame if none exists.
	Load(ctx context.Context, session string) (Frame, error)
	Save(ctx context.Context, session string, f Frame) error
	Delete(ctx context.Context, session string) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithCapacity overrides DefaultCapacity.
func WithCapacity(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.capacity = n
		}
	}
}

// WithTTL overrides DefaultTTL. A zero TTL disables expiry.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) { m.ttl = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTable lets the manager record slot order from the intent schema.
func WithTable(t *intent.Table) Option {
	return func(m *Manager) { m.table = t }
}

// Manager owns the history of every session. All reads and writes go
// through one mutex, so a snapshot never observes a half-applied record.
type Manager struct {
	store    Store
	capacity int
	ttl      time.Duration
	now      func() time.Time
	table    *intent.Table

	mu sync.Mutex
}

// NewManager creates a Manager backed by store. A nil store means an
// in-memory one.
func NewManager(store Store, opts ...Option) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	m := &Manager{
		store:    store,
		capacity: DefaultCapacity,
		ttl:      DefaultTTL,
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Snapshot returns the current view of session's history.
func (m *Manager) Snapshot(ctx context.Context, session string) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.store.Load(ctx, session)
	if err != nil {
		return View{}, fmt.Errorf("loading history of %s: %w", session, err)
	}
	return View{Frame: f, Now: m.now(), TTL: m.ttl}, nil
}

// Record appends cmd and its outcome to session's history.
func (m *Manager) Record(ctx context.Context, session string, cmd message.ResolvedCommand, out message.Outcome) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.store.Load(ctx, session)
	if err != nil {
		return Entry{}, fmt.Errorf("loading history of %s: %w", session, err)
	}
	next, e := f.Record(cmd, out, m.order(cmd), m.now(), m.capacity)
	if err := m.store.Save(ctx, session, next); err != nil {
		return Entry{}, fmt.Errorf("saving history of %s: %w", session, err)
	}
	slog.Debug("history recorded", "session_id", session, "seq", e.Seq, "intent", cmd.IntentID)
	return e, nil
}

// Reset forgets session's history.
func (m *Manager) Reset(ctx context.Context, session string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Delete(ctx, session)
}

func (m *Manager) order(cmd message.ResolvedCommand) []string {
	if m.table != nil {
		if spec, ok := m.table.Lookup(cmd.IntentID); ok {
			out := make([]string, 0, len(spec.Slots))
			for _, ss := range spec.Slots {
				out = append(out, ss.Name)
			}
			return out
		}
	}
	return slices.Sorted(maps.Keys(cmd.Slots))
}

// MemoryStore keeps frames in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	frames map[string]Frame
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{frames: make(map[string]Frame)}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, session string) (Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frames[session], nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, session string, f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[session] = f
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.frames, session)
	return nil
}
