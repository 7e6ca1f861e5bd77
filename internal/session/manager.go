package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/rzpsarthak13/entity-creator/internal/creator"
	"github.com/rzpsarthak13/entity-creator/internal/write"
)

// ErrSessionNotFound is returned when a session is not open.
var ErrSessionNotFound = errors.New("session not found")

// Manager keeps track of open sessions and restores them from storage.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	listeners []Listener

	journal   *write.Journal
	snapshots *SnapshotStore
	buffer    int
	logger    *slog.Logger
}

// NewManager creates a session manager. journal and snapshots may be nil.
func NewManager(journal *write.Journal, snapshots *SnapshotStore, buffer int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:  make(map[string]*Session),
		journal:   journal,
		snapshots: snapshots,
		buffer:    buffer,
		logger:    logger,
	}
}

// Subscribe attaches l to every open session and every session opened later.
func (m *Manager) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners = append(m.listeners, l)
	for _, s := range m.sessions {
		s.Subscribe(l)
	}
}

// Open returns the session with the given id, restoring it if it is not
// open. An empty id opens a new session with a generated id.
//
// Restore order: stored snapshot, then journal replay, then the initial
// snapshot.
func (m *Manager) Open(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = uuid.New().String()
	}

	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	initial, source, err := m.restore(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another caller may have opened it while we were restoring.
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}

	s = New(id, initial, Options{
		Journal:   m.journal,
		Snapshots: m.snapshots,
		Logger:    m.logger,
		Buffer:    m.buffer,
	})
	for _, l := range m.listeners {
		s.Subscribe(l)
	}
	m.sessions[id] = s

	m.logger.Info("session opened", "component", "session", "session", id, "source", source)
	return s, nil
}

func (m *Manager) restore(ctx context.Context, id string) (creator.State, string, error) {
	if m.snapshots != nil {
		state, err := m.snapshots.Load(ctx, id)
		if err == nil {
			return state, "snapshot", nil
		}
		if !errors.Is(err, ErrSnapshotNotFound) {
			return creator.State{}, "", fmt.Errorf("failed to restore session %s: %w", id, err)
		}
	}

	if m.journal != nil {
		events, err := m.journal.Replay(ctx, id)
		if err != nil {
			return creator.State{}, "", fmt.Errorf("failed to replay session %s: %w", id, err)
		}
		if len(events) > 0 {
			return creator.Fold(nil, events...), "journal", nil
		}
	}

	return creator.Initial(), "initial", nil
}

// Get returns an open session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// List returns the ids of all open sessions, sorted.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Close closes an open session. Its snapshot and journal stay in storage.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.Close()
	return nil
}

// Purge closes the session if it is open and deletes its snapshot and
// journal, so the id opens fresh next time.
func (m *Manager) Purge(ctx context.Context, id string) error {
	if err := m.Close(id); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}

	var errs []error
	if m.snapshots != nil {
		if err := m.snapshots.Delete(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if m.journal != nil {
		if err := m.journal.Delete(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to purge session %s: %w", id, err)
	}

	m.logger.Info("session purged", "component", "session", "session", id)
	return nil
}

// CloseAll closes every open session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
