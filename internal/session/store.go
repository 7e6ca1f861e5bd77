package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rzpsarthak13/entity-creator/internal/core"
	"github.com/rzpsarthak13/entity-creator/internal/creator"
)

// ErrSnapshotNotFound is returned by Load when no snapshot is stored.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore persists the latest snapshot of each session in a KV store.
type SnapshotStore struct {
	kvStore   core.KVStore
	namespace string
	ttl       time.Duration
}

// NewSnapshotStore creates a snapshot store. Keys are
// {namespace}:creator:snapshot:{sessionID}. A zero ttl keeps snapshots forever.
func NewSnapshotStore(kvStore core.KVStore, namespace string, ttl time.Duration) *SnapshotStore {
	if namespace == "" {
		namespace = "entity-creator"
	}
	return &SnapshotStore{
		kvStore:   kvStore,
		namespace: namespace,
		ttl:       ttl,
	}
}

// Key returns the KV key for a session's snapshot.
func (s *SnapshotStore) Key(sessionID string) string {
	return fmt.Sprintf("%s:creator:snapshot:%s", s.namespace, sessionID)
}

// Save stores state as the session's latest snapshot.
func (s *SnapshotStore) Save(ctx context.Context, sessionID string, state creator.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := s.kvStore.Set(ctx, s.Key(sessionID), data, s.ttl); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

// Load returns the session's latest snapshot.
func (s *SnapshotStore) Load(ctx context.Context, sessionID string) (creator.State, error) {
	data, err := s.kvStore.Get(ctx, s.Key(sessionID))
	if errors.Is(err, core.ErrKeyNotFound) {
		return creator.State{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, sessionID)
	}
	if err != nil {
		return creator.State{}, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var state creator.State
	if err := json.Unmarshal(data, &state); err != nil {
		return creator.State{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return state, nil
}

// Delete removes the session's snapshot.
func (s *SnapshotStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.kvStore.Delete(ctx, s.Key(sessionID)); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
