package write

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rzpsarthak13/entity-creator/internal/core"
	"github.com/rzpsarthak13/entity-creator/internal/creator"
)

// Entry is one journaled event.
type Entry struct {
	// EntryID uniquely identifies this entry.
	EntryID string `json:"entryId"`

	// SessionID is the session the event was dispatched to.
	SessionID string `json:"sessionId"`

	// Seq is the position of the entry in the session's journal, starting at 1.
	Seq int64 `json:"seq"`

	// Kind is the event kind, kept alongside the payload for inspection.
	Kind creator.Kind `json:"kind"`

	// Event is the wire form of the event.
	Event json.RawMessage `json:"event"`

	// Timestamp is when the entry was appended.
	Timestamp time.Time `json:"timestamp"`
}

// Decode returns the journaled event.
func (e *Entry) Decode() (creator.Event, error) {
	return creator.DecodeEvent(e.Event)
}

// Journal is an append-only log of the events dispatched to each session,
// stored in the KV store.
//
// Keys:
//
//	{prefix}:{session}:entry:{seq}
//	{prefix}:{session}:head
type Journal struct {
	kvStore core.KVStore
	prefix  string
	ttl     time.Duration
	logger  *slog.Logger

	mu sync.Mutex
}

// NewJournal creates a new journal.
// prefix namespaces journal keys (e.g., "journal"). A zero ttl keeps
// entries forever.
func NewJournal(kvStore core.KVStore, prefix string, ttl time.Duration, logger *slog.Logger) *Journal {
	if prefix == "" {
		prefix = "journal"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		kvStore: kvStore,
		prefix:  prefix,
		ttl:     ttl,
		logger:  logger.With("component", "journal"),
	}
}

// Append records ev as the next entry of the session's journal.
func (j *Journal) Append(ctx context.Context, sessionID string, ev creator.Event) (*Entry, error) {
	payload, err := creator.EncodeEvent(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	head, err := j.Head(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		EntryID:   uuid.New().String(),
		SessionID: sessionID,
		Seq:       head + 1,
		Kind:      ev.Kind(),
		Event:     payload,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	// Entry and head go in one batch so a reader never sees a head
	// pointing past the last entry.
	items := map[string][]byte{
		j.entryKey(sessionID, entry.Seq): data,
		j.headKey(sessionID):             []byte(strconv.FormatInt(entry.Seq, 10)),
	}
	if err := j.kvStore.BatchSet(ctx, items, j.ttl); err != nil {
		return nil, fmt.Errorf("failed to store journal entry: %w", err)
	}

	j.logger.Debug("appended entry", "session", sessionID, "seq", entry.Seq, "kind", entry.Kind)
	return entry, nil
}

// Get retrieves the entry at seq.
func (j *Journal) Get(ctx context.Context, sessionID string, seq int64) (*Entry, error) {
	data, err := j.kvStore.Get(ctx, j.entryKey(sessionID, seq))
	if err != nil {
		return nil, fmt.Errorf("failed to get journal entry %d: %w", seq, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal journal entry: %w", err)
	}
	return &entry, nil
}

// Head returns the sequence number of the last entry, or 0 if the
// session has no journal.
func (j *Journal) Head(ctx context.Context, sessionID string) (int64, error) {
	data, err := j.kvStore.Get(ctx, j.headKey(sessionID))
	if errors.Is(err, core.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get journal head: %w", err)
	}

	head, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt journal head %q: %w", data, err)
	}
	return head, nil
}

// Replay returns the session's events in the order they were appended.
//
// Entries expire on their own TTL, oldest first, so the journal may have
// lost its beginning. Replay then returns the entries after the newest
// missing one.
func (j *Journal) Replay(ctx context.Context, sessionID string) ([]creator.Event, error) {
	head, err := j.Head(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var reversed []creator.Event
	seq := head
	for ; seq >= 1; seq-- {
		entry, err := j.Get(ctx, sessionID, seq)
		if errors.Is(err, core.ErrKeyNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		ev, err := entry.Decode()
		if err != nil {
			return nil, fmt.Errorf("failed to decode journal entry %d: %w", seq, err)
		}
		reversed = append(reversed, ev)
	}
	if seq >= 1 {
		j.logger.Warn("journal truncated", "session", sessionID, "head", head, "missing", seq)
	}

	events := make([]creator.Event, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		events = append(events, reversed[i])
	}
	return events, nil
}

// Delete removes the session's journal.
func (j *Journal) Delete(ctx context.Context, sessionID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	head, err := j.Head(ctx, sessionID)
	if err != nil {
		return err
	}

	// Head goes first so a failure part way never leaves a head pointing
	// at deleted entries.
	if err := j.kvStore.Delete(ctx, j.headKey(sessionID)); err != nil {
		return fmt.Errorf("failed to delete journal head: %w", err)
	}
	for seq := head; seq >= 1; seq-- {
		if err := j.kvStore.Delete(ctx, j.entryKey(sessionID, seq)); err != nil {
			return fmt.Errorf("failed to delete journal entry %d: %w", seq, err)
		}
	}
	return nil
}

func (j *Journal) entryKey(sessionID string, seq int64) string {
	return fmt.Sprintf("%s:%s:entry:%d", j.prefix, sessionID, seq)
}

func (j *Journal) headKey(sessionID string) string {
	return fmt.Sprintf("%s:%s:head", j.prefix, sessionID)
}
