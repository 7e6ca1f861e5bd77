package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rzpsarthak13/entity-creator/internal/core"
	"github.com/rzpsarthak13/entity-creator/internal/creator"
	"github.com/rzpsarthak13/entity-creator/internal/kvstore"
	"github.com/rzpsarthak13/entity-creator/internal/logging"
	"github.com/rzpsarthak13/entity-creator/internal/write"
)

func newStores() (*kvstore.MemoryKVStore, *write.Journal, *SnapshotStore) {
	kv := kvstore.NewMemoryKVStore(logging.Discard())
	return kv, write.NewJournal(kv, "journal", 0, logging.Discard()), NewSnapshotStore(kv, "test", 0)
}

func TestSessionDispatch(t *testing.T) {
	ctx := context.Background()
	_, journal, snapshots := newStores()

	s := New("s1", creator.Initial(), Options{Journal: journal, Snapshots: snapshots, Logger: logging.Discard()})
	defer s.Close()

	next, err := s.Dispatch(ctx, creator.StartCreatingEntities{})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !next.CreatingEntities {
		t.Error("Expected creatingEntities to be true")
	}
	if !s.State().Equal(next) {
		t.Error("Expected State to return the dispatched snapshot")
	}

	head, err := journal.Head(ctx, "s1")
	if err != nil || head != 1 {
		t.Errorf("Expected journal head 1, got %d (err %v)", head, err)
	}

	stored, err := snapshots.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Expected snapshot to be stored, got %v", err)
	}
	if !stored.Equal(next) {
		t.Errorf("Expected stored snapshot %+v, got %+v", next, stored)
	}
}

func TestSessionListenersSeeEveryChange(t *testing.T) {
	ctx := context.Background()
	s := New("s1", creator.Initial(), Options{Logger: logging.Discard()})
	defer s.Close()

	var changes []Change
	unsubscribe := s.Subscribe(func(c Change) {
		changes = append(changes, c)
	})

	_, _ = s.Dispatch(ctx, creator.SetTableName{Name: "users"})
	_, _ = s.Dispatch(ctx, creator.StartCreatingEntities{})
	unsubscribe()
	_, _ = s.Dispatch(ctx, creator.CommitTableChanges{})

	if len(changes) != 2 {
		t.Fatalf("Expected 2 changes before unsubscribe, got %d", len(changes))
	}
	if changes[0].SessionID != "s1" {
		t.Errorf("Expected session id s1, got %s", changes[0].SessionID)
	}
	if _, ok := changes[0].Prev.Table(); ok {
		t.Error("Expected no table name before the first change")
	}
	if name, _ := changes[0].Next.Table(); name != "users" {
		t.Errorf("Expected users after the first change, got %s", name)
	}
	if changes[1].Event.Kind() != creator.KindStartCreatingEntities {
		t.Errorf("Expected StartCreatingEntities, got %s", changes[1].Event.Kind())
	}
}

func TestSessionSerializesConcurrentDispatch(t *testing.T) {
	ctx := context.Background()
	_, journal, _ := newStores()
	s := New("s1", creator.Initial(), Options{Journal: journal, Logger: logging.Discard(), Buffer: 4})
	defer s.Close()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cols := creator.Columns{i: {Name: "c"}}
			if _, err := s.Dispatch(ctx, creator.ModifyState{Columns: cols, PrimaryKey: i}); err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		}(i)
	}
	wg.Wait()

	head, _ := journal.Head(ctx, "s1")
	if head != n {
		t.Errorf("Expected %d journal entries, got %d", n, head)
	}

	// The final snapshot is the result of the last applied event.
	events, err := journal.Replay(ctx, "s1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !creator.Fold(nil, events...).Equal(s.State()) {
		t.Error("Expected replayed journal to reproduce the session state")
	}
}

func TestSessionClose(t *testing.T) {
	s := New("s1", creator.Initial(), Options{Logger: logging.Discard()})
	s.Close()
	s.Close()

	if _, err := s.Dispatch(context.Background(), creator.ClearError{}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed, got %v", err)
	}

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Error("Expected Done to be closed")
	}
}

func TestSessionDispatchContextCancelled(t *testing.T) {
	s := New("s1", creator.Initial(), Options{Logger: logging.Discard()})
	defer s.Close()

	// Block the loop inside a listener until the test releases it.
	release := make(chan struct{})
	s.Subscribe(func(Change) { <-release })

	go func() { _, _ = s.Dispatch(context.Background(), creator.ClearError{}) }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Dispatch(ctx, creator.ClearError{})
	close(release)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

type failingStore struct {
	core.KVStore
}

func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("disk full")
}

func TestSessionPersistFailureStillApplies(t *testing.T) {
	snapshots := NewSnapshotStore(failingStore{}, "test", 0)
	s := New("s1", creator.Initial(), Options{Snapshots: snapshots, Logger: logging.Discard()})
	defer s.Close()

	next, err := s.Dispatch(context.Background(), creator.SetError{Message: "boom"})
	if !errors.Is(err, ErrNotPersisted) {
		t.Fatalf("Expected ErrNotPersisted, got %v", err)
	}
	if msg, ok := next.ErrorMessage(); !ok || msg != "boom" {
		t.Errorf("Expected error boom to be applied, got %q", msg)
	}
	if msg, _ := s.State().ErrorMessage(); msg != "boom" {
		t.Errorf("Expected session state to advance, got %q", msg)
	}
}
