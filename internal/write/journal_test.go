package write

import (
	"context"
	"errors"
	"testing"

	"github.com/rzpsarthak13/entity-creator/internal/core"
	"github.com/rzpsarthak13/entity-creator/internal/creator"
	"github.com/rzpsarthak13/entity-creator/internal/kvstore"
)

func TestJournalAppendAndReplay(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemoryKVStore(nil)
	j := NewJournal(kv, "", 0, nil)

	events := []creator.Event{
		creator.SetTableName{Name: "users"},
		creator.StartCreatingEntities{},
		creator.ModifyState{Columns: creator.Columns{0: {Name: "id", Type: "INT"}, 1: nil}, PrimaryKey: 0},
		creator.CommitTableChanges{},
	}

	for i, ev := range events {
		entry, err := j.Append(ctx, "s1", ev)
		if err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
		if entry.Seq != int64(i+1) {
			t.Errorf("Expected seq %d, got %d", i+1, entry.Seq)
		}
		if entry.Kind != ev.Kind() {
			t.Errorf("Expected kind %s, got %s", ev.Kind(), entry.Kind)
		}
		if entry.EntryID == "" {
			t.Error("Expected entry id to be set")
		}
	}

	if exists, _ := kv.Exists(ctx, "journal:s1:head"); !exists {
		t.Error("Expected head key journal:s1:head")
	}
	if exists, _ := kv.Exists(ctx, "journal:s1:entry:4"); !exists {
		t.Error("Expected entry key journal:s1:entry:4")
	}

	replayed, err := j.Replay(ctx, "s1")
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(replayed) != len(events) {
		t.Fatalf("Expected %d events, got %d", len(events), len(replayed))
	}
	if !creator.Fold(nil, replayed...).Equal(creator.Fold(nil, events...)) {
		t.Error("Expected replayed events to fold to the same snapshot")
	}
}

func TestJournalSessionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	j := NewJournal(kvstore.NewMemoryKVStore(nil), "j", 0, nil)

	_, _ = j.Append(ctx, "a", creator.ClearError{})
	_, _ = j.Append(ctx, "a", creator.ClearError{})
	_, _ = j.Append(ctx, "b", creator.ClearError{})

	if head, _ := j.Head(ctx, "a"); head != 2 {
		t.Errorf("Expected head 2 for a, got %d", head)
	}
	if head, _ := j.Head(ctx, "b"); head != 1 {
		t.Errorf("Expected head 1 for b, got %d", head)
	}
	if head, _ := j.Head(ctx, "c"); head != 0 {
		t.Errorf("Expected head 0 for unknown session, got %d", head)
	}

	events, err := j.Replay(ctx, "c")
	if err != nil || len(events) != 0 {
		t.Errorf("Expected empty replay, got %v (err %v)", events, err)
	}
}

func TestJournalGetMissing(t *testing.T) {
	j := NewJournal(kvstore.NewMemoryKVStore(nil), "j", 0, nil)
	if _, err := j.Get(context.Background(), "s", 7); !errors.Is(err, core.ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}
}

func TestJournalRejectsNilEvent(t *testing.T) {
	j := NewJournal(kvstore.NewMemoryKVStore(nil), "j", 0, nil)
	if _, err := j.Append(context.Background(), "s", nil); err == nil {
		t.Error("Expected error appending nil event")
	}
}

func TestJournalCorruptHead(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemoryKVStore(nil)
	_ = kv.Set(ctx, "j:s:head", []byte("not-a-number"), 0)

	j := NewJournal(kv, "j", 0, nil)
	if _, err := j.Head(ctx, "s"); err == nil {
		t.Error("Expected error for corrupt head")
	}
}

func TestJournalReplaySkipsExpiredBeginning(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemoryKVStore(nil)
	j := NewJournal(kv, "", 0, nil)

	_, _ = j.Append(ctx, "s1", creator.StartCreatingEntities{})
	_, _ = j.Append(ctx, "s1", creator.SetError{Message: "old"})
	_, _ = j.Append(ctx, "s1", creator.SetTableName{Name: "users"})
	_, _ = j.Append(ctx, "s1", creator.CommitTableChanges{})

	// The two oldest entries have expired while the head is still alive.
	_ = kv.Delete(ctx, "journal:s1:entry:1")
	_ = kv.Delete(ctx, "journal:s1:entry:2")

	events, err := j.Replay(ctx, "s1")
	if err != nil {
		t.Fatalf("Expected replay of the surviving entries, got %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Kind() != creator.KindSetTableName || events[1].Kind() != creator.KindCommitTableChanges {
		t.Errorf("Expected surviving events in order, got %s, %s", events[0].Kind(), events[1].Kind())
	}
}

func TestJournalDelete(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemoryKVStore(nil)
	j := NewJournal(kv, "", 0, nil)

	_, _ = j.Append(ctx, "s1", creator.ClearError{})
	_, _ = j.Append(ctx, "s1", creator.ClearError{})
	_, _ = j.Append(ctx, "s2", creator.ClearError{})

	if err := j.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	for _, key := range []string{"journal:s1:head", "journal:s1:entry:1", "journal:s1:entry:2"} {
		if exists, _ := kv.Exists(ctx, key); exists {
			t.Errorf("Expected %s to be deleted", key)
		}
	}
	if head, _ := j.Head(ctx, "s2"); head != 1 {
		t.Errorf("Expected other session to be kept, got head %d", head)
	}

	// A new journal starts over at 1.
	entry, err := j.Append(ctx, "s1", creator.ClearError{})
	if err != nil || entry.Seq != 1 {
		t.Errorf("Expected seq 1 after delete, got %+v (err %v)", entry, err)
	}
}
