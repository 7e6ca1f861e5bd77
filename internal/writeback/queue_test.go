package writeback

import (
	"context"
	"errors"
	"testing"

	"github.com/rzpsarthak13/entity-creator/internal/core"
	"github.com/rzpsarthak13/entity-creator/internal/kvstore"
	"github.com/rzpsarthak13/entity-creator/internal/registry"
)

func commit(table string) *core.CommitOperation {
	return &core.CommitOperation{
		SessionID:  "session-1",
		TableName:  table,
		Columns:    map[int]*core.Column{0: {Name: "id", Type: "INT"}, 1: nil},
		PrimaryKey: 0,
	}
}

func TestMemoryQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(10)

	for _, table := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, commit(table)); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	}
	if q.Size() != 3 {
		t.Errorf("Expected size 3, got %d", q.Size())
	}

	ops, err := q.Dequeue(ctx, 2)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(ops) != 2 || ops[0].TableName != "a" || ops[1].TableName != "b" {
		t.Errorf("Expected [a b], got %v", tables(ops))
	}

	ops, _ = q.Dequeue(ctx, 10)
	if len(ops) != 1 || ops[0].TableName != "c" {
		t.Errorf("Expected [c], got %v", tables(ops))
	}

	ops, _ = q.Dequeue(ctx, 10)
	if len(ops) != 0 {
		t.Errorf("Expected empty queue, got %v", tables(ops))
	}
}

func TestMemoryQueueFillsIDAndTimestamp(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(1)

	op := commit("users")
	if err := q.Enqueue(ctx, op); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if op.ID == "" {
		t.Error("Expected ID to be assigned")
	}
	if op.Timestamp.IsZero() {
		t.Error("Expected timestamp to be assigned")
	}
}

func TestMemoryQueueFull(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(1)

	if err := q.Enqueue(ctx, commit("a")); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := q.Enqueue(ctx, commit("b")); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}
}

func TestMemoryQueueClose(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(2)

	_ = q.Enqueue(ctx, commit("a"))
	if err := q.Close(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("Expected second close to be a no-op, got %v", err)
	}

	if err := q.Enqueue(ctx, commit("b")); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}

	ops, err := q.Dequeue(ctx, 10)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(ops) != 1 {
		t.Errorf("Expected buffered commit to drain after close, got %d", len(ops))
	}
}

func TestEnqueueRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(10)

	tests := []struct {
		name string
		op   *core.CommitOperation
	}{
		{"nil", nil},
		{"no table", &core.CommitOperation{SessionID: "s"}},
		{"no session", &core.CommitOperation{TableName: "t"}},
	}

	for _, tt := range tests {
		if err := q.Enqueue(ctx, tt.op); !errors.Is(err, ErrInvalidOperation) {
			t.Errorf("%s: expected ErrInvalidOperation, got %v", tt.name, err)
		}
	}
}

func TestRedisQueueOverMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryKVStore(nil)

	q, err := NewRedisQueue(store, "", nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if err := q.Enqueue(ctx, commit("users")); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := q.Enqueue(ctx, commit("orders")); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if q.Size() != 2 {
		t.Errorf("Expected size 2, got %d", q.Size())
	}

	ops, err := q.Dequeue(ctx, 10)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(ops) != 2 || ops[0].TableName != "users" || ops[1].TableName != "orders" {
		t.Fatalf("Expected [users orders], got %v", tables(ops))
	}

	// Placeholder rows survive the JSON round trip.
	col, ok := ops[0].Columns[1]
	if !ok || col != nil {
		t.Errorf("Expected nil placeholder at key 1, got %v (present %v)", col, ok)
	}
	if ops[0].Columns[0].Name != "id" {
		t.Errorf("Expected id column, got %+v", ops[0].Columns[0])
	}

	_ = q.Close()
	if err := q.Enqueue(ctx, commit("x")); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
}

type plainStore struct{ core.KVStore }

func TestRedisQueueRequiresListOps(t *testing.T) {
	if _, err := NewRedisQueue(plainStore{}, "", nil); !errors.Is(err, ErrRedisOperationsNotSupported) {
		t.Errorf("Expected ErrRedisOperationsNotSupported, got %v", err)
	}
}

func TestNewSelectsQueue(t *testing.T) {
	cfg := registry.DefaultInternalConfig().Commit

	q, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, ok := q.(*MemoryQueue); !ok {
		t.Errorf("Expected *MemoryQueue, got %T", q)
	}

	cfg.QueueType = "redis"
	q, err = New(cfg, kvstore.NewMemoryKVStore(nil), nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, ok := q.(*RedisQueue); !ok {
		t.Errorf("Expected *RedisQueue, got %T", q)
	}

	cfg.QueueType = "sqs"
	if _, err := New(cfg, nil, nil); err == nil {
		t.Error("Expected error for unsupported queue type")
	}
}

func tables(ops []*core.CommitOperation) []string {
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = op.TableName
	}
	return names
}
