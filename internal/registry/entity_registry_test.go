package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rzpsarthak13/entity-creator/internal/core"
)

func testEntity(name string) *Entity {
	return &Entity{
		Name: name,
		Schema: &core.Schema{
			TableName: name,
			Columns:   []core.Column{{Name: "id", Type: "INT"}},
		},
		SessionID: "s1",
	}
}

func TestEntityRegistryRegisterAndGet(t *testing.T) {
	ctx := context.Background()
	er := NewEntityRegistry(nil)

	if err := er.Register(ctx, testEntity("users")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, err := er.Get("users")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be set")
	}
	if er.Count() != 1 {
		t.Errorf("Expected 1 entity, got %d", er.Count())
	}

	if _, err := er.Get("orders"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("Expected ErrEntityNotFound, got %v", err)
	}
}

func TestEntityRegistryReRegisterKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	er := NewEntityRegistry(nil)

	first := testEntity("users")
	first.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := er.Register(ctx, first); err != nil {
		t.Fatal(err)
	}

	second := testEntity("users")
	second.CommitID = "c2"
	if err := er.Register(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, _ := er.Get("users")
	if got.CommitID != "c2" {
		t.Errorf("Expected replaced entity, got commit %q", got.CommitID)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("Expected CreatedAt %v, got %v", first.CreatedAt, got.CreatedAt)
	}
	if first.Revision != 1 || got.Revision != 2 {
		t.Errorf("Expected revisions 1 and 2, got %d and %d", first.Revision, got.Revision)
	}
}

func TestEntityRegistryRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	er := NewEntityRegistry(nil)

	mismatched := testEntity("users")
	mismatched.Schema.TableName = "orders"

	for name, e := range map[string]*Entity{
		"nil":        nil,
		"no name":    {Schema: &core.Schema{}},
		"no schema":  {Name: "users"},
		"mismatched": mismatched,
	} {
		if err := er.Register(ctx, e); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if er.Count() != 0 {
		t.Errorf("Expected empty registry, got %d", er.Count())
	}
}

func TestEntityRegistryListIsSorted(t *testing.T) {
	ctx := context.Background()
	er := NewEntityRegistry(nil)
	for _, name := range []string{"orders", "accounts", "users"} {
		if err := er.Register(ctx, testEntity(name)); err != nil {
			t.Fatal(err)
		}
	}

	list := er.List()
	want := []string{"accounts", "orders", "users"}
	if len(list) != len(want) {
		t.Fatalf("Expected %d entities, got %d", len(want), len(list))
	}
	for i, e := range list {
		if e.Name != want[i] {
			t.Errorf("Expected %s at %d, got %s", want[i], i, e.Name)
		}
	}
}

func TestEntityRegistryUnregister(t *testing.T) {
	ctx := context.Background()
	er := NewEntityRegistry(nil)
	_ = er.Register(ctx, testEntity("users"))

	if err := er.Unregister(ctx, "users"); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if err := er.Unregister(ctx, "users"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("Expected ErrEntityNotFound, got %v", err)
	}
}

func TestLifecycleHooks(t *testing.T) {
	ctx := context.Background()
	lm := NewLifecycleManager()

	var order []string
	lm.RegisterHook(LifecycleHookFunc{
		OnRegisterFunc: func(ctx context.Context, e *Entity) error {
			order = append(order, "first:"+e.Name)
			return nil
		},
	})
	lm.RegisterHook(SchemaHook(func(ctx context.Context, s *core.Schema) error {
		order = append(order, "schema:"+s.TableName)
		if s.TableName == "blocked" {
			return errors.New("blocked")
		}
		return nil
	}))
	lm.RegisterHook(LifecycleHookFunc{
		OnUnregisterFunc: func(ctx context.Context, e *Entity) error {
			return errors.New("keep " + e.Name)
		},
	})

	er := NewEntityRegistry(lm)
	if er.Lifecycle() != lm {
		t.Error("Expected registry to use the given lifecycle manager")
	}

	if err := er.Register(ctx, testEntity("users")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if len(order) != 2 || order[0] != "first:users" || order[1] != "schema:users" {
		t.Errorf("Expected hooks in registration order, got %v", order)
	}

	if err := er.Register(ctx, testEntity("blocked")); err == nil {
		t.Error("Expected register hook error")
	}
	if _, err := er.Get("blocked"); !errors.Is(err, ErrEntityNotFound) {
		t.Error("Expected blocked entity not to be registered")
	}

	if err := er.Unregister(ctx, "users"); err == nil {
		t.Error("Expected unregister hook error")
	}
	if er.Count() != 1 {
		t.Errorf("Expected entity to stay registered, got %d", er.Count())
	}
}
