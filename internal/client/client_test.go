package client

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rzpsarthak13/entity-creator/internal/broker"
	"github.com/rzpsarthak13/entity-creator/internal/core"
	"github.com/rzpsarthak13/entity-creator/internal/creator"
	"github.com/rzpsarthak13/entity-creator/internal/database"
	"github.com/rzpsarthak13/entity-creator/internal/kvstore"
	"github.com/rzpsarthak13/entity-creator/internal/logging"
	"github.com/rzpsarthak13/entity-creator/internal/registry"
	"github.com/rzpsarthak13/entity-creator/internal/write"
)

type yamlProvider string

func (p yamlProvider) GetYAML() ([]byte, error) {
	return []byte(p), nil
}

// fakeDatabase keeps created schemas in memory. The next failReads
// GetSchema calls fail.
type fakeDatabase struct {
	mu        sync.Mutex
	tables    map[string]*core.Schema
	execs     []string
	creates   int
	failReads int
	closed    bool
}

func newFakeDatabase() *fakeDatabase {
	return &fakeDatabase{tables: make(map[string]*core.Schema)}
}

func (f *fakeDatabase) CreateTable(ctx context.Context, s *core.Schema) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tables[s.TableName]; ok {
		return database.ErrTableExists
	}
	f.tables[s.TableName] = s
	f.creates++
	return nil
}

func (f *fakeDatabase) TableExists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tables[name]
	return ok, nil
}

func (f *fakeDatabase) GetSchema(ctx context.Context, name string) (*core.Schema, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads > 0 {
		f.failReads--
		return nil, errors.New("connection reset")
	}
	s, ok := f.tables[name]
	if !ok {
		return nil, database.ErrTableNotFound
	}
	return s, nil
}

func (f *fakeDatabase) GetTables(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.tables))
	for name := range f.tables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (f *fakeDatabase) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, query)
	if name, ok := strings.CutPrefix(query, "DROP TABLE "); ok {
		name = strings.Trim(name, "`")
		if _, exists := f.tables[name]; !exists {
			return 0, database.ErrTableNotFound
		}
		delete(f.tables, name)
	}
	return 0, nil
}

func (f *fakeDatabase) Close() error {
	f.closed = true
	return nil
}

func newTestClient(t *testing.T) (*ClientImpl, *fakeDatabase) {
	t.Helper()
	return newTestClientWith(t, "", newFakeDatabase())
}

func newTestClientWith(t *testing.T, config string, db *fakeDatabase) (*ClientImpl, *fakeDatabase) {
	t.Helper()
	c, err := NewClientImpl(yamlProvider(config), Backends{
		KVStore:  kvstore.NewMemoryKVStore(nil),
		Database: db,
		Logger:   logging.Discard(),
	})
	if err != nil {
		t.Fatalf("NewClientImpl failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, db
}

func dispatchAll(t *testing.T, c *ClientImpl, id string, events ...creator.Event) creator.State {
	t.Helper()
	var state creator.State
	for _, ev := range events {
		var err error
		state, err = c.Dispatch(context.Background(), id, ev)
		if err != nil {
			t.Fatalf("Dispatch %s failed: %v", ev.Kind(), err)
		}
	}
	return state
}

func usersEvents() []creator.Event {
	return []creator.Event{
		creator.StartCreatingEntities{},
		creator.SetTableName{Name: "users"},
		creator.ModifyState{
			Columns: creator.Columns{
				0: {Name: "id", Type: "INT"},
				1: {Name: "email", Type: "VARCHAR(255)", Nullable: true},
			},
			PrimaryKey: 0,
		},
		creator.CommitTableChanges{},
	}
}

func TestNewClientImplRejectsInvalidConfig(t *testing.T) {
	_, err := NewClientImpl(yamlProvider("database:\n  type: postgres\n"), Backends{
		KVStore:  kvstore.NewMemoryKVStore(nil),
		Database: newFakeDatabase(),
		Logger:   logging.Discard(),
	})
	if err == nil {
		t.Fatal("Expected config error")
	}
	if _, err := NewClientImpl(nil, Backends{}); err == nil {
		t.Error("Expected error for nil provider")
	}
}

func TestCommitIsEnqueued(t *testing.T) {
	c, _ := newTestClient(t)

	state := dispatchAll(t, c, "s1", usersEvents()...)
	if !state.EntitiesDirty || state.CreatingEntities {
		t.Errorf("Expected committed snapshot, got %+v", state)
	}

	ops, err := c.Queue().Dequeue(context.Background(), 10)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("Expected 1 commit, got %d", len(ops))
	}
	op := ops[0]
	if op.SessionID != "s1" || op.TableName != "users" || op.PrimaryKey != 0 {
		t.Errorf("Unexpected commit %+v", op)
	}
	if op.ID == "" {
		t.Error("Expected commit id")
	}
	if len(op.Columns) != 2 || op.Columns[1].Name != "email" {
		t.Errorf("Expected committed columns, got %v", op.Columns)
	}
}

func TestOnlyCommitEnqueues(t *testing.T) {
	c, _ := newTestClient(t)

	events := usersEvents()
	dispatchAll(t, c, "s1", events[:3]...)

	if size := c.Queue().Size(); size != 0 {
		t.Errorf("Expected empty queue, got %d", size)
	}
}

func TestCommitWithoutTableNameReportsError(t *testing.T) {
	c, _ := newTestClient(t)

	dispatchAll(t, c, "s1", creator.StartCreatingEntities{}, creator.CommitTableChanges{})

	s, err := c.Session("s1")
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if msg, ok := s.State().ErrorMessage(); ok {
			if !strings.Contains(msg, "failed to queue commit") {
				t.Errorf("Unexpected error message %q", msg)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Expected session error to be reported")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDispatchValidates(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Dispatch(context.Background(), "s1", creator.SetTableName{Name: "bad name"})
	if !errors.Is(err, write.ErrInvalidEvent) {
		t.Errorf("Expected ErrInvalidEvent, got %v", err)
	}
	if len(c.Sessions()) != 0 {
		t.Errorf("Expected no session to be opened, got %v", c.Sessions())
	}
}

func TestExecuteAndCompleteCommit(t *testing.T) {
	ctx := context.Background()
	c, db := newTestClient(t)

	dispatchAll(t, c, "s1", usersEvents()...)
	ops, _ := c.Queue().Dequeue(ctx, 1)
	if len(ops) != 1 {
		t.Fatalf("Expected 1 commit, got %d", len(ops))
	}

	if err := c.ExecuteCommit(ctx, ops[0]); err != nil {
		t.Fatalf("ExecuteCommit failed: %v", err)
	}
	if exists, _ := db.TableExists(ctx, "users"); !exists {
		t.Error("Expected users table to be created")
	}

	entity, err := c.Entity("users")
	if err != nil {
		t.Fatalf("Entity failed: %v", err)
	}
	if entity.SessionID != "s1" || entity.CommitID != ops[0].ID {
		t.Errorf("Unexpected entity %+v", entity)
	}
	if entity.Schema.PrimaryKey != "id" {
		t.Errorf("Expected primary key id, got %s", entity.Schema.PrimaryKey)
	}

	if err := c.CompleteCommit(ctx, ops[0], nil); err != nil {
		t.Fatalf("CompleteCommit failed: %v", err)
	}
	s, _ := c.Session("s1")
	if s.State().EntitiesDirty {
		t.Error("Expected dirty flag to be cleared")
	}

	// A second commit of the same table fails under the default policy.
	dispatchAll(t, c, "s2", usersEvents()...)
	again, _ := c.Queue().Dequeue(ctx, 1)
	if len(again) != 1 {
		t.Fatalf("Expected 1 commit, got %d", len(again))
	}
	if err := c.ExecuteCommit(ctx, again[0]); !errors.Is(err, database.ErrTableExists) {
		t.Errorf("Expected ErrTableExists, got %v", err)
	}
	if err := c.CompleteCommit(ctx, again[0], database.ErrTableExists); err != nil {
		t.Fatal(err)
	}
	s2, _ := c.Session("s2")
	if msg, ok := s2.State().ErrorMessage(); !ok || !strings.Contains(msg, "users") {
		t.Errorf("Expected error naming the table, got %q", msg)
	}
	if !s2.State().EntitiesDirty {
		t.Error("Expected failed commit to leave entities dirty")
	}
}

func TestCompleteCommitRestoresClosedSession(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	dispatchAll(t, c, "s1", usersEvents()...)
	ops, _ := c.Queue().Dequeue(ctx, 1)
	if err := c.CloseSession("s1"); err != nil {
		t.Fatal(err)
	}

	if err := c.CompleteCommit(ctx, ops[0], nil); err != nil {
		t.Fatalf("CompleteCommit failed: %v", err)
	}
	s, err := c.Session("s1")
	if err != nil {
		t.Fatalf("Expected session to be reopened: %v", err)
	}
	state := s.State()
	if state.EntitiesDirty {
		t.Error("Expected dirty flag to be cleared")
	}
	if name, _ := state.Table(); name != "users" {
		t.Errorf("Expected restored table name users, got %q", name)
	}
}

func TestExecuteCommitRejectsInvalidSchema(t *testing.T) {
	c, _ := newTestClient(t)
	op := &core.CommitOperation{SessionID: "s1", TableName: "t", Columns: map[int]*core.Column{0: nil}}
	if err := c.ExecuteCommit(context.Background(), op); err == nil {
		t.Error("Expected error for placeholder-only columns")
	}
}

func TestRegisterHookSeesEntity(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	var seen string
	c.Lifecycle().RegisterHook(registry.SchemaHook(func(ctx context.Context, s *core.Schema) error {
		seen = s.TableName
		return nil
	}))

	dispatchAll(t, c, "s1", usersEvents()...)
	ops, _ := c.Queue().Dequeue(ctx, 1)
	if err := c.ExecuteCommit(ctx, ops[0]); err != nil {
		t.Fatal(err)
	}
	if seen != "users" {
		t.Errorf("Expected hook to see users, got %q", seen)
	}
}

func TestCloseClient(t *testing.T) {
	c, db := newTestClient(t)
	if _, err := c.OpenSession(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !db.closed {
		t.Error("Expected database to be closed")
	}
	if _, err := c.OpenSession(context.Background(), "x"); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Expected ErrClientClosed, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Expected second Close to be a no-op, got %v", err)
	}
}

func commitUsers(t *testing.T, c *ClientImpl, id string) *core.CommitOperation {
	t.Helper()
	dispatchAll(t, c, id, usersEvents()...)
	ops, err := c.Queue().Dequeue(context.Background(), 1)
	if err != nil || len(ops) != 1 {
		t.Fatalf("Expected 1 commit, got %d (err %v)", len(ops), err)
	}
	return ops[0]
}

func usersTable() *core.Schema {
	return &core.Schema{
		TableName:  "users",
		PrimaryKey: "id",
		Columns:    []core.Column{{Name: "id", Type: "INT"}},
	}
}

func TestExecuteCommitRetryOnlyReadsBack(t *testing.T) {
	ctx := context.Background()
	c, db := newTestClient(t)
	changes, cancel := c.Watch("users")
	defer cancel()

	op := commitUsers(t, c, "s1")
	db.failReads = 1

	if err := c.ExecuteCommit(ctx, op); err == nil {
		t.Fatal("Expected read-back failure")
	}
	if !op.Applied {
		t.Error("Expected commit to be marked applied after CREATE TABLE")
	}

	if err := c.ExecuteCommit(ctx, op); err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if db.creates != 1 {
		t.Errorf("Expected CREATE TABLE once, got %d", db.creates)
	}
	if _, err := c.Entity("users"); err != nil {
		t.Errorf("Expected users to be registered, got %v", err)
	}

	if err := c.CompleteCommit(ctx, op, nil); err != nil {
		t.Fatal(err)
	}
	s, _ := c.Session("s1")
	if state := s.State(); state.EntitiesDirty {
		t.Error("Expected dirty flag to be cleared")
	} else if _, ok := state.ErrorMessage(); ok {
		t.Error("Expected no session error")
	}

	select {
	case change := <-changes:
		if change.Kind != broker.EntityCreated || change.Entity.Name != "users" {
			t.Errorf("Expected users created, got %s %s", change.Kind, change.Entity.Name)
		}
	default:
		t.Error("Expected a created change")
	}
}

func TestLoadsExistingEntities(t *testing.T) {
	db := newFakeDatabase()
	db.tables["users"] = usersTable()
	db.tables["orders"] = &core.Schema{TableName: "orders", PrimaryKey: "id", Columns: []core.Column{{Name: "id", Type: "INT"}}}

	c, _ := newTestClientWith(t, "", db)

	entities := c.Entities()
	if len(entities) != 2 || entities[0].Name != "orders" || entities[1].Name != "users" {
		t.Fatalf("Expected orders and users, got %v", entities)
	}
	if entities[0].SessionID != "" || entities[0].Revision != 1 {
		t.Errorf("Expected loaded entity without session, got %+v", entities[0])
	}
}

func TestOnDuplicateIgnoreKeepsExistingTable(t *testing.T) {
	ctx := context.Background()
	db := newFakeDatabase()
	db.tables["users"] = usersTable()
	c, _ := newTestClientWith(t, "commit:\n  on_duplicate: ignore\n", db)
	changes, cancel := c.Watch("")
	defer cancel()

	op := commitUsers(t, c, "s1")
	if err := c.ExecuteCommit(ctx, op); err != nil {
		t.Fatalf("Expected duplicate to be ignored, got %v", err)
	}
	if db.creates != 0 || len(db.execs) != 0 {
		t.Errorf("Expected no DDL, got %d creates and %v", db.creates, db.execs)
	}

	entity, _ := c.Entity("users")
	if len(entity.Schema.Columns) != 1 || entity.SessionID != "s1" || entity.Revision != 2 {
		t.Errorf("Expected existing schema adopted by s1, got %+v", entity)
	}
	if change := <-changes; change.Kind != broker.EntityUpdated {
		t.Errorf("Expected updated change, got %s", change.Kind)
	}
}

func TestOnDuplicateUpdateAddsMissingColumns(t *testing.T) {
	ctx := context.Background()
	db := newFakeDatabase()
	db.tables["users"] = usersTable()
	c, _ := newTestClientWith(t, "commit:\n  on_duplicate: update\n", db)

	op := commitUsers(t, c, "s1")
	if err := c.ExecuteCommit(ctx, op); err != nil {
		t.Fatalf("Expected update to succeed, got %v", err)
	}

	expected := []string{"ALTER TABLE `users` ADD COLUMN `email` VARCHAR(255)"}
	if !slices.Equal(db.execs, expected) {
		t.Errorf("Expected %v, got %v", expected, db.execs)
	}
	if db.creates != 0 {
		t.Errorf("Expected no CREATE TABLE, got %d", db.creates)
	}
}

func TestDeleteEntity(t *testing.T) {
	ctx := context.Background()
	c, db := newTestClient(t)

	var unregistered string
	c.Lifecycle().RegisterHook(registry.LifecycleHookFunc{
		OnUnregisterFunc: func(ctx context.Context, e *registry.Entity) error {
			unregistered = e.Name
			return nil
		},
	})

	op := commitUsers(t, c, "s1")
	if err := c.ExecuteCommit(ctx, op); err != nil {
		t.Fatal(err)
	}
	changes, cancel := c.Watch("users")
	defer cancel()

	if err := c.DeleteEntity(ctx, "users"); err != nil {
		t.Fatalf("DeleteEntity failed: %v", err)
	}
	if exists, _ := db.TableExists(ctx, "users"); exists {
		t.Error("Expected table to be dropped")
	}
	if !slices.Contains(db.execs, "DROP TABLE `users`") {
		t.Errorf("Expected DROP TABLE, got %v", db.execs)
	}
	if _, err := c.Entity("users"); !errors.Is(err, registry.ErrEntityNotFound) {
		t.Errorf("Expected ErrEntityNotFound, got %v", err)
	}
	if unregistered != "users" {
		t.Errorf("Expected unregister hook to see users, got %q", unregistered)
	}
	if change := <-changes; change.Kind != broker.EntityDeleted {
		t.Errorf("Expected deleted change, got %s", change.Kind)
	}

	if err := c.DeleteEntity(ctx, "users"); !errors.Is(err, registry.ErrEntityNotFound) {
		t.Errorf("Expected ErrEntityNotFound, got %v", err)
	}
}

func TestPurgeSession(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	dispatchAll(t, c, "s1", creator.SetTableName{Name: "users"})
	if err := c.PurgeSession(ctx, "s1"); err != nil {
		t.Fatalf("PurgeSession failed: %v", err)
	}
	if len(c.Sessions()) != 0 {
		t.Errorf("Expected no open sessions, got %v", c.Sessions())
	}

	s, err := c.OpenSession(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if !s.State().Equal(creator.Initial()) {
		t.Errorf("Expected fresh session, got %+v", s.State())
	}
}
