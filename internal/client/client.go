package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rzpsarthak13/entity-creator/internal/broker"
	"github.com/rzpsarthak13/entity-creator/internal/core"
	"github.com/rzpsarthak13/entity-creator/internal/creator"
	"github.com/rzpsarthak13/entity-creator/internal/database"
	"github.com/rzpsarthak13/entity-creator/internal/kvstore"
	"github.com/rzpsarthak13/entity-creator/internal/logging"
	"github.com/rzpsarthak13/entity-creator/internal/registry"
	"github.com/rzpsarthak13/entity-creator/internal/schema"
	"github.com/rzpsarthak13/entity-creator/internal/session"
	"github.com/rzpsarthak13/entity-creator/internal/write"
	"github.com/rzpsarthak13/entity-creator/internal/writeback"
)

// ErrClientClosed is returned by operations on a closed client.
var ErrClientClosed = errors.New("client is closed")

// ConfigProvider is an interface to provide configuration as YAML without importing the public package.
type ConfigProvider interface {
	GetYAML() ([]byte, error)
}

// Backends holds pre-built backends. Nil fields are created from the
// configuration.
type Backends struct {
	KVStore  core.KVStore
	Database core.Database
	Logger   *slog.Logger
}

// ClientImpl wires sessions, storage and the commit pipeline together.
type ClientImpl struct {
	mu        sync.RWMutex
	configMgr *registry.ConfigManager
	kvStore   core.KVStore
	database  core.Database
	queue     core.CommitQueue
	sessions  *session.Manager
	entities  *registry.EntityRegistry
	changes   *broker.Broker
	validator *write.EventValidator
	builder   *schema.Builder
	logger    *slog.Logger
	flushLogs func()
	closed    bool
}

// NewClientImpl creates a new entity-creator client implementation.
// It accepts a config provider to avoid import cycles.
func NewClientImpl(configProvider ConfigProvider, backends Backends) (*ClientImpl, error) {
	if configProvider == nil {
		return nil, fmt.Errorf("config provider cannot be nil")
	}

	// Create config manager and load config from YAML
	configMgr := registry.NewConfigManager()
	yamlData, err := configProvider.GetYAML()
	if err != nil {
		return nil, fmt.Errorf("failed to get config YAML: %w", err)
	}
	if err := configMgr.LoadFromYAML(yamlData); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, flushLogs := backends.Logger, func() {}
	if logger == nil {
		logger, flushLogs = logging.Setup(configMgr.GetConfig().Logging)
	}

	c := &ClientImpl{
		configMgr: configMgr,
		kvStore:   backends.KVStore,
		database:  backends.Database,
		entities:  registry.NewEntityRegistry(registry.NewLifecycleManager()),
		changes:   broker.New(configMgr.GetConfig().Session.EventBuffer, logger),
		validator: write.NewEventValidator(),
		builder:   schema.NewBuilder(),
		logger:    logger.With("component", "client"),
		flushLogs: flushLogs,
	}

	if err := c.initializeConnections(logger); err != nil {
		flushLogs()
		return nil, fmt.Errorf("failed to initialize connections: %w", err)
	}

	cfg := configMgr.GetConfig()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.ConnectionTimeout)
	defer cancel()
	if err := c.loadEntities(ctx); err != nil {
		_ = c.closeBackends()
		flushLogs()
		return nil, fmt.Errorf("failed to load entities: %w", err)
	}

	journal := write.NewJournal(c.kvStore, cfg.Session.Namespace+":journal", cfg.Session.JournalTTL, logger)
	snapshots := session.NewSnapshotStore(c.kvStore, cfg.Session.Namespace, cfg.Session.SnapshotTTL)
	c.sessions = session.NewManager(journal, snapshots, cfg.Session.EventBuffer, logger)
	c.sessions.Subscribe(c.onChange)

	return c, nil
}

// initializeConnections creates whatever backends were not injected.
func (c *ClientImpl) initializeConnections(logger *slog.Logger) error {
	config := c.configMgr.GetConfig()

	if c.kvStore == nil {
		kvStore, err := kvstore.Create(kvstore.ConfigFrom(config.KVStore, logger))
		if err != nil {
			return fmt.Errorf("failed to create KV store: %w", err)
		}
		c.kvStore = kvStore
	}

	if c.database == nil {
		db, err := database.NewMySQLDatabase(config.Database, logger)
		if err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
		c.database = db
	}

	queue, err := writeback.New(config.Commit, c.kvStore, logger)
	if err != nil {
		return fmt.Errorf("failed to create commit queue: %w", err)
	}
	c.queue = queue

	return nil
}

// loadEntities registers the tables already in the database, so entities
// created before a restart are listed again.
func (c *ClientImpl) loadEntities(ctx context.Context) error {
	tables, err := c.database.GetTables(ctx)
	if err != nil {
		return err
	}

	for _, name := range tables {
		s, err := c.database.GetSchema(ctx, name)
		if err != nil {
			c.logger.Warn("skipping table", "table", name, "error", err)
			continue
		}
		if err := c.entities.Register(ctx, &registry.Entity{Name: s.TableName, Schema: s}); err != nil {
			c.logger.Warn("skipping table", "table", name, "error", err)
		}
	}

	c.logger.Info("entities loaded", "count", c.entities.Count())
	return nil
}

// onChange enqueues a commit whenever a session commits table changes.
// It runs on the session loop and must not dispatch synchronously.
func (c *ClientImpl) onChange(change session.Change) {
	if _, ok := change.Event.(creator.CommitTableChanges); !ok || !change.Next.EntitiesDirty {
		return
	}

	tableName, _ := change.Next.Table()
	op := &core.CommitOperation{
		SessionID:  change.SessionID,
		TableName:  tableName,
		Columns:    change.Next.Columns.Clone(),
		PrimaryKey: change.Next.PrimaryKey,
	}

	if err := c.queue.Enqueue(context.Background(), op); err != nil {
		c.logger.Error("failed to enqueue commit", "session", change.SessionID, "table", tableName, "error", err)
		go c.fail(change.SessionID, fmt.Errorf("failed to queue commit: %w", err))
		return
	}
	c.logger.Info("commit enqueued", "session", change.SessionID, "table", tableName, "commit", op.ID)
}

func (c *ClientImpl) fail(sessionID string, cause error) {
	s, err := c.sessions.Get(sessionID)
	if err != nil {
		return
	}
	if _, err := s.Dispatch(context.Background(), creator.SetError{Message: cause.Error()}); err != nil {
		c.logger.Warn("failed to report error to session", "session", sessionID, "error", err)
	}
}

// OpenSession opens or restores a session. An empty id opens a new session.
func (c *ClientImpl) OpenSession(ctx context.Context, id string) (*session.Session, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.sessions.Open(ctx, id)
}

// Session returns an open session.
func (c *ClientImpl) Session(id string) (*session.Session, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.sessions.Get(id)
}

// Sessions returns the ids of the open sessions.
func (c *ClientImpl) Sessions() []string {
	return c.sessions.List()
}

// CloseSession closes an open session. Its snapshot and journal are kept.
func (c *ClientImpl) CloseSession(id string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.sessions.Close(id)
}

// Dispatch validates ev and applies it to the session, opening the session
// first if needed.
func (c *ClientImpl) Dispatch(ctx context.Context, sessionID string, ev creator.Event) (creator.State, error) {
	if err := c.validator.Validate(ev); err != nil {
		return creator.State{}, err
	}
	s, err := c.OpenSession(ctx, sessionID)
	if err != nil {
		return creator.State{}, err
	}
	return s.Dispatch(ctx, ev)
}

// Entities returns the created entities ordered by name.
func (c *ClientImpl) Entities() []*registry.Entity {
	return c.entities.List()
}

// Entity returns a created entity by table name.
func (c *ClientImpl) Entity(name string) (*registry.Entity, error) {
	return c.entities.Get(name)
}

// Lifecycle returns the lifecycle manager of the entity registry.
func (c *ClientImpl) Lifecycle() *registry.LifecycleManager {
	return c.entities.Lifecycle()
}

// Queue returns the commit queue.
func (c *ClientImpl) Queue() core.CommitQueue {
	return c.queue
}

// Config returns the loaded configuration.
func (c *ClientImpl) Config() *registry.InternalConfig {
	return c.configMgr.GetConfig()
}

// Logger returns the client's logger.
func (c *ClientImpl) Logger() *slog.Logger {
	return c.logger
}

// ExecuteCommit creates the table described by op and registers it.
//
// If the table already exists the commit.on_duplicate policy decides:
// fail returns ErrTableExists, ignore adopts the existing table, update
// adds the committed columns it is missing. Once the table is in place
// op.Applied is set, so a retry after a failed read-back does not run
// the DDL again.
func (c *ClientImpl) ExecuteCommit(ctx context.Context, op *core.CommitOperation) error {
	desired, err := c.builder.FromColumns(op.TableName, op.Columns, op.PrimaryKey)
	if err != nil {
		return err
	}

	if !op.Applied {
		if err := c.apply(ctx, desired); err != nil {
			return err
		}
		op.Applied = true
	}

	created, err := c.database.GetSchema(ctx, desired.TableName)
	if err != nil {
		return fmt.Errorf("failed to read back schema for %q: %w", desired.TableName, err)
	}

	entity := &registry.Entity{
		Name:      created.TableName,
		Schema:    created,
		SessionID: op.SessionID,
		CommitID:  op.ID,
	}
	if err := c.entities.Register(ctx, entity); err != nil {
		return err
	}

	kind := broker.EntityCreated
	if entity.Revision > 1 {
		kind = broker.EntityUpdated
	}
	c.changes.Publish(kind, entity)
	return nil
}

func (c *ClientImpl) apply(ctx context.Context, desired *core.Schema) error {
	exists, err := c.database.TableExists(ctx, desired.TableName)
	if err != nil {
		return err
	}
	if !exists {
		err = c.database.CreateTable(ctx, desired)
		if !errors.Is(err, database.ErrTableExists) {
			return err
		}
	}

	switch c.Config().Commit.OnDuplicate {
	case registry.OnDuplicateIgnore:
		c.logger.Info("table exists, keeping it", "table", desired.TableName)
		return nil
	case registry.OnDuplicateUpdate:
		return c.addMissingColumns(ctx, desired)
	default:
		return fmt.Errorf("%w: %s", database.ErrTableExists, desired.TableName)
	}
}

func (c *ClientImpl) addMissingColumns(ctx context.Context, desired *core.Schema) error {
	existing, err := c.database.GetSchema(ctx, desired.TableName)
	if err != nil {
		return fmt.Errorf("failed to read schema for %q: %w", desired.TableName, err)
	}

	stmts, err := c.builder.AddColumnsSQL(existing, desired)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := c.database.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	c.logger.Info("table updated", "table", desired.TableName, "added_columns", len(stmts))
	return nil
}

// DeleteEntity drops a created table and removes it from the registry.
func (c *ClientImpl) DeleteEntity(ctx context.Context, name string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	entity, err := c.entities.Get(name)
	if err != nil {
		return err
	}

	stmt, err := c.builder.DropTableSQL(name)
	if err != nil {
		return err
	}
	if _, err := c.database.Exec(ctx, stmt); err != nil && !errors.Is(err, database.ErrTableNotFound) {
		return fmt.Errorf("failed to drop table %q: %w", name, err)
	}

	if err := c.entities.Unregister(ctx, name); err != nil {
		return err
	}
	c.changes.Publish(broker.EntityDeleted, entity)
	c.logger.Info("entity deleted", "table", name)
	return nil
}

// Watch subscribes to entity changes. An empty name follows all entities.
func (c *ClientImpl) Watch(name string) (<-chan broker.Change, func()) {
	return c.changes.Subscribe(name)
}

// PurgeSession closes a session and deletes its snapshot and journal.
func (c *ClientImpl) PurgeSession(ctx context.Context, id string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.sessions.Purge(ctx, id)
}

// CompleteCommit reports the outcome of a commit to its session:
// ClearDirtyEntities on success, SetError otherwise. Closed sessions are
// restored so the outcome is persisted.
func (c *ClientImpl) CompleteCommit(ctx context.Context, op *core.CommitOperation, cause error) error {
	s, err := c.sessions.Open(ctx, op.SessionID)
	if err != nil {
		return fmt.Errorf("failed to open session %s: %w", op.SessionID, err)
	}

	var ev creator.Event = creator.ClearDirtyEntities{}
	if cause != nil {
		ev = creator.SetError{Message: fmt.Sprintf("failed to create table %q: %v", op.TableName, cause)}
	}

	if _, err := s.Dispatch(ctx, ev); err != nil {
		return fmt.Errorf("failed to acknowledge commit %s: %w", op.ID, err)
	}
	return nil
}

func (c *ClientImpl) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

// Close closes all sessions and connections and releases resources.
func (c *ClientImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	c.sessions.CloseAll()
	c.changes.Close()
	err := c.closeBackends()

	c.flushLogs()

	return err
}

func (c *ClientImpl) closeBackends() error {
	var errs []error

	if c.queue != nil {
		if err := c.queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close commit queue: %w", err))
		}
	}

	// Close KV store
	if c.kvStore != nil {
		if err := c.kvStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close KV store: %w", err))
		}
	}

	// Close database
	if c.database != nil {
		if err := c.database.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	return errors.Join(errs...)
}
