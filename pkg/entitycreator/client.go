package entitycreator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rzpsarthak13/entity-creator/internal/broker"
	"github.com/rzpsarthak13/entity-creator/internal/client"
	"github.com/rzpsarthak13/entity-creator/internal/core"
	"github.com/rzpsarthak13/entity-creator/internal/creator"
	"github.com/rzpsarthak13/entity-creator/internal/registry"
	"github.com/rzpsarthak13/entity-creator/internal/schema"
	"github.com/rzpsarthak13/entity-creator/internal/session"
	"github.com/rzpsarthak13/entity-creator/internal/write"
)

// Snapshot and event types.
type (
	State   = creator.State
	Columns = creator.Columns
	Column  = core.Column
	Event   = creator.Event
	Kind    = creator.Kind

	SetError              = creator.SetError
	ClearError            = creator.ClearError
	ClearDirtyEntities    = creator.ClearDirtyEntities
	StartCreatingEntities = creator.StartCreatingEntities
	CommitTableChanges    = creator.CommitTableChanges
	SetTableName          = creator.SetTableName
	ModifyState           = creator.ModifyState
	Unrecognized          = creator.Unrecognized
)

// Session, entity and backend types.
type (
	Session        = session.Session
	Change         = session.Change
	Listener       = session.Listener
	Entity         = registry.Entity
	EntityHook     = registry.LifecycleHook
	EntityHookFunc = registry.LifecycleHookFunc
	Schema         = core.Schema
	KVStore        = core.KVStore
	Database       = core.Database

	EntityChange     = broker.Change
	EntityChangeKind = broker.ChangeKind
)

// Entity change kinds.
const (
	EntityCreated = broker.EntityCreated
	EntityUpdated = broker.EntityUpdated
	EntityDeleted = broker.EntityDeleted
)

var (
	// ErrSessionNotFound is returned when a session is not open.
	ErrSessionNotFound = session.ErrSessionNotFound

	// ErrSessionClosed is returned when dispatching to a closed session.
	ErrSessionClosed = session.ErrSessionClosed

	// ErrNotPersisted is returned by Dispatch together with the applied
	// snapshot when the event could not be stored.
	ErrNotPersisted = session.ErrNotPersisted

	// ErrEntityNotFound is returned when no table with the name was created.
	ErrEntityNotFound = registry.ErrEntityNotFound

	// ErrInvalidEvent is returned by Dispatch for events that fail validation.
	ErrInvalidEvent = write.ErrInvalidEvent

	// ErrInvalidSchema is returned for table names or definitions that
	// cannot be turned into a table.
	ErrInvalidSchema = schema.ErrInvalidSchema
)

// Initial returns the snapshot a new session starts with.
func Initial() State {
	return creator.Initial()
}

// Reduce returns the snapshot that follows prev after ev.
func Reduce(prev *State, ev Event) State {
	return creator.Reduce(prev, ev)
}

// DecodeEvent parses the JSON wire form of an event.
func DecodeEvent(data []byte) (Event, error) {
	return creator.DecodeEvent(data)
}

// EncodeEvent renders an event in its JSON wire form.
func EncodeEvent(ev Event) ([]byte, error) {
	return creator.EncodeEvent(ev)
}

// Client is the main interface for interacting with the entity creator.
// It hosts sessions, and drains committed tables into the database.
//
// Typical usage:
//
//	client, _ := entitycreator.NewClient(config)
//	defer client.Close()
//
//	client.Start(ctx)  // Start background drainer
//	defer client.Stop()
//
//	s, _ := client.OpenSession(ctx, "")
//	client.Dispatch(ctx, s.ID(), entitycreator.StartCreatingEntities{})
type Client interface {
	// OpenSession opens a session, restoring it from storage if it was
	// used before. An empty id opens a new session with a generated id.
	OpenSession(ctx context.Context, id string) (*Session, error)

	// Session returns an open session.
	Session(id string) (*Session, error)

	// Sessions returns the ids of the open sessions.
	Sessions() []string

	// CloseSession closes an open session. Its snapshot and journal stay
	// in the KV store.
	CloseSession(id string) error

	// Dispatch validates ev and applies it to the session, opening the
	// session first if needed.
	Dispatch(ctx context.Context, sessionID string, ev Event) (State, error)

	// Entities returns the tables created so far, ordered by name.
	Entities() []*Entity

	// Entity returns a created table by name.
	Entity(name string) (*Entity, error)

	// DeleteEntity drops a created table and forgets it.
	DeleteEntity(ctx context.Context, name string) error

	// Watch streams entity changes for the named table, or for every table
	// if name is empty. Call the returned function to stop watching; the
	// channel is closed then, or when the client closes.
	Watch(name string) (<-chan EntityChange, func())

	// PurgeSession closes a session and deletes its stored snapshot and
	// journal.
	PurgeSession(ctx context.Context, id string) error

	// RegisterHook registers a hook that runs when a table is registered
	// or deleted.
	RegisterHook(hook EntityHook)

	// Start starts the background drainer.
	// This is non-blocking - the drainer runs in a separate goroutine.
	Start(ctx context.Context) error

	// Stop gracefully stops the drainer.
	Stop() error

	// IsRunning returns whether the drainer is currently running.
	IsRunning() bool

	// Stats returns the drainer counters.
	Stats() DrainerStats

	// Close closes all sessions and connections and releases resources.
	// It will also stop the drainer.
	Close() error
}

// Option configures NewClient.
type Option func(*options)

type options struct {
	backends client.Backends
}

// WithKVStore uses kv instead of creating a KV store from the config.
func WithKVStore(kv KVStore) Option {
	return func(o *options) {
		o.backends.KVStore = kv
	}
}

// WithDatabase uses db instead of connecting to the configured database.
func WithDatabase(db Database) Option {
	return func(o *options) {
		o.backends.Database = db
	}
}

// WithLogger uses logger instead of building one from the logging config.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.backends.Logger = logger
	}
}

// clientWrapper wraps the internal client implementation to provide the public Client interface.
type clientWrapper struct {
	mu      sync.Mutex
	impl    *client.ClientImpl
	drainer *Drainer
}

// NewClient creates a new entity-creator client with the provided
// configuration. It connects to the KV store and database named by the
// configuration unless they are supplied as options.
func NewClient(config *Config, opts ...Option) (Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// Create config provider to avoid import cycles
	impl, err := client.NewClientImpl(&configProvider{config: config}, o.backends)
	if err != nil {
		return nil, err
	}

	commit := impl.Config().Commit
	drainer := NewDrainer(impl.Queue(), impl, DrainerConfig{
		DrainRate:        commit.DrainRate,
		BatchSize:        commit.BatchSize,
		MaxRetries:       commit.MaxRetries,
		RetryBackoffBase: commit.RetryBackoffBase,
		RetryBackoffMax:  commit.RetryBackoffMax,
	}, impl.Logger())

	return &clientWrapper{
		impl:    impl,
		drainer: drainer,
	}, nil
}

func (cw *clientWrapper) OpenSession(ctx context.Context, id string) (*Session, error) {
	return cw.impl.OpenSession(ctx, id)
}

func (cw *clientWrapper) Session(id string) (*Session, error) {
	return cw.impl.Session(id)
}

func (cw *clientWrapper) Sessions() []string {
	return cw.impl.Sessions()
}

func (cw *clientWrapper) CloseSession(id string) error {
	return cw.impl.CloseSession(id)
}

func (cw *clientWrapper) Dispatch(ctx context.Context, sessionID string, ev Event) (State, error) {
	return cw.impl.Dispatch(ctx, sessionID, ev)
}

func (cw *clientWrapper) Entities() []*Entity {
	return cw.impl.Entities()
}

func (cw *clientWrapper) Entity(name string) (*Entity, error) {
	return cw.impl.Entity(name)
}

func (cw *clientWrapper) DeleteEntity(ctx context.Context, name string) error {
	return cw.impl.DeleteEntity(ctx, name)
}

func (cw *clientWrapper) Watch(name string) (<-chan EntityChange, func()) {
	return cw.impl.Watch(name)
}

func (cw *clientWrapper) PurgeSession(ctx context.Context, id string) error {
	return cw.impl.PurgeSession(ctx, id)
}

func (cw *clientWrapper) RegisterHook(hook EntityHook) {
	cw.impl.Lifecycle().RegisterHook(hook)
}

// Start starts the background drainer.
func (cw *clientWrapper) Start(ctx context.Context) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if err := cw.drainer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start drainer: %w", err)
	}
	return nil
}

// Stop gracefully stops the background drainer.
func (cw *clientWrapper) Stop() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if err := cw.drainer.Stop(); err != nil {
		return fmt.Errorf("failed to stop drainer: %w", err)
	}
	return nil
}

func (cw *clientWrapper) IsRunning() bool {
	return cw.drainer.IsRunning()
}

func (cw *clientWrapper) Stats() DrainerStats {
	return cw.drainer.Stats()
}

// Close closes all connections and releases resources.
func (cw *clientWrapper) Close() error {
	// Stop the drainer first so it does not use closed backends.
	stopErr := cw.Stop()
	return errors.Join(stopErr, cw.impl.Close())
}
