package registry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rzpsarthak13/entity-creator/internal/core"
)

// ErrEntityNotFound is returned when an entity is not registered.
var ErrEntityNotFound = errors.New("entity not registered")

// Entity is a table that has been created from a committed session.
type Entity struct {
	// Name is the table name.
	Name string `json:"name"`

	// Schema is the schema read back from the database after creation.
	Schema *core.Schema `json:"schema"`

	// SessionID is the session whose commit created the table.
	SessionID string `json:"sessionId"`

	// CommitID is the commit operation that created the table.
	CommitID string `json:"commitId"`

	// Revision is 1 when the entity is first registered and grows by one
	// every time it is registered again.
	Revision int `json:"revision"`

	// CreatedAt is when the entity was registered.
	CreatedAt time.Time `json:"createdAt"`
}

// EntityRegistry keeps track of created entities.
// It is safe for concurrent use.
type EntityRegistry struct {
	mu        sync.RWMutex
	entities  map[string]*Entity
	lifecycle *LifecycleManager
}

// NewEntityRegistry creates a new entity registry.
func NewEntityRegistry(lifecycle *LifecycleManager) *EntityRegistry {
	if lifecycle == nil {
		lifecycle = NewLifecycleManager()
	}
	return &EntityRegistry{
		entities:  make(map[string]*Entity),
		lifecycle: lifecycle,
	}
}

// Lifecycle returns the lifecycle manager used by the registry.
func (er *EntityRegistry) Lifecycle() *LifecycleManager {
	return er.lifecycle
}

// Register adds an entity to the registry. Registering a name again
// replaces the previous entry, keeps its CreatedAt and bumps Revision.
func (er *EntityRegistry) Register(ctx context.Context, entity *Entity) error {
	if entity == nil {
		return fmt.Errorf("entity cannot be nil")
	}
	if entity.Name == "" {
		return fmt.Errorf("entity name cannot be empty")
	}
	if entity.Schema == nil {
		return fmt.Errorf("schema cannot be nil")
	}
	if entity.Schema.TableName != entity.Name {
		return fmt.Errorf("schema table name %q does not match entity name %q", entity.Schema.TableName, entity.Name)
	}

	er.mu.RLock()
	existing, exists := er.entities[entity.Name]
	er.mu.RUnlock()

	entity.Revision = 1
	if exists {
		entity.CreatedAt = existing.CreatedAt
		entity.Revision = existing.Revision + 1
	}
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = time.Now()
	}

	if err := er.lifecycle.ExecuteRegisterHooks(ctx, entity); err != nil {
		return fmt.Errorf("register hook failed for %q: %w", entity.Name, err)
	}

	er.mu.Lock()
	defer er.mu.Unlock()
	er.entities[entity.Name] = entity
	return nil
}

// Unregister removes an entity from the registry.
func (er *EntityRegistry) Unregister(ctx context.Context, name string) error {
	er.mu.RLock()
	entity, exists := er.entities[name]
	er.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %q", ErrEntityNotFound, name)
	}

	if err := er.lifecycle.ExecuteUnregisterHooks(ctx, entity); err != nil {
		return fmt.Errorf("unregister hook failed for %q: %w", name, err)
	}

	er.mu.Lock()
	defer er.mu.Unlock()
	delete(er.entities, name)
	return nil
}

// Get returns the entity with the given name.
func (er *EntityRegistry) Get(name string) (*Entity, error) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	entity, exists := er.entities[name]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrEntityNotFound, name)
	}
	return entity, nil
}

// List returns all registered entities ordered by name.
func (er *EntityRegistry) List() []*Entity {
	er.mu.RLock()
	defer er.mu.RUnlock()

	entities := make([]*Entity, 0, len(er.entities))
	for _, e := range er.entities {
		entities = append(entities, e)
	}
	slices.SortFunc(entities, func(a, b *Entity) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return entities
}

// Count returns the number of registered entities.
func (er *EntityRegistry) Count() int {
	er.mu.RLock()
	defer er.mu.RUnlock()
	return len(er.entities)
}
