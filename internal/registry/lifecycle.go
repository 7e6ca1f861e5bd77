package registry

import (
	"context"
	"sync"

	"github.com/rzpsarthak13/entity-creator/internal/core"
)

// LifecycleHook defines a hook that runs when an entity is registered or
// unregistered. Hooks are called synchronously.
type LifecycleHook interface {
	// OnRegister is called before an entity is added to the registry.
	// If this hook returns an error, the entity is not registered.
	OnRegister(ctx context.Context, entity *Entity) error

	// OnUnregister is called before an entity is removed from the registry.
	// If this hook returns an error, the entity stays registered.
	OnUnregister(ctx context.Context, entity *Entity) error
}

// LifecycleHookFunc adapts plain functions to LifecycleHook. Nil
// functions are skipped.
type LifecycleHookFunc struct {
	OnRegisterFunc   func(ctx context.Context, entity *Entity) error
	OnUnregisterFunc func(ctx context.Context, entity *Entity) error
}

// OnRegister calls OnRegisterFunc if it's not nil.
func (f LifecycleHookFunc) OnRegister(ctx context.Context, entity *Entity) error {
	if f.OnRegisterFunc != nil {
		return f.OnRegisterFunc(ctx, entity)
	}
	return nil
}

// OnUnregister calls OnUnregisterFunc if it's not nil.
func (f LifecycleHookFunc) OnUnregister(ctx context.Context, entity *Entity) error {
	if f.OnUnregisterFunc != nil {
		return f.OnUnregisterFunc(ctx, entity)
	}
	return nil
}

// SchemaHook returns a hook that only looks at the schema of registered
// entities.
func SchemaHook(fn func(ctx context.Context, schema *core.Schema) error) LifecycleHook {
	return LifecycleHookFunc{
		OnRegisterFunc: func(ctx context.Context, entity *Entity) error {
			return fn(ctx, entity.Schema)
		},
	}
}

// LifecycleManager manages lifecycle hooks for entities.
type LifecycleManager struct {
	mu    sync.RWMutex
	hooks []LifecycleHook
}

// NewLifecycleManager creates a new lifecycle manager.
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{
		hooks: make([]LifecycleHook, 0),
	}
}

// RegisterHook registers a lifecycle hook.
// Hooks are executed in the order they were registered.
func (lm *LifecycleManager) RegisterHook(hook LifecycleHook) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.hooks = append(lm.hooks, hook)
}

// ExecuteRegisterHooks executes all registered OnRegister hooks in order.
// If any hook returns an error, execution stops and the error is returned.
func (lm *LifecycleManager) ExecuteRegisterHooks(ctx context.Context, entity *Entity) error {
	for _, hook := range lm.snapshot() {
		if err := hook.OnRegister(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteUnregisterHooks executes all registered OnUnregister hooks in order.
// If any hook returns an error, execution stops and the error is returned.
func (lm *LifecycleManager) ExecuteUnregisterHooks(ctx context.Context, entity *Entity) error {
	for _, hook := range lm.snapshot() {
		if err := hook.OnUnregister(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

func (lm *LifecycleManager) snapshot() []LifecycleHook {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	hooks := make([]LifecycleHook, len(lm.hooks))
	copy(hooks, lm.hooks)
	return hooks
}
