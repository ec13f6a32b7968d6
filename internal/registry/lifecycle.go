package registry

import (
	"context"
	"sync"

	"github.com/rzpsarthak13/relmap/internal/schema"
)

// LifecycleHook defines a hook that can be executed during table lifecycle events.
// Hooks are called synchronously by the table registry.
type LifecycleHook interface {
	// OnRegister is called when a table schema is first recorded.
	// If this hook returns an error, registration fails.
	OnRegister(ctx context.Context, s *schema.Schema) error

	// OnCreate is called before a table is marked created.
	// If this hook returns an error, the table stays uncreated.
	OnCreate(ctx context.Context, s *schema.Schema) error
}

// LifecycleHookFunc adapts plain functions to LifecycleHook. Nil functions
// are skipped.
type LifecycleHookFunc struct {
	OnRegisterFunc func(ctx context.Context, s *schema.Schema) error
	OnCreateFunc   func(ctx context.Context, s *schema.Schema) error
}

// OnRegister calls the OnRegisterFunc if it's not nil.
func (f LifecycleHookFunc) OnRegister(ctx context.Context, s *schema.Schema) error {
	if f.OnRegisterFunc != nil {
		return f.OnRegisterFunc(ctx, s)
	}
	return nil
}

// OnCreate calls the OnCreateFunc if it's not nil.
func (f LifecycleHookFunc) OnCreate(ctx context.Context, s *schema.Schema) error {
	if f.OnCreateFunc != nil {
		return f.OnCreateFunc(ctx, s)
	}
	return nil
}

// LifecycleManager manages lifecycle hooks for tables.
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

func (lm *LifecycleManager) snapshot() []LifecycleHook {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	hooks := make([]LifecycleHook, len(lm.hooks))
	copy(hooks, lm.hooks)
	return hooks
}

// ExecuteRegisterHooks executes all registered register hooks in order.
// If any hook returns an error, execution stops and the error is returned.
func (lm *LifecycleManager) ExecuteRegisterHooks(ctx context.Context, s *schema.Schema) error {
	for _, hook := range lm.snapshot() {
		if err := hook.OnRegister(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteCreateHooks executes all registered create hooks in order.
// If any hook returns an error, execution stops and the error is returned.
func (lm *LifecycleManager) ExecuteCreateHooks(ctx context.Context, s *schema.Schema) error {
	for _, hook := range lm.snapshot() {
		if err := hook.OnCreate(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// HookCount returns the number of registered hooks.
func (lm *LifecycleManager) HookCount() int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return len(lm.hooks)
}
