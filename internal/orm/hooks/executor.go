// Package hooks runs lifecycle callbacks around repository writes. Hooks
// are registered per resource and lifecycle point; async hooks run on a
// worker queue with a private copy of the record.
package hooks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/conduit-lang/datasource/internal/orm/crud"
	"github.com/conduit-lang/datasource/internal/orm/schema"
)

// Executor executes lifecycle hooks for repositories
type Executor struct {
	registry   *Registry
	asyncQueue *AsyncQueue
	logger     *zap.Logger
}

var _ crud.Hooks = (*Executor)(nil)

// NewExecutor creates a hook executor. asyncQueue may be nil when no async
// hooks are registered.
func NewExecutor(registry *Registry, asyncQueue *AsyncQueue, logger *zap.Logger) *Executor {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{registry: registry, asyncQueue: asyncQueue, logger: logger}
}

// Register registers a hook for resource
func (e *Executor) Register(resource string, hookType HookType, hook *Hook) {
	e.registry.Register(resource, hookType, hook)
}

// Registry returns the executor's registry
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Run implements crud.Hooks. Synchronous hooks run in registration order
// and the first error stops the chain.
func (e *Executor) Run(ctx context.Context, entity *schema.Entity, stage crud.Stage, operation crud.Operation, record map[string]interface{}) error {
	hookType := HookType{Stage: stage, Operation: operation}
	hooks := e.registry.GetHooks(entity.Name(), hookType)
	if len(hooks) == 0 {
		return nil
	}

	hookCtx := NewContext(ctx, entity, hookType)
	for _, hook := range hooks {
		if hook.Async {
			if err := e.enqueueAsyncHook(entity, hook, record); err != nil {
				e.logger.Warn("failed to enqueue async hook",
					zap.String("resource", entity.Name()),
					zap.String("hook", hook.Type.String()),
					zap.Error(err),
				)
			}
			continue
		}
		if err := hook.Fn(hookCtx, record); err != nil {
			return fmt.Errorf("hook %s failed: %w", hookName(hook), err)
		}
	}
	return nil
}

func (e *Executor) enqueueAsyncHook(entity *schema.Entity, hook *Hook, record map[string]interface{}) error {
	if e.asyncQueue == nil {
		return fmt.Errorf("async queue not configured")
	}

	recordCopy := deepCopyRecord(record)
	return e.asyncQueue.Enqueue(AsyncTask{
		Name: entity.Name() + "." + hookName(hook),
		Fn: func(ctx context.Context) error {
			return hook.Fn(NewContext(ctx, entity, hook.Type), recordCopy)
		},
	})
}

func hookName(hook *Hook) string {
	if hook.Name != "" {
		return hook.Name
	}
	return hook.Type.String()
}

// deepCopyRecord copies record so an async hook never shares maps or
// slices with the caller
func deepCopyRecord(record map[string]interface{}) map[string]interface{} {
	copied := make(map[string]interface{}, len(record))
	for k, v := range record {
		copied[k] = deepCopyValue(v)
	}
	return copied
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return deepCopyRecord(val)
	case []map[string]interface{}:
		out := make([]map[string]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopyRecord(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	case []byte:
		return append([]byte(nil), val...)
	default:
		// scalars, time.Time and similar values copy by value
		return v
	}
}
