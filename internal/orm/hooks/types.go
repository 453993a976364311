package hooks

import (
	"fmt"
	"sync"

	"github.com/conduit-lang/datasource/internal/orm/crud"
)

// HookType names a lifecycle point: a stage of a write operation
type HookType struct {
	Stage     crud.Stage
	Operation crud.Operation
}

// Lifecycle points
var (
	BeforeCreate = HookType{crud.StageBefore, crud.OperationCreate}
	AfterCreate  = HookType{crud.StageAfter, crud.OperationCreate}
	BeforeUpdate = HookType{crud.StageBefore, crud.OperationUpdate}
	AfterUpdate  = HookType{crud.StageAfter, crud.OperationUpdate}
	BeforeDelete = HookType{crud.StageBefore, crud.OperationDelete}
	AfterDelete  = HookType{crud.StageAfter, crud.OperationDelete}
)

// String returns the hook type as "before_create"
func (t HookType) String() string {
	return t.Stage.String() + "_" + t.Operation.String()
}

// ParseHookType parses "after_update" style names
func ParseHookType(s string) (HookType, error) {
	for _, t := range []HookType{BeforeCreate, AfterCreate, BeforeUpdate, AfterUpdate, BeforeDelete, AfterDelete} {
		if t.String() == s {
			return t, nil
		}
	}
	return HookType{}, fmt.Errorf("unknown hook type: %s", s)
}

// HookFunc is called with the hook context and the record being written
type HookFunc func(ctx *Context, record map[string]interface{}) error

// Hook represents a registered lifecycle hook
type Hook struct {
	Name string
	Type HookType
	Fn   HookFunc
	// Async hooks run on the queue with a copy of the record. Their errors
	// are logged and never fail the write.
	Async bool
}

// AllResources registers a hook for every entity
const AllResources = "*"

// Registry holds hooks by resource and type
type Registry struct {
	mu    sync.RWMutex
	hooks map[string]map[HookType][]*Hook
}

// NewRegistry creates a new hook registry
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[string]map[HookType][]*Hook)}
}

// Register adds a hook for resource, or for every resource with AllResources
func (r *Registry) Register(resource string, hookType HookType, hook *Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hook.Type = hookType
	byType, ok := r.hooks[resource]
	if !ok {
		byType = make(map[HookType][]*Hook)
		r.hooks[resource] = byType
	}
	byType[hookType] = append(byType[hookType], hook)
}

// GetHooks returns the hooks for resource in registration order, the
// AllResources hooks first
func (r *Registry) GetHooks(resource string, hookType HookType) []*Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var hooks []*Hook
	hooks = append(hooks, r.hooks[AllResources][hookType]...)
	if resource != AllResources {
		hooks = append(hooks, r.hooks[resource][hookType]...)
	}
	return hooks
}

// HasHooks returns true if any hook applies to resource and hookType
func (r *Registry) HasHooks(resource string, hookType HookType) bool {
	return len(r.GetHooks(resource, hookType)) > 0
}
