package hooks

import (
	"context"

	"github.com/conduit-lang/datasource/internal/orm/schema"
)

// Context is passed to every hook
type Context struct {
	context.Context
	entity   *schema.Entity
	hookType HookType
}

// NewContext creates a hook context
func NewContext(ctx context.Context, entity *schema.Entity, hookType HookType) *Context {
	return &Context{Context: ctx, entity: entity, hookType: hookType}
}

// Entity returns the entity being written
func (c *Context) Entity() *schema.Entity {
	return c.entity
}

// HookType returns the lifecycle point being run
func (c *Context) HookType() HookType {
	return c.hookType
}
