package hooks

import (
	"go.uber.org/zap"
)

// RegisterAudit logs every successful write to resource from the async queue
func RegisterAudit(e *Executor, resource string, logger *zap.Logger) {
	for _, hookType := range []HookType{AfterCreate, AfterUpdate, AfterDelete} {
		e.Register(resource, hookType, &Hook{
			Name:  "audit",
			Async: true,
			Fn: func(ctx *Context, record map[string]interface{}) error {
				entity := ctx.Entity()
				logger.Info("record written",
					zap.String("resource", entity.Name()),
					zap.String("operation", ctx.HookType().Operation.String()),
					zap.Any("id", record[entity.PrimaryKey()]),
				)
				return nil
			},
		})
	}
}
