// Package crud exposes record repositories over query plans. A Repository
// builds plans for find, count and write requests and delegates them to an
// Executor, returning nested records shaped by the configured field map.
package crud

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/datasource/internal/orm/fieldpath"
	"github.com/conduit-lang/datasource/internal/orm/filter"
	"github.com/conduit-lang/datasource/internal/orm/query"
	"github.com/conduit-lang/datasource/internal/orm/schema"
	"github.com/conduit-lang/datasource/internal/web/cache"
)

// Record is a materialized record: attributes plus nested associations
type Record = map[string]interface{}

// Executor runs plans and writes against a backing store
type Executor interface {
	ExecutePlan(ctx context.Context, plan *query.Plan) ([]map[string]interface{}, error)
	ExecutePlanWithCount(ctx context.Context, plan *query.Plan) ([]map[string]interface{}, int, error)
	ExecuteGet(ctx context.Context, plan *query.Plan) (map[string]interface{}, error)
	Persist(ctx context.Context, entity *schema.Entity, record map[string]interface{}, isNew bool) (map[string]interface{}, error)
	Delete(ctx context.Context, entity *schema.Entity, record map[string]interface{}) error
}

type (
	// FindOptions are the options of Find
	FindOptions = query.ListOptions
	// GetOptions are the options of FindOne
	GetOptions = query.GetOptions
	// CountOptions are the options of Count
	CountOptions = query.CountOptions
)

// Options configures a Repository
type Options struct {
	// IDField identifies a saved record for the refetch. Defaults to the
	// primary key.
	IDField         string
	FieldMap        query.FieldMap
	ModelFieldNames []string
	DefaultLimit    int
	Normalizer      query.Normalizer
	Validator       Validator
	Hooks           Hooks
	Coercions       *schema.Coercions
	// Counts caches Count results. Writes through the repository invalidate
	// the entity's counts.
	Counts *cache.Counts
	Logger *zap.Logger
}

// Repository provides find, count and write operations for one entity
type Repository struct {
	entity    *schema.Entity
	builder   *query.Builder
	executor  Executor
	idField   string
	validator Validator
	hooks     Hooks
	coercions *schema.Coercions
	counts    *cache.Counts
	logger    *zap.Logger
}

// NewRepository creates a repository for entity
func NewRepository(entity *schema.Entity, executor Executor, opts Options) *Repository {
	idField := opts.IDField
	if idField == "" {
		idField = entity.PrimaryKey()
	}
	coercions := opts.Coercions
	if coercions == nil {
		coercions = schema.DefaultCoercions()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Repository{
		entity: entity,
		builder: query.NewBuilder(entity, query.Config{
			FieldMap:        opts.FieldMap,
			ModelFieldNames: opts.ModelFieldNames,
			DefaultLimit:    opts.DefaultLimit,
			Normalizer:      opts.Normalizer,
		}),
		executor:  executor,
		idField:   idField,
		validator: opts.Validator,
		hooks:     opts.Hooks,
		coercions: coercions,
		counts:    opts.Counts,
		logger:    logger.With(zap.String("resource", entity.Name())),
	}
}

// Entity returns the repository's entity
func (r *Repository) Entity() *schema.Entity {
	return r.entity
}

// IDField returns the field identifying a stored record
func (r *Repository) IDField() string {
	return r.idField
}

// Builder returns the plan builder used by the repository
func (r *Repository) Builder() *query.Builder {
	return r.builder
}

// Find returns the records matching opts
func (r *Repository) Find(ctx context.Context, opts FindOptions) ([]Record, error) {
	plan := r.builder.List(opts)
	r.logPlan("find", plan)

	records, err := r.executor.ExecutePlan(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s records: %w", r.entity.Name(), ConvertDBError(err))
	}
	for _, record := range records {
		if err := r.coercions.Apply(r.entity, record); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// FindOne returns the first record matching opts, or ErrNotFound
func (r *Repository) FindOne(ctx context.Context, opts GetOptions) (Record, error) {
	plan := r.builder.Get(opts)
	r.logPlan("find_one", plan)

	return r.get(ctx, plan)
}

func (r *Repository) get(ctx context.Context, plan *query.Plan) (Record, error) {
	record, err := r.executor.ExecuteGet(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s record: %w", r.entity.Name(), ConvertDBError(err))
	}
	if record == nil {
		return nil, fmt.Errorf("%s: %w", r.entity.Name(), ErrNotFound)
	}
	if err := r.coercions.Apply(r.entity, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Create returns a new unsaved instance holding a copy of data
func (r *Repository) Create(data map[string]interface{}) *Instance {
	values := make(Record, len(data))
	for k, v := range data {
		values[k] = v
	}
	return &Instance{Values: values, isNew: true}
}

// Instance returns an instance for a stored record, for Save and Remove
func (r *Repository) Instance(record Record) *Instance {
	return &Instance{Values: record}
}

// Save writes inst and returns the stored record re-read by its id field,
// shaped like a FindOne result with the default projection
func (r *Repository) Save(ctx context.Context, inst *Instance) (Record, error) {
	op := OperationUpdate
	if inst.isNew {
		op = OperationCreate
	}
	if r.validator != nil {
		if err := r.validator.Validate(ctx, r.entity, inst.Values, op); err != nil {
			return nil, err
		}
	}
	if err := r.runHooks(ctx, StageBefore, op, inst.Values); err != nil {
		return nil, err
	}

	start := time.Now()
	stored, err := r.executor.Persist(ctx, r.entity, inst.Values, inst.isNew)
	if err != nil {
		r.logger.Debug("save failed", zap.String("operation", op.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to %s %s record: %w", op, r.entity.Name(), ConvertDBError(err))
	}
	r.logger.Debug("saved record", zap.String("operation", op.String()), zap.Duration("duration", time.Since(start)))

	for k, v := range stored {
		inst.Values[k] = v
	}
	inst.isNew = false
	r.invalidateCounts(ctx)

	id, ok := stored[r.idField]
	if !ok || id == nil {
		id = inst.Values[r.idField]
	}
	if id == nil {
		return nil, fmt.Errorf("saved %s record has no %s", r.entity.Name(), r.idField)
	}

	plan := r.builder.Get(GetOptions{Where: filter.Filter{filter.Eq(r.idField, id)}})
	r.logPlan("refetch", plan)
	record, err := r.get(ctx, plan)
	if err != nil {
		return nil, err
	}
	if err := r.runHooks(ctx, StageAfter, op, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Remove deletes inst and returns it
func (r *Repository) Remove(ctx context.Context, inst *Instance) (*Instance, error) {
	if r.validator != nil {
		if err := r.validator.Validate(ctx, r.entity, inst.Values, OperationDelete); err != nil {
			return nil, err
		}
	}
	if err := r.runHooks(ctx, StageBefore, OperationDelete, inst.Values); err != nil {
		return nil, err
	}
	if err := r.executor.Delete(ctx, r.entity, inst.Values); err != nil {
		return nil, fmt.Errorf("failed to delete %s record: %w", r.entity.Name(), ConvertDBError(err))
	}
	r.logger.Debug("removed record")
	r.invalidateCounts(ctx)
	if err := r.runHooks(ctx, StageAfter, OperationDelete, inst.Values); err != nil {
		return nil, err
	}
	return inst, nil
}

func (r *Repository) runHooks(ctx context.Context, stage Stage, op Operation, record Record) error {
	if r.hooks == nil {
		return nil
	}
	if err := r.hooks.Run(ctx, r.entity, stage, op, record); err != nil {
		return fmt.Errorf("%s %s hook: %w", stage, op, err)
	}
	return nil
}

// Count returns the number of distinct records matching opts
func (r *Repository) Count(ctx context.Context, opts CountOptions) (int, error) {
	plan := r.builder.Count(opts)
	r.logPlan("count", plan)

	var key string
	if r.counts != nil {
		var err error
		key, err = cache.PlanKey(r.entity.Name(), plan.Describe())
		if err != nil {
			r.logger.Warn("count cache key failed", zap.Error(err))
		} else if count, ok, err := r.counts.Get(ctx, key); err != nil {
			r.logger.Warn("count cache read failed", zap.Error(err))
		} else if ok {
			return count, nil
		}
	}

	_, count, err := r.executor.ExecutePlanWithCount(ctx, plan)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s records: %w", r.entity.Name(), ConvertDBError(err))
	}

	if r.counts != nil && key != "" {
		if err := r.counts.Put(ctx, key, count); err != nil {
			r.logger.Warn("count cache write failed", zap.Error(err))
		}
	}
	return count, nil
}

// FieldValue reads a dotted or bracketed path from a record
func (r *Repository) FieldValue(record interface{}, path string) (interface{}, bool) {
	return fieldpath.Get(record, path)
}

// SetFieldValue writes a dotted or bracketed path on a record. Missing
// intermediate segments make it a no-op.
func (r *Repository) SetFieldValue(record interface{}, path string, value interface{}) {
	fieldpath.Set(record, path, value)
}

func (r *Repository) invalidateCounts(ctx context.Context) {
	if r.counts == nil {
		return
	}
	// counts of entities joining this one may have changed too
	for _, entity := range r.entity.Dependents() {
		if err := r.counts.Invalidate(ctx, entity.Name()); err != nil {
			r.logger.Warn("count cache invalidation failed", zap.String("resource", entity.Name()), zap.Error(err))
		}
	}
}

func (r *Repository) logPlan(operation string, plan *query.Plan) {
	if ce := r.logger.Check(zap.DebugLevel, "built plan"); ce != nil {
		ce.Write(
			zap.String("operation", operation),
			zap.Strings("attributes", plan.Attributes),
			zap.Int("includes", len(plan.Include)),
			zap.Int("where", len(plan.Where)),
		)
	}
}

// Instance is a record being created or modified
type Instance struct {
	Values Record
	isNew  bool
}

// IsNew reports whether the instance has not been saved yet
func (i *Instance) IsNew() bool {
	return i.isNew
}

// Get reads a path from the instance values
func (i *Instance) Get(path string) (interface{}, bool) {
	return fieldpath.Get(i.Values, path)
}

// Set writes a path on the instance values
func (i *Instance) Set(path string, value interface{}) {
	fieldpath.Set(i.Values, path, value)
}
