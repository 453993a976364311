package query

import (
	"github.com/conduit-lang/datasource/internal/orm/filter"
	"github.com/conduit-lang/datasource/internal/orm/schema"
)

// Direction is a sort direction
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// OrderTerm is one ORDER BY entry. Field may be dotted to reference an
// included association ("customer.name").
type OrderTerm struct {
	Field     string
	Direction Direction
}

// SortKey is one entry of a sort specification. A positive weight sorts
// ascending; zero or negative sorts descending.
type SortKey struct {
	Field  string
	Weight int
}

// Plan is an executable description of a query on one entity
type Plan struct {
	Entity     *schema.Entity
	Attributes []string
	Include    []*IncludeNode
	Where      filter.Filter
	Order      []OrderTerm
	Limit      *int
	Offset     *int
	Distinct   bool
}

// PlanHook post-processes a finished plan before execution
type PlanHook func(*Plan)

// Normalizer rewrites a request filter before planning
type Normalizer func(entity *schema.Entity, where filter.Filter) filter.Filter

// Config is the per-resource planning configuration
type Config struct {
	FieldMap FieldMap

	// ModelFieldNames overrides the candidate field list of Count
	ModelFieldNames []string

	// DefaultLimit applies to List when the request has no positive limit
	DefaultLimit int

	Normalizer Normalizer
}

// ListOptions describes a list request
type ListOptions struct {
	Fields  []FieldSpec
	Where   filter.Filter
	Q       string
	QFields []string
	Sort    []SortKey
	Limit   int
	Skip    int
	Hook    PlanHook
}

// GetOptions describes a single record request
type GetOptions struct {
	Fields []FieldSpec
	Where  filter.Filter
	Hook   PlanHook
}

// CountOptions describes a count request
type CountOptions struct {
	Where   filter.Filter
	Q       string
	QFields []string
}

// Builder builds plans for one entity
type Builder struct {
	entity *schema.Entity
	config Config
}

// NewBuilder creates a plan builder for entity
func NewBuilder(entity *schema.Entity, config Config) *Builder {
	if config.Normalizer == nil {
		config.Normalizer = NoopNormalizer
	}
	return &Builder{entity: entity, config: config}
}

// NoopNormalizer returns the filter unchanged
func NoopNormalizer(_ *schema.Entity, where filter.Filter) filter.Filter {
	return where
}

// Entity returns the entity plans are built for
func (b *Builder) Entity() *schema.Entity {
	return b.entity
}

// FieldMap returns the configured field map
func (b *Builder) FieldMap() FieldMap {
	return b.config.FieldMap
}

// DefaultFields is the projection used when a request names no fields: every
// attribute of the entity followed by every configured association.
func (b *Builder) DefaultFields() []FieldSpec {
	fields := BareFields(b.entity.AttributeNames()...)
	for _, name := range b.config.FieldMap.Names() {
		if _, ok := b.entity.Association(name); ok {
			fields = append(fields, Bare(name))
		}
	}
	return fields
}

// List builds the plan for a list request
func (b *Builder) List(opts ListOptions) *Plan {
	where := b.config.Normalizer(b.entity, opts.Where)
	where = ApplySearch(where, opts.QFields, opts.Q)

	plan := b.project(opts.Fields, where)
	plan.Order = OrderFromSort(opts.Sort)

	limit := opts.Limit
	if limit <= 0 {
		limit = b.config.DefaultLimit
	}
	if limit > 0 {
		plan.Limit = &limit
	}
	if opts.Skip > 0 {
		offset := opts.Skip
		plan.Offset = &offset
	}

	if opts.Hook != nil {
		opts.Hook(plan)
	}
	return plan
}

// Get builds the plan for a single record request
func (b *Builder) Get(opts GetOptions) *Plan {
	where := b.config.Normalizer(b.entity, opts.Where)

	plan := b.project(opts.Fields, where)

	if opts.Hook != nil {
		opts.Hook(plan)
	}
	return plan
}

// Count builds the plan for counting distinct root records. Only the joins
// needed by association filters are built.
func (b *Builder) Count(opts CountOptions) *Plan {
	where := b.config.Normalizer(b.entity, opts.Where)
	where = ApplySearch(where, opts.QFields, opts.Q)

	resolved := Resolve(b.entity, b.config.FieldMap, b.countFields(), where, true)

	limit := 1
	return &Plan{
		Entity:   b.entity,
		Include:  resolved.Include,
		Where:    resolved.Where,
		Limit:    &limit,
		Distinct: true,
	}
}

func (b *Builder) project(fields []FieldSpec, where filter.Filter) *Plan {
	if len(fields) == 0 {
		fields = b.DefaultFields()
	}
	resolved := Resolve(b.entity, b.config.FieldMap, fields, where, false)

	return &Plan{
		Entity:     b.entity,
		Attributes: ensurePrimaryKey(resolved.Attributes, b.entity.PrimaryKey()),
		Include:    resolved.Include,
		Where:      resolved.Where,
	}
}

// countFields lists the candidate fields for Count. Configured associations
// follow the attributes so association filters get their joins; in
// filter-driven resolution an association without a filter adds nothing.
func (b *Builder) countFields() []FieldSpec {
	if len(b.config.ModelFieldNames) > 0 {
		return BareFields(b.config.ModelFieldNames...)
	}
	return b.DefaultFields()
}

// ensurePrimaryKey returns attributes with pk present exactly once
func ensurePrimaryKey(attributes []string, pk string) []string {
	result := make([]string, 0, len(attributes)+1)
	seen := false
	for _, name := range attributes {
		if name == pk {
			if seen {
				continue
			}
			seen = true
		}
		result = append(result, name)
	}
	if !seen {
		result = append(result, pk)
	}
	return result
}

// OrderFromSort converts a sort specification into order terms, keeping its order
func OrderFromSort(sort []SortKey) []OrderTerm {
	if len(sort) == 0 {
		return nil
	}
	order := make([]OrderTerm, 0, len(sort))
	for _, key := range sort {
		direction := Desc
		if key.Weight > 0 {
			direction = Asc
		}
		order = append(order, OrderTerm{Field: key.Field, Direction: direction})
	}
	return order
}
