package schema

import (
	"fmt"

	"github.com/go-openapi/inflect"
)

// Entity is the read-only metadata view of a resource used by query
// planning and execution. Entities are built by Registry.Freeze.
type Entity struct {
	name       string
	table      string
	primaryKey string
	attributes []string
	fields     map[string]*Field

	associations map[string]*Association
	assocOrder   []string

	// referrers are the entities with an association targeting this one
	referrers []*Entity
}

func newEntity(schema *ResourceSchema) (*Entity, error) {
	pk, err := schema.GetPrimaryKey()
	if err != nil {
		return nil, err
	}

	table := schema.TableName
	if table == "" {
		table = TableName(schema.Name)
	}

	fields := make(map[string]*Field, len(schema.Fields))
	for name, field := range schema.Fields {
		fields[name] = field
	}

	return &Entity{
		name:         schema.Name,
		table:        table,
		primaryKey:   pk.Name,
		attributes:   schema.FieldNames(),
		fields:       fields,
		associations: make(map[string]*Association),
	}, nil
}

// Name returns the resource name
func (e *Entity) Name() string { return e.name }

// Table returns the backing table name
func (e *Entity) Table() string { return e.table }

// PrimaryKey returns the primary key attribute name
func (e *Entity) PrimaryKey() string { return e.primaryKey }

// AttributeNames returns the entity's own attribute names in declaration order
func (e *Entity) AttributeNames() []string {
	names := make([]string, len(e.attributes))
	copy(names, e.attributes)
	return names
}

// HasAttribute reports whether name is one of the entity's own attributes
func (e *Entity) HasAttribute(name string) bool {
	_, ok := e.fields[name]
	return ok
}

// Field returns the declaration of an attribute
func (e *Entity) Field(name string) (*Field, bool) {
	field, ok := e.fields[name]
	return field, ok
}

// Association returns the named association
func (e *Entity) Association(name string) (*Association, bool) {
	assoc, ok := e.associations[name]
	return assoc, ok
}

// Associations returns all associations sorted by name
func (e *Entity) Associations() []*Association {
	result := make([]*Association, 0, len(e.assocOrder))
	for _, name := range e.assocOrder {
		result = append(result, e.associations[name])
	}
	return result
}

// Dependents returns the entity followed by every entity whose joins can
// reach it, directly or through other associations. Writes to the entity
// can change the results of queries on any of them.
func (e *Entity) Dependents() []*Entity {
	seen := map[*Entity]bool{e: true}
	result := []*Entity{e}
	for i := 0; i < len(result); i++ {
		for _, referrer := range result[i].referrers {
			if !seen[referrer] {
				seen[referrer] = true
				result = append(result, referrer)
			}
		}
	}
	return result
}

func (e *Entity) addAssociation(assoc *Association) {
	if _, exists := e.associations[assoc.Name]; !exists {
		e.assocOrder = append(e.assocOrder, assoc.Name)
	}
	e.associations[assoc.Name] = assoc

	for _, referrer := range assoc.Target.referrers {
		if referrer == e {
			return
		}
	}
	assoc.Target.referrers = append(assoc.Target.referrers, e)
}

// Association describes a relationship from Source to Target.
//
// Join columns by type:
//
//	belongs_to:        source.ForeignKey = target.TargetKey
//	has_one, has_many: target.ForeignKey = source.SourceKey
//	has_many_through:  JoinTable.ForeignKey = source.SourceKey and
//	                   JoinTable.AssociationKey = target.TargetKey
type Association struct {
	Name   string
	Type   RelationType
	Source *Entity
	Target *Entity

	// TargetKey is the default projected sub-field when a request names the
	// association without sub-fields.
	TargetKey string

	SourceKey      string
	ForeignKey     string
	JoinTable      string
	AssociationKey string
}

// Multiple reports whether the association yields a list of records
func (a *Association) Multiple() bool {
	return a.Type == RelationshipHasMany || a.Type == RelationshipHasManyThrough
}

func newAssociation(source, target *Entity, name string, rel *Relationship) (*Association, error) {
	assoc := &Association{
		Name:           name,
		Type:           rel.Type,
		Source:         source,
		Target:         target,
		TargetKey:      rel.TargetKey,
		SourceKey:      source.primaryKey,
		ForeignKey:     rel.ForeignKey,
		JoinTable:      rel.JoinTable,
		AssociationKey: rel.AssociationKey,
	}
	if assoc.TargetKey == "" {
		assoc.TargetKey = target.primaryKey
	}

	switch rel.Type {
	case RelationshipBelongsTo:
		if assoc.ForeignKey == "" {
			assoc.ForeignKey = inflect.Underscore(name) + "_id"
		}
	case RelationshipHasOne, RelationshipHasMany:
		if assoc.ForeignKey == "" {
			assoc.ForeignKey = inflect.Underscore(source.name) + "_id"
		}
	case RelationshipHasManyThrough:
		if assoc.JoinTable == "" {
			return nil, fmt.Errorf("resource %s: relationship %s requires a join table", source.name, name)
		}
		if assoc.ForeignKey == "" {
			assoc.ForeignKey = inflect.Underscore(source.name) + "_id"
		}
		if assoc.AssociationKey == "" {
			assoc.AssociationKey = inflect.Underscore(target.name) + "_id"
		}
	default:
		return nil, fmt.Errorf("resource %s: relationship %s has unknown type %d", source.name, name, rel.Type)
	}

	return assoc, nil
}
