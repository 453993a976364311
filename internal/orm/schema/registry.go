package schema

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrFrozen is returned when a schema is registered after Freeze
var ErrFrozen = errors.New("schema registry is frozen")

// Registry manages all resource schemas of a data source. Schemas are
// registered during startup; Freeze then builds the read-only Entity views
// used by query planning.
type Registry struct {
	schemas  map[string]*ResourceSchema
	entities map[string]*Entity
	frozen   bool
	mu       sync.RWMutex
}

// NewRegistry creates a new schema registry
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]*ResourceSchema),
	}
}

// Register registers a new resource schema
func (r *Registry) Register(schema *ResourceSchema) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register %s: %w", schema.Name, ErrFrozen)
	}
	if schema.Name == "" {
		return errors.New("resource name is required")
	}
	if _, exists := r.schemas[schema.Name]; exists {
		return fmt.Errorf("resource %s is already registered", schema.Name)
	}
	if _, err := schema.GetPrimaryKey(); err != nil {
		return err
	}

	r.schemas[schema.Name] = schema
	return nil
}

// Get retrieves a resource schema by name
func (r *Registry) Get(name string) (*ResourceSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schema, exists := r.schemas[name]
	return schema, exists
}

// List returns the sorted names of all registered resources
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered schemas
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.schemas)
}

// Exists checks if a resource schema exists
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.schemas[name]
	return exists
}

// Freeze builds an Entity for every registered schema and resolves
// association targets. After Freeze the registry rejects new schemas.
// Calling Freeze again is a no-op.
func (r *Registry) Freeze() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return nil
	}

	entities := make(map[string]*Entity, len(r.schemas))
	for name, schema := range r.schemas {
		entity, err := newEntity(schema)
		if err != nil {
			return err
		}
		entities[name] = entity
	}

	// Second pass: associations may reference any entity, including cycles.
	for name, schema := range r.schemas {
		entity := entities[name]
		for _, relName := range sortedKeys(schema.Relationships) {
			rel := schema.Relationships[relName]
			target, ok := entities[rel.TargetResource]
			if !ok {
				return fmt.Errorf("resource %s: relationship %s references unknown resource %s",
					name, relName, rel.TargetResource)
			}
			assoc, err := newAssociation(entity, target, relName, rel)
			if err != nil {
				return err
			}
			entity.addAssociation(assoc)
		}
	}

	r.entities = entities
	r.frozen = true
	return nil
}

// Entity returns the frozen metadata view of a resource
func (r *Registry) Entity(name string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entity, ok := r.entities[name]
	return entity, ok
}

// Stats returns statistics about the registry
type RegistryStats struct {
	TotalResources     int
	TotalFields        int
	TotalRelationships int
	Frozen             bool
}

// GetStats returns statistics about the registry
func (r *Registry) GetStats() *RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &RegistryStats{
		TotalResources: len(r.schemas),
		Frozen:         r.frozen,
	}
	for _, schema := range r.schemas {
		stats.TotalFields += len(schema.Fields)
		stats.TotalRelationships += len(schema.Relationships)
	}
	return stats
}

func sortedKeys(m map[string]*Relationship) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
