package schema

import (
	"fmt"
)

// Definition is the configuration form of a resource
type Definition struct {
	Name          string                   `mapstructure:"name"`
	Table         string                   `mapstructure:"table"`
	PrimaryKey    string                   `mapstructure:"primary_key"`
	Fields        []FieldDefinition        `mapstructure:"fields"`
	Relationships []RelationshipDefinition `mapstructure:"relationships"`
}

// FieldDefinition is the configuration form of a field
type FieldDefinition struct {
	Name        string   `mapstructure:"name"`
	Type        string   `mapstructure:"type"`
	Nullable    bool     `mapstructure:"nullable"`
	Annotations []string `mapstructure:"annotations"`
	Values      []string `mapstructure:"values"`
}

// RelationshipDefinition is the configuration form of a relationship
type RelationshipDefinition struct {
	Name           string `mapstructure:"name"`
	Type           string `mapstructure:"type"`
	Target         string `mapstructure:"target"`
	ForeignKey     string `mapstructure:"foreign_key"`
	TargetKey      string `mapstructure:"target_key"`
	JoinTable      string `mapstructure:"join_table"`
	AssociationKey string `mapstructure:"association_key"`
	Nullable       bool   `mapstructure:"nullable"`
}

// Build converts the definition into a ResourceSchema
func (d Definition) Build() (*ResourceSchema, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("resource definition is missing a name")
	}

	schema := NewResourceSchema(d.Name)
	if d.Table != "" {
		schema.TableName = d.Table
	}
	schema.PrimaryKey = d.PrimaryKey

	for _, fd := range d.Fields {
		typ, err := ParsePrimitiveType(fd.Type)
		if err != nil {
			return nil, fmt.Errorf("resource %s field %s: %w", d.Name, fd.Name, err)
		}
		field := &Field{
			Name: fd.Name,
			Type: &TypeSpec{BaseType: typ, Nullable: fd.Nullable, EnumValues: fd.Values},
		}
		for _, name := range fd.Annotations {
			field.Annotations = append(field.Annotations, Annotation{Name: name})
		}
		schema.AddField(field)
	}

	for _, rd := range d.Relationships {
		typ, err := ParseRelationType(rd.Type)
		if err != nil {
			return nil, fmt.Errorf("resource %s relationship %s: %w", d.Name, rd.Name, err)
		}
		schema.AddRelationship(&Relationship{
			Type:           typ,
			TargetResource: rd.Target,
			FieldName:      rd.Name,
			Nullable:       rd.Nullable,
			ForeignKey:     rd.ForeignKey,
			TargetKey:      rd.TargetKey,
			JoinTable:      rd.JoinTable,
			AssociationKey: rd.AssociationKey,
		})
	}

	return schema, nil
}

// Load registers every definition and freezes the registry
func Load(definitions []Definition) (*Registry, error) {
	registry := NewRegistry()
	for _, def := range definitions {
		schema, err := def.Build()
		if err != nil {
			return nil, err
		}
		if err := registry.Register(schema); err != nil {
			return nil, err
		}
	}
	if err := registry.Freeze(); err != nil {
		return nil, err
	}
	return registry, nil
}
