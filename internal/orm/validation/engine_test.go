package validation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/datasource/internal/orm/crud"
	"github.com/conduit-lang/datasource/internal/orm/schema"
)

func customerEntity(t *testing.T) *schema.Entity {
	t.Helper()

	registry, err := schema.Load([]schema.Definition{{
		Name: "Customer",
		Fields: []schema.FieldDefinition{
			{Name: "id", Type: "int", Annotations: []string{"primary"}},
			{Name: "name", Type: "string"},
			{Name: "email", Type: "string", Annotations: []string{"email"}},
			{Name: "website", Type: "string", Nullable: true, Annotations: []string{"url"}},
			{Name: "phone", Type: "string", Nullable: true, Annotations: []string{"phone"}},
			{Name: "tier", Type: "enum", Values: []string{"free", "pro"}},
			{Name: "age", Type: "int", Nullable: true},
			{Name: "created_at", Type: "timestamp"},
		},
	}})
	require.NoError(t, err)
	entity, ok := registry.Entity("Customer")
	require.True(t, ok)
	return entity
}

func fieldErrors(t *testing.T, err error) map[string]string {
	t.Helper()

	var ve *crud.ValidationError
	require.True(t, errors.As(err, &ve), "expected a validation error, got %v", err)
	byField := make(map[string]string, len(ve.Errors))
	for _, fe := range ve.Errors {
		byField[fe.Field] = fe.Type
	}
	return byField
}

func TestEngineValidate(t *testing.T) {
	entity := customerEntity(t)
	engine := NewEngine(nil)
	ctx := context.Background()

	valid := map[string]interface{}{"name": "Ada", "email": "ada@example.com", "tier": "pro"}

	tests := []struct {
		name      string
		record    map[string]interface{}
		operation crud.Operation
		want      map[string]string
	}{
		{
			name:      "valid create",
			record:    valid,
			operation: crud.OperationCreate,
		},
		{
			name:      "missing required fields on create",
			record:    map[string]interface{}{"email": "ada@example.com"},
			operation: crud.OperationCreate,
			want:      map[string]string{"name": "required", "tier": "required"},
		},
		{
			name:      "partial update skips absent fields",
			record:    map[string]interface{}{"id": int64(1), "age": int64(40)},
			operation: crud.OperationUpdate,
		},
		{
			name:      "explicit null on update",
			record:    map[string]interface{}{"id": int64(1), "name": nil, "website": nil},
			operation: crud.OperationUpdate,
			want:      map[string]string{"name": "required"},
		},
		{
			name:      "wrong type",
			record:    map[string]interface{}{"name": "Ada", "email": "ada@example.com", "tier": "pro", "age": "old"},
			operation: crud.OperationCreate,
			want:      map[string]string{"age": "type"},
		},
		{
			name:      "enum",
			record:    map[string]interface{}{"name": "Ada", "email": "ada@example.com", "tier": "gold"},
			operation: crud.OperationCreate,
			want:      map[string]string{"tier": "enum"},
		},
		{
			name: "format annotations",
			record: map[string]interface{}{
				"name": "Ada", "email": "Ada <ada@example.com>", "tier": "free",
				"website": "ftp://example.com", "phone": "555-1234",
			},
			operation: crud.OperationCreate,
			want:      map[string]string{"email": "email", "website": "url", "phone": "phone"},
		},
		{
			name:      "delete is not checked",
			record:    map[string]interface{}{},
			operation: crud.OperationDelete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.Validate(ctx, entity, tt.record, tt.operation)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.want, fieldErrors(t, err))
			assert.True(t, crud.IsValidationFailed(err))
		})
	}
}

func TestEngineErrorsAreSortedByField(t *testing.T) {
	err := NewEngine(nil).Validate(context.Background(), customerEntity(t), map[string]interface{}{}, crud.OperationCreate)

	var ve *crud.ValidationError
	require.ErrorAs(t, err, &ve)
	fields := make([]string, len(ve.Errors))
	for i, fe := range ve.Errors {
		fields[i] = fe.Field
	}
	assert.Equal(t, []string{"email", "name", "tier"}, fields)
}

func TestRegisterAnnotation(t *testing.T) {
	registry, err := schema.Load([]schema.Definition{{
		Name: "Tag",
		Fields: []schema.FieldDefinition{
			{Name: "id", Type: "int", Annotations: []string{"primary"}},
			{Name: "slug", Type: "string", Annotations: []string{"slug"}},
		},
	}})
	require.NoError(t, err)
	tag, _ := registry.Entity("Tag")

	engine := NewEngine(nil)
	engine.RegisterAnnotation("slug", FieldValidatorFunc(func(value interface{}) error {
		if value.(string) != "ok" {
			return errors.New("must be a slug")
		}
		return nil
	}))

	assert.NoError(t, engine.Validate(context.Background(), tag, map[string]interface{}{"slug": "ok"}, crud.OperationCreate))
	assert.Equal(t, map[string]string{"slug": "slug"},
		fieldErrors(t, engine.Validate(context.Background(), tag, map[string]interface{}{"slug": "Not OK"}, crud.OperationCreate)))
}

func TestFieldValidators(t *testing.T) {
	tests := []struct {
		name      string
		validator FieldValidator
		value     interface{}
		wantErr   bool
	}{
		{"email ok", &EmailValidator{}, "ada@example.com", false},
		{"email without domain dot", &EmailValidator{}, "ada@localhost", true},
		{"email not a string", &EmailValidator{}, 42, true},
		{"url ok", &URLValidator{}, "https://example.com/a", false},
		{"url relative", &URLValidator{}, "/a/b", true},
		{"phone ok", &PhoneValidator{}, "+14155552671", false},
		{"phone missing plus", &PhoneValidator{}, "14155552671", true},
		{"enum ok", &EnumValidator{Values: []string{"a", "b"}}, "b", false},
		{"enum miss", &EnumValidator{Values: []string{"a", "b"}}, "c", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.validator.Validate(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
