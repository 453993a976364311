package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cast"
)

// CoerceFunc converts a raw driver value into the record value for a field
type CoerceFunc func(value interface{}) (interface{}, error)

// Coercions maps declared field types to value conversions applied once when
// rows are materialized into records. Types without a registered conversion
// keep the driver value.
type Coercions struct {
	mu     sync.RWMutex
	byType map[PrimitiveType]CoerceFunc
}

// NewCoercions creates an empty coercion table
func NewCoercions() *Coercions {
	return &Coercions{byType: make(map[PrimitiveType]CoerceFunc)}
}

// DefaultCoercions returns a table covering every primitive type
func DefaultCoercions() *Coercions {
	c := NewCoercions()

	toString := func(v interface{}) (interface{}, error) {
		if b, ok := v.([]byte); ok {
			return string(b), nil
		}
		return cast.ToStringE(v)
	}
	toInt := func(v interface{}) (interface{}, error) {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		return cast.ToInt64E(v)
	}
	toFloat := func(v interface{}) (interface{}, error) {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		return cast.ToFloat64E(v)
	}
	// decimals keep their exact digits; float64 would round numeric columns
	toDecimal := func(v interface{}) (interface{}, error) {
		var text string
		switch value := v.(type) {
		case json.Number:
			return value, nil
		case []byte:
			text = string(value)
		case float64:
			text = strconv.FormatFloat(value, 'f', -1, 64)
		case float32:
			text = strconv.FormatFloat(float64(value), 'f', -1, 32)
		default:
			str, err := cast.ToStringE(v)
			if err != nil {
				return nil, err
			}
			text = str
		}
		var number json.Number
		if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &number); err != nil || number == "" {
			return nil, fmt.Errorf("invalid decimal %q", text)
		}
		return number, nil
	}
	toTime := func(v interface{}) (interface{}, error) {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		return cast.ToTimeE(v)
	}
	toJSON := func(v interface{}) (interface{}, error) {
		var raw []byte
		switch value := v.(type) {
		case []byte:
			raw = value
		case string:
			raw = []byte(value)
		default:
			return v, nil
		}
		var decoded interface{}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, err
		}
		return decoded, nil
	}

	c.Register(TypeString, toString)
	c.Register(TypeText, toString)
	c.Register(TypeEnum, toString)
	c.Register(TypeInt, toInt)
	c.Register(TypeBigInt, toInt)
	c.Register(TypeFloat, toFloat)
	c.Register(TypeDecimal, toDecimal)
	c.Register(TypeBool, func(v interface{}) (interface{}, error) {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		return cast.ToBoolE(v)
	})
	c.Register(TypeTimestamp, toTime)
	c.Register(TypeDate, toTime)
	c.Register(TypeTime, toString)
	c.Register(TypeUUID, func(v interface{}) (interface{}, error) {
		switch value := v.(type) {
		case [16]byte:
			return uuid.UUID(value).String(), nil
		case []byte:
			if len(value) == 16 {
				id, err := uuid.FromBytes(value)
				if err != nil {
					return nil, err
				}
				return id.String(), nil
			}
			return string(value), nil
		default:
			return cast.ToStringE(v)
		}
	})
	c.Register(TypeJSON, toJSON)
	c.Register(TypeJSONB, toJSON)

	return c
}

// Register sets the conversion for a type, replacing any existing one
func (c *Coercions) Register(t PrimitiveType, fn CoerceFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byType[t] = fn
}

// Coerce converts a single value. nil is always kept as nil.
func (c *Coercions) Coerce(spec *TypeSpec, value interface{}) (interface{}, error) {
	if value == nil || spec == nil {
		return value, nil
	}

	c.mu.RLock()
	fn, ok := c.byType[spec.BaseType]
	c.mu.RUnlock()
	if !ok {
		return value, nil
	}
	return fn(value)
}

// Apply coerces the attributes of record in place and descends into
// associated records (a map for single associations, a slice for multiple).
func (c *Coercions) Apply(entity *Entity, record map[string]interface{}) error {
	for name, value := range record {
		field, ok := entity.Field(name)
		if !ok {
			continue
		}
		coerced, err := c.Coerce(field.Type, value)
		if err != nil {
			return fmt.Errorf("coerce %s.%s: %w", entity.Name(), name, err)
		}
		record[name] = coerced
	}

	for _, assoc := range entity.Associations() {
		switch nested := record[assoc.Name].(type) {
		case map[string]interface{}:
			if err := c.Apply(assoc.Target, nested); err != nil {
				return err
			}
		case []map[string]interface{}:
			for _, item := range nested {
				if err := c.Apply(assoc.Target, item); err != nil {
					return err
				}
			}
		case []interface{}:
			for _, item := range nested {
				if m, ok := item.(map[string]interface{}); ok {
					if err := c.Apply(assoc.Target, m); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}
