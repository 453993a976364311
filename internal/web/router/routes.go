package router

import (
	"fmt"
	"net/http"

	"github.com/go-openapi/inflect"
)

// Operation represents a resource operation
type Operation int

const (
	// OpList lists records (GET /orders)
	OpList Operation = iota
	// OpCount counts records (GET /orders/count)
	OpCount
	// OpShow reads one record (GET /orders/{id})
	OpShow
	// OpCreate creates a record (POST /orders)
	OpCreate
	// OpUpdate updates a record (PUT /orders/{id})
	OpUpdate
	// OpDelete deletes a record (DELETE /orders/{id})
	OpDelete
)

// String returns the string representation of Operation
func (o Operation) String() string {
	switch o {
	case OpList:
		return "list"
	case OpCount:
		return "count"
	case OpShow:
		return "show"
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// AllOperations lists every operation in registration order. Count comes
// before show so /count is not taken for an id.
var AllOperations = []Operation{OpList, OpCount, OpShow, OpCreate, OpUpdate, OpDelete}

// ResourceDefinition describes the routes of one resource
type ResourceDefinition struct {
	Name        string      // Order
	BasePath    string      // /orders
	IDParamName string      // id
	Operations  []Operation // enabled operations
}

// NewResourceDefinition creates a definition with every operation under
// the pluralized snake case name
func NewResourceDefinition(name string) *ResourceDefinition {
	return &ResourceDefinition{
		Name:        name,
		BasePath:    "/" + inflect.Pluralize(inflect.Underscore(name)),
		IDParamName: "id",
		Operations:  AllOperations,
	}
}

// ResourceHandlers contains handlers for resource operations
type ResourceHandlers struct {
	List   http.HandlerFunc
	Count  http.HandlerFunc
	Show   http.HandlerFunc
	Create http.HandlerFunc
	Update http.HandlerFunc
	Delete http.HandlerFunc
}

// Handler returns the handler for the given operation
func (h ResourceHandlers) Handler(op Operation) http.HandlerFunc {
	switch op {
	case OpList:
		return h.List
	case OpCount:
		return h.Count
	case OpShow:
		return h.Show
	case OpCreate:
		return h.Create
	case OpUpdate:
		return h.Update
	case OpDelete:
		return h.Delete
	default:
		return nil
	}
}

// RegisterResource registers the routes of every enabled operation
func (r *Router) RegisterResource(def *ResourceDefinition, handlers ResourceHandlers) error {
	for _, op := range def.Operations {
		if handlers.Handler(op) == nil {
			return fmt.Errorf("invalid handlers: missing handler for operation: %s", op)
		}
	}

	member := fmt.Sprintf("%s/{%s}", def.BasePath, def.IDParamName)
	for _, op := range def.Operations {
		var method, pattern string
		switch op {
		case OpList:
			method, pattern = http.MethodGet, def.BasePath
		case OpCount:
			method, pattern = http.MethodGet, def.BasePath+"/count"
		case OpShow:
			method, pattern = http.MethodGet, member
		case OpCreate:
			method, pattern = http.MethodPost, def.BasePath
		case OpUpdate:
			method, pattern = http.MethodPut, member
		case OpDelete:
			method, pattern = http.MethodDelete, member
		default:
			return fmt.Errorf("unknown operation: %s", op)
		}

		route := r.Handle(method, pattern, handlers.Handler(op))
		route.ResourceName = def.Name
		route.Operation = op
		route.Name = fmt.Sprintf("%s.%s", inflect.Underscore(def.Name), op)
	}
	return nil
}
