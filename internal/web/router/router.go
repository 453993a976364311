// Package router registers resource routes on a chi router and keeps route
// metadata for introspection.
package router

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/conduit-lang/datasource/internal/web/middleware"
	"github.com/conduit-lang/datasource/internal/web/response"
)

// Router manages HTTP routing using chi framework
type Router struct {
	mux    chi.Router
	routes []*Route
}

// Route represents a single registered route
type Route struct {
	Pattern string           // /orders/{id}
	Method  string           // GET, POST, etc.
	Handler http.HandlerFunc // Handler function
	Name    string           // orders.show

	// Resource metadata
	ResourceName string
	Operation    Operation
}

// NewRouter creates a router answering unknown routes and methods with JSON errors
func NewRouter(middlewares ...middleware.Middleware) *Router {
	mux := chi.NewRouter()
	for _, m := range middlewares {
		mux.Use(m)
	}
	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, "route not found: "+r.URL.Path)
	})
	mux.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.MethodNotAllowed(w)
	})
	return &Router{mux: mux}
}

// ServeHTTP implements http.Handler interface
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Handle registers a route
func (r *Router) Handle(method, pattern string, handler http.HandlerFunc) *Route {
	r.mux.Method(method, pattern, handler)
	route := &Route{Pattern: pattern, Method: method, Handler: handler}
	r.routes = append(r.routes, route)
	return route
}

// Routes returns the registered routes in registration order
func (r *Router) Routes() []*Route {
	return r.routes
}

// URLParam returns a path parameter of the current request
func URLParam(req *http.Request, name string) string {
	return chi.URLParam(req, name)
}

// RouteList returns a formatted list of all routes
func (r *Router) RouteList() string {
	var sb strings.Builder
	for _, route := range r.routes {
		sb.WriteString(padRight(route.Method, 8))
		sb.WriteString(padRight(route.Pattern, 40))
		sb.WriteString(route.Name)
		sb.WriteString("\n")
	}
	return sb.String()
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s + " "
	}
	return s + strings.Repeat(" ", width-len(s))
}
