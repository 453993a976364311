// Package app assembles a data source from configuration: the schema
// registry, one repository and HTTP resource per declared entity, the count
// cache and the middleware stack.
package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/conduit-lang/datasource/internal/cli/config"
	"github.com/conduit-lang/datasource/internal/orm/crud"
	"github.com/conduit-lang/datasource/internal/orm/hooks"
	"github.com/conduit-lang/datasource/internal/orm/schema"
	"github.com/conduit-lang/datasource/internal/orm/sqlexec"
	"github.com/conduit-lang/datasource/internal/orm/validation"
	"github.com/conduit-lang/datasource/internal/web/auth"
	"github.com/conduit-lang/datasource/internal/web/cache"
	"github.com/conduit-lang/datasource/internal/web/middleware"
	"github.com/conduit-lang/datasource/internal/web/ratelimit"
	"github.com/conduit-lang/datasource/internal/web/resource"
	"github.com/conduit-lang/datasource/internal/web/router"
)

// App is an assembled data source
type App struct {
	db       *sql.DB
	dialect  sqlexec.Dialect
	registry *schema.Registry
	repos    map[string]*crud.Repository
	router   *router.Router
	cache    cache.Cache
	hooks    *hooks.Executor
	queue    *hooks.AsyncQueue
	limiter  func() error
	logger   *zap.Logger
	ownsDB   bool
}

// Open connects to the configured database and assembles the app
func Open(cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, dialect, err := sqlexec.Open(cfg.Database.Driver, config.GetDatabaseURL(cfg))
	if err != nil {
		return nil, err
	}

	a, err := New(cfg, db, dialect, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.ownsDB = true
	return a, nil
}

// New assembles the app over an open database
func New(cfg *config.Config, db *sql.DB, dialect sqlexec.Dialect, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	registry, err := schema.Load(cfg.Definitions())
	if err != nil {
		return nil, fmt.Errorf("failed to load resources: %w", err)
	}

	c, err := cache.New(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	var counts *cache.Counts
	if c != nil {
		counts = cache.NewCounts(c, cfg.Cache.TTL)
	}

	limiter, closeLimiter, err := ratelimit.New(cfg.RateLimit)
	if err != nil {
		if c != nil {
			c.Close()
		}
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	a := &App{
		db:       db,
		dialect:  dialect,
		registry: registry,
		repos:    make(map[string]*crud.Repository, len(cfg.Resources)),
		router:   router.NewRouter(Middleware(cfg, limiter, logger)...),
		cache:    c,
		limiter:  closeLimiter,
		queue:    hooks.NewAsyncQueue(cfg.Hooks.Workers, logger),
		logger:   logger,
	}
	a.queue.Start()
	a.hooks = hooks.NewExecutor(nil, a.queue, logger)

	executor := sqlexec.NewExecutor(db, dialect, sqlexec.WithLogger(logger))
	coercions := schema.DefaultCoercions()
	validator := validation.NewEngine(coercions)
	for _, rc := range cfg.Resources {
		entity, ok := registry.Entity(rc.Name)
		if !ok {
			a.Close()
			return nil, fmt.Errorf("resource %s is not registered", rc.Name)
		}
		fieldMap, err := rc.ParsedFieldMap()
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("resource %s: %w", rc.Name, err)
		}

		repo := crud.NewRepository(entity, executor, crud.Options{
			IDField:         rc.IDField,
			FieldMap:        fieldMap,
			ModelFieldNames: rc.ModelFieldNames,
			DefaultLimit:    rc.DefaultLimit,
			Validator:       validator,
			Hooks:           a.hooks,
			Coercions:       coercions,
			Counts:          counts,
			Logger:          logger,
		})
		a.repos[rc.Name] = repo
		if rc.Audit {
			hooks.RegisterAudit(a.hooks, rc.Name, logger)
		}

		handler := resource.New(repo, resource.Options{QFields: rc.QFields, Logger: logger})
		if err := handler.Register(a.router, cfg.Server.APIPrefix); err != nil {
			a.Close()
			return nil, fmt.Errorf("resource %s: %w", rc.Name, err)
		}
	}

	logger.Info("data source ready",
		zap.String("dialect", dialect.Name()),
		zap.Int("resources", len(a.repos)),
		zap.Bool("count_cache", c != nil),
	)
	return a, nil
}

// Middleware returns the server stack: request ID, logging and recovery,
// then bearer auth when a secret is configured, then rate limiting when a
// limiter is given
func Middleware(cfg *config.Config, limiter ratelimit.RateLimiter, logger *zap.Logger) []middleware.Middleware {
	stack := middleware.Default(logger)
	if cfg.Auth.Enabled() {
		stack = append(stack, middleware.Auth(middleware.AuthConfig{
			Tokens:     auth.NewTokenService(cfg.Auth.Secret, cfg.Auth.TokenTTL),
			WriteRoles: cfg.Auth.WriteRoles,
		}))
	}
	if limiter != nil {
		stack = append(stack, middleware.RateLimit(limiter, logger))
	}
	return stack
}

// Repository returns the repository of the named resource
func (a *App) Repository(name string) (*crud.Repository, bool) {
	repo, ok := a.repos[name]
	return repo, ok
}

// Hooks returns the lifecycle hook executor shared by every repository
func (a *App) Hooks() *hooks.Executor {
	return a.hooks
}

// Dialect returns the database dialect
func (a *App) Dialect() sqlexec.Dialect {
	return a.dialect
}

// DB returns the database handle
func (a *App) DB() *sql.DB {
	return a.db
}

// Handler returns the HTTP handler serving every resource
func (a *App) Handler() http.Handler {
	return a.router
}

// Router returns the router, for route listings
func (a *App) Router() *router.Router {
	return a.router
}

// Close drains the hook queue and releases the cache, and the database
// when Open created it
func (a *App) Close() error {
	a.queue.Shutdown()

	var errs []error
	if a.limiter != nil {
		errs = append(errs, a.limiter())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.ownsDB {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
