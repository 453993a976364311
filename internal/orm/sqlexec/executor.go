package sqlexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conduit-lang/datasource/internal/orm/query"
	"github.com/conduit-lang/datasource/internal/orm/schema"
)

// ErrMissingPrimaryKey is returned when a write needs a primary key the record lacks
var ErrMissingPrimaryKey = errors.New("record has no primary key value")

// Executor runs plans and writes against a database
type Executor struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures an Executor
type Option func(*Executor)

// WithLogger sets the logger used for statements and failures
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the clock used for created_at/updated_at
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// NewExecutor creates an executor for db
func NewExecutor(db *sql.DB, dialect Dialect, opts ...Option) *Executor {
	e := &Executor{
		db:      db,
		dialect: dialect,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DB returns the underlying database
func (e *Executor) DB() *sql.DB {
	return e.db
}

// ExecutePlan runs a plan and returns nested records
func (e *Executor) ExecutePlan(ctx context.Context, plan *query.Plan) ([]map[string]interface{}, error) {
	stmt, err := Compile(e.dialect, plan)
	if err != nil {
		return nil, fmt.Errorf("failed to compile plan: %w", err)
	}
	e.logger.Debug("executing query", zap.String("sql", stmt.SQL), zap.Int("args", len(stmt.Args)))

	rows, err := e.db.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		e.logger.Warn("query failed", zap.String("sql", stmt.SQL), zap.Error(err))
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	records, err := materialize(stmt, rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan rows: %w", err)
	}
	return records, nil
}

// ExecutePlanWithCount runs a plan and counts all root records matching its
// filter, ignoring pagination
func (e *Executor) ExecutePlanWithCount(ctx context.Context, plan *query.Plan) ([]map[string]interface{}, int, error) {
	stmt, err := CompileCount(e.dialect, plan)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to compile count: %w", err)
	}
	e.logger.Debug("executing count", zap.String("sql", stmt.SQL), zap.Int("args", len(stmt.Args)))

	var count int
	if err := e.db.QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(&count); err != nil {
		e.logger.Warn("count failed", zap.String("sql", stmt.SQL), zap.Error(err))
		return nil, 0, fmt.Errorf("failed to execute count: %w", err)
	}

	if count == 0 {
		return []map[string]interface{}{}, 0, nil
	}

	records, err := e.ExecutePlan(ctx, plan)
	if err != nil {
		return nil, 0, err
	}
	return records, count, nil
}

// ExecuteGet runs a plan for at most one root record. It returns nil when
// nothing matches.
func (e *Executor) ExecuteGet(ctx context.Context, plan *query.Plan) (map[string]interface{}, error) {
	single := *plan
	limit := 1
	single.Limit = &limit

	records, err := e.ExecutePlan(ctx, &single)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// Persist inserts a new record or updates an existing one by primary key and
// returns the stored attributes
func (e *Executor) Persist(ctx context.Context, entity *schema.Entity, record map[string]interface{}, isNew bool) (map[string]interface{}, error) {
	var result map[string]interface{}
	err := e.withTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		if isNew {
			result, err = e.insert(ctx, tx, entity, record)
		} else {
			result, err = e.update(ctx, tx, entity, record)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete deletes a record by primary key
func (e *Executor) Delete(ctx context.Context, entity *schema.Entity, record map[string]interface{}) error {
	pk := entity.PrimaryKey()
	id, ok := record[pk]
	if !ok || id == nil {
		return fmt.Errorf("delete %s: %w", entity.Name(), ErrMissingPrimaryKey)
	}

	return e.withTransaction(ctx, func(tx *sql.Tx) error {
		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
			e.dialect.Quote(entity.Table()), e.dialect.Quote(pk), e.dialect.Placeholder(1))
		e.logger.Debug("executing delete", zap.String("sql", stmt))

		result, err := tx.ExecContext(ctx, stmt, id)
		if err != nil {
			return fmt.Errorf("failed to delete record: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

func (e *Executor) insert(ctx context.Context, tx *sql.Tx, entity *schema.Entity, data map[string]interface{}) (map[string]interface{}, error) {
	record := e.populateAutoFields(entity, data, true)

	var columns, placeholders []string
	var values []interface{}
	for _, name := range entity.AttributeNames() {
		value, ok := record[name]
		if !ok {
			continue
		}
		columns = append(columns, e.dialect.Quote(name))
		values = append(values, value)
		placeholders = append(placeholders, e.dialect.Placeholder(len(values)))
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("no fields to insert")
	}

	returning := e.returning(entity)
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		e.dialect.Quote(entity.Table()),
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(returning, ", "),
	)
	e.logger.Debug("executing insert", zap.String("sql", stmt))

	return scanReturning(tx.QueryRowContext(ctx, stmt, values...), entity.AttributeNames())
}

func (e *Executor) update(ctx context.Context, tx *sql.Tx, entity *schema.Entity, data map[string]interface{}) (map[string]interface{}, error) {
	pk := entity.PrimaryKey()
	id, ok := data[pk]
	if !ok || id == nil {
		return nil, fmt.Errorf("update %s: %w", entity.Name(), ErrMissingPrimaryKey)
	}
	record := e.populateAutoFields(entity, data, false)

	var sets []string
	var values []interface{}
	for _, name := range entity.AttributeNames() {
		value, ok := record[name]
		if !ok || name == pk {
			continue
		}
		values = append(values, value)
		sets = append(sets, fmt.Sprintf("%s = %s", e.dialect.Quote(name), e.dialect.Placeholder(len(values))))
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}
	values = append(values, id)

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s RETURNING %s",
		e.dialect.Quote(entity.Table()),
		strings.Join(sets, ", "),
		e.dialect.Quote(pk),
		e.dialect.Placeholder(len(values)),
		strings.Join(e.returning(entity), ", "),
	)
	e.logger.Debug("executing update", zap.String("sql", stmt))

	return scanReturning(tx.QueryRowContext(ctx, stmt, values...), entity.AttributeNames())
}

// populateAutoFields copies the entity's attributes from data and fills a
// missing uuid primary key and the created_at/updated_at timestamps
func (e *Executor) populateAutoFields(entity *schema.Entity, data map[string]interface{}, isNew bool) map[string]interface{} {
	record := make(map[string]interface{}, len(data))
	for _, name := range entity.AttributeNames() {
		if value, ok := data[name]; ok {
			record[name] = value
		}
	}

	now := e.now().UTC()
	pk := entity.PrimaryKey()

	if isNew {
		if field, ok := entity.Field(pk); ok && field.Type != nil && field.Type.BaseType == schema.TypeUUID {
			if value, exists := record[pk]; !exists || value == nil {
				record[pk] = uuid.New().String()
			}
		}
		if isTimestamp(entity, "created_at") {
			if _, exists := record["created_at"]; !exists {
				record["created_at"] = now
			}
		}
		if isTimestamp(entity, "updated_at") {
			if _, exists := record["updated_at"]; !exists {
				record["updated_at"] = now
			}
		}
		return record
	}

	if isTimestamp(entity, "updated_at") {
		record["updated_at"] = now
	}
	return record
}

func isTimestamp(entity *schema.Entity, name string) bool {
	field, ok := entity.Field(name)
	return ok && field.Type != nil && field.Type.IsTemporal()
}

func (e *Executor) returning(entity *schema.Entity) []string {
	names := entity.AttributeNames()
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = e.dialect.Quote(name)
	}
	return quoted
}

func scanReturning(row *sql.Row, columns []string) (map[string]interface{}, error) {
	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := row.Scan(valuePtrs...); err != nil {
		return nil, err
	}

	record := make(map[string]interface{}, len(columns))
	for i, col := range columns {
		record[col] = values[i]
	}
	return record, nil
}

// withTransaction runs fn in a transaction, committing on success and rolling
// back on error or panic
func (e *Executor) withTransaction(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			e.logger.Warn("rollback failed", zap.Error(rbErr))
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
