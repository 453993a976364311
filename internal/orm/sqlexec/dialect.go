// Package sqlexec executes query plans against a relational database. It
// compiles plans to SQL for a dialect, runs them through database/sql and
// assembles joined rows into nested records.
package sqlexec

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	// Database drivers
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect describes the SQL differences between supported databases
type Dialect interface {
	Name() string
	// Placeholder returns the bind parameter for the n-th argument (1-based)
	Placeholder(n int) string
	// Quote quotes an identifier
	Quote(identifier string) string
	// ILike renders a case-insensitive pattern match
	ILike(column, placeholder string, negate bool) string
}

type postgresDialect struct{}

func (postgresDialect) Name() string             { return "postgres" }
func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }
func (postgresDialect) Quote(identifier string) string {
	return quoteIdentifier(identifier)
}
func (postgresDialect) ILike(column, placeholder string, negate bool) string {
	if negate {
		return fmt.Sprintf("%s NOT ILIKE %s", column, placeholder)
	}
	return fmt.Sprintf("%s ILIKE %s", column, placeholder)
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string           { return "sqlite3" }
func (sqliteDialect) Placeholder(int) string { return "?" }
func (sqliteDialect) Quote(identifier string) string {
	return quoteIdentifier(identifier)
}
func (sqliteDialect) ILike(column, placeholder string, negate bool) string {
	if negate {
		return fmt.Sprintf("LOWER(%s) NOT LIKE LOWER(%s)", column, placeholder)
	}
	return fmt.Sprintf("LOWER(%s) LIKE LOWER(%s)", column, placeholder)
}

// Postgres is the PostgreSQL dialect
var Postgres Dialect = postgresDialect{}

// SQLite is the SQLite dialect
var SQLite Dialect = sqliteDialect{}

func quoteIdentifier(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

// driverNames maps configured driver names to database/sql driver names
var driverNames = map[string]string{
	"postgres": "pgx",
	"pgx":      "pgx",
	"pq":       "postgres",
	"sqlite":   "sqlite3",
	"sqlite3":  "sqlite3",
}

// DialectFor returns the dialect for a configured driver name
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "pgx", "pq":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// Open opens a database for a configured driver name: postgres (pgx),
// pq (lib/pq) or sqlite3.
func Open(driver, dsn string) (*sql.DB, Dialect, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, nil, err
	}

	db, err := sql.Open(driverNames[driver], dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	return db, dialect, nil
}
