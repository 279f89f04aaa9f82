package dbal

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
)

// Dialect holds the behavior that differs between relational databases.
// Each supported database (MySQL, PostgreSQL, SQLite) implements it.
type Dialect interface {
	// Name returns the backend name reported by Database.Type.
	Name() string

	// DriverName returns the database/sql driver name.
	DriverName() string

	// Placeholder returns the bind parameter format of the dialect.
	Placeholder() sq.PlaceholderFormat

	// BuildDSN constructs the DSN for the configured database.
	BuildDSN(cfg Config) (string, error)

	// Prepare runs before the database handle is opened, e.g. to create the
	// database itself.
	Prepare(ctx context.Context, cfg Config) error

	// Configure tunes the pool of a freshly opened handle.
	Configure(db *sql.DB, cfg Config)

	// QuoteIdent quotes an already sanitized identifier.
	QuoteIdent(name string) string

	// EncodeValue converts a Go value into what the driver should bind.
	EncodeValue(v any) any

	// ReturningInsert reports whether inserts use RETURNING instead of
	// the driver's LastInsertId.
	ReturningInsert() bool

	// ListTablesQuery returns the SQL query and arguments to list all tables.
	ListTablesQuery(cfg Config) (string, []any)

	// TableExistsQuery returns a query yielding one row per matching table.
	TableExistsQuery(cfg Config, table string) (string, []any)

	// ReadSchemaQuery returns the SQL query and arguments to read column info for a table.
	ReadSchemaQuery(cfg Config, table string) (string, []any)

	// ScanSchemaRow scans a single row from the schema query result.
	ScanSchemaRow(rows *sql.Rows) (Column, error)
}

// boolToInt is the value encoding of dialects without a native boolean.
func boolToInt(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return int64(1)
		}
		return int64(0)
	}
	return v
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
