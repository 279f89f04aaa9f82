// Package dbal is a small database access layer that lets application code
// issue generic CRUD and raw SQL operations against a relational database
// (MySQL, PostgreSQL, SQLite), a PostgREST-compatible REST API (Supabase),
// or nothing at all, without changing call sites.
//
// Callers obtain a Database once through Open and use it for the rest of the
// request:
//
//	db, err := dbal.Open(ctx, "mysql", dbal.Config{Host: "localhost", Database: "aegis"})
//	if err != nil {
//		return err
//	}
//	defer db.Disconnect()
//
//	rows, err := db.Select(ctx, "tbl_artigos", dbal.Where{"categoria_id": []string{"1", "2"}},
//		dbal.Options{Order: "created_at DESC", Limit: 10})
package dbal

import "context"

// Row is a single record keyed by column name.
type Row map[string]any

// Where filters rows by column. A slice or array value (other than []byte)
// matches any of its elements; any other value matches by equality and nil
// matches NULL. Multiple entries are joined with AND.
type Where map[string]any

// Options tunes a Select.
type Options struct {
	// Order is "column DIRECTION" or a comma separated list of such pairs.
	// Table qualifiers ("t.column") are stripped.
	Order string
	// Limit caps the number of rows returned. Zero or negative means no limit.
	Limit int
	// Offset skips rows before the first one returned. Relational backends
	// only apply it together with Limit.
	Offset int
}

// Column describes a table column.
type Column struct {
	Name     string  `json:"column_name"`
	Type     string  `json:"data_type"`
	Nullable bool    `json:"is_nullable"`
	Key      string  `json:"column_key,omitempty"`
	Default  *string `json:"column_default,omitempty"`
	Extra    string  `json:"extra,omitempty"`
}

// InsertResult reports the outcome of a successful Insert.
//
// HasID is false when the row was written but the backend produced no
// generated identifier, as with tables keyed by a client supplied value or a
// composite primary key.
type InsertResult struct {
	ID    any
	HasID bool
}

// Result reports the outcome of Execute.
type Result struct {
	RowsAffected int64
	LastInsertID any
}

// Database is the operation set every backend supports.
//
// A Database is meant to be used by one request's call chain at a time.
// Implementations that pool connections guard their own mutable state.
type Database interface {
	// Type returns the backend name, e.g. "mysql" or "supabase".
	Type() string

	// Connect establishes the session or validates reachability.
	Connect(ctx context.Context) error

	// Disconnect releases held resources. It is safe to call more than once.
	Disconnect() error

	// Select returns the rows of table matching where. An empty where
	// matches every row.
	Select(ctx context.Context, table string, where Where, opts Options) ([]Row, error)

	// Insert writes one row.
	Insert(ctx context.Context, table string, data Row) (InsertResult, error)

	// Update changes the rows matching where and returns how many were
	// affected. An empty where is rejected with ErrEmptyWhere.
	Update(ctx context.Context, table string, data Row, where Where) (int64, error)

	// Delete removes the rows matching where and returns how many were
	// affected. An empty where is rejected with ErrEmptyWhere.
	Delete(ctx context.Context, table string, where Where) (int64, error)

	// Query runs a raw statement with positional "?" parameters and returns
	// the rows it produced.
	Query(ctx context.Context, query string, params ...any) ([]Row, error)

	// Execute runs a raw statement with positional "?" parameters.
	Execute(ctx context.Context, query string, params ...any) (Result, error)

	// LastID returns the most recent generated identifier, if one is known.
	LastID() (any, bool)

	// TableExists reports whether table exists. A missing table is not an
	// error.
	TableExists(ctx context.Context, table string) (bool, error)

	// Columns describes the columns of table.
	Columns(ctx context.Context, table string) ([]Column, error)
}

// TableLister is implemented by backends that can enumerate their tables.
type TableLister interface {
	Tables(ctx context.Context) ([]string, error)
}
