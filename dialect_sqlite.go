package dbal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

// SQLiteDialect implements Dialect for SQLite files. Config.Database is the
// file path; ":memory:" opens a private in-memory database.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string                      { return "sqlite" }
func (d *SQLiteDialect) DriverName() string                { return "sqlite" }
func (d *SQLiteDialect) Placeholder() sq.PlaceholderFormat { return sq.Question }
func (d *SQLiteDialect) ReturningInsert() bool             { return false }

func (d *SQLiteDialect) BuildDSN(cfg Config) (string, error) {
	if cfg.Database == "" {
		return "", fmt.Errorf("missing required sqlite setting: database (file path or :memory:)")
	}
	return cfg.Database, nil
}

func (d *SQLiteDialect) Prepare(ctx context.Context, cfg Config) error { return nil }

// Configure pins in-memory databases to a single connection that never
// expires, since each SQLite memory connection is a separate database.
func (d *SQLiteDialect) Configure(db *sql.DB, cfg Config) {
	if isSQLiteMemory(cfg.Database) {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		return
	}
	db.SetMaxIdleConns(MaxConnectionsIdle)
	db.SetMaxOpenConns(MaxConnectionsOpen)
}

func isSQLiteMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

func (d *SQLiteDialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// EncodeValue maps booleans to 0/1; SQLite stores them as integers.
func (d *SQLiteDialect) EncodeValue(v any) any {
	return boolToInt(v)
}

func (d *SQLiteDialect) ListTablesQuery(cfg Config) (string, []any) {
	// SQLite has no information_schema. Use sqlite_master.
	return `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`,
		nil
}

func (d *SQLiteDialect) TableExistsQuery(cfg Config, table string) (string, []any) {
	return `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, []any{table}
}

func (d *SQLiteDialect) ReadSchemaQuery(cfg Config, table string) (string, []any) {
	// PRAGMA table_info cannot use ? placeholders; table is already sanitized.
	return fmt.Sprintf("PRAGMA table_info('%s')", strings.ReplaceAll(table, "'", "''")), nil
}

func (d *SQLiteDialect) ScanSchemaRow(rows *sql.Rows) (Column, error) {
	// PRAGMA table_info returns: cid, name, type, notnull, dflt_value, pk
	var cid int
	var name, colType string
	var notNull, pk int
	var dfltValue sql.NullString

	if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
		return Column{}, err
	}

	col := Column{
		Name:     name,
		Type:     colType,
		Nullable: notNull == 0 && pk == 0,
		Default:  nullString(dfltValue),
	}
	if pk > 0 {
		col.Key = "PRI"
	}
	return col, nil
}
