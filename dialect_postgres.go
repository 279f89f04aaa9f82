package dbal

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
)

const postgresDefaultPort = 5432

// PostgresDialect implements Dialect for PostgreSQL, including a Supabase
// database reached over its direct connection string.
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string                      { return "postgres" }
func (d *PostgresDialect) DriverName() string                { return "postgres" }
func (d *PostgresDialect) Placeholder() sq.PlaceholderFormat { return sq.Dollar }
func (d *PostgresDialect) ReturningInsert() bool             { return true }

func (d *PostgresDialect) BuildDSN(cfg Config) (string, error) {
	var missing []string
	if cfg.Host == "" {
		missing = append(missing, "host")
	}
	if cfg.Database == "" {
		missing = append(missing, "database")
	}
	if cfg.Username == "" {
		missing = append(missing, "username")
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing required postgres settings: %v", missing)
	}

	port := cfg.Port
	if port == 0 {
		port = postgresDefaultPort
	}
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "prefer"
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:     "/" + cfg.Database,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	return u.String(), nil
}

func (d *PostgresDialect) Prepare(ctx context.Context, cfg Config) error { return nil }

func (d *PostgresDialect) Configure(db *sql.DB, cfg Config) {
	db.SetMaxIdleConns(MaxConnectionsIdle)
	db.SetMaxOpenConns(MaxConnectionsOpen)
	db.SetConnMaxLifetime(time.Hour)
}

func (d *PostgresDialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// EncodeValue passes booleans through; PostgreSQL has a boolean type.
func (d *PostgresDialect) EncodeValue(v any) any { return v }

func (d *PostgresDialect) ListTablesQuery(cfg Config) (string, []any) {
	return `SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_catalog = $1
		ORDER BY table_name`, []any{cfg.Database}
}

func (d *PostgresDialect) TableExistsQuery(cfg Config, table string) (string, []any) {
	return `SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_catalog = $1 AND table_name = $2`,
		[]any{cfg.Database, table}
}

func (d *PostgresDialect) ReadSchemaQuery(cfg Config, table string) (string, []any) {
	return `SELECT column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_catalog = $1 AND table_schema = 'public' AND table_name = $2
		ORDER BY ordinal_position`, []any{cfg.Database, table}
}

func (d *PostgresDialect) ScanSchemaRow(rows *sql.Rows) (Column, error) {
	var colName, dataType, isNullable string
	var colDefault sql.NullString

	if err := rows.Scan(&colName, &dataType, &isNullable, &colDefault); err != nil {
		return Column{}, err
	}

	return Column{
		Name:     colName,
		Type:     dataType,
		Nullable: strings.EqualFold(isNullable, "YES"),
		Default:  nullString(colDefault),
	}, nil
}
