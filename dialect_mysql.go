package dbal

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
)

const (
	mysqlDefaultPort = 3306
	mysqlCharset     = "utf8mb4"
	mysqlCollation   = "utf8mb4_unicode_ci"
	mysqlSQLMode     = "'STRICT_TRANS_TABLES,NO_ZERO_IN_DATE,NO_ZERO_DATE,ERROR_FOR_DIVISION_BY_ZERO,NO_ENGINE_SUBSTITUTION'"
)

// MySQLDialect implements Dialect for MySQL and MariaDB.
type MySQLDialect struct{}

func (d *MySQLDialect) Name() string                      { return "mysql" }
func (d *MySQLDialect) DriverName() string                { return "mysql" }
func (d *MySQLDialect) Placeholder() sq.PlaceholderFormat { return sq.Question }
func (d *MySQLDialect) ReturningInsert() bool             { return false }

func (d *MySQLDialect) BuildDSN(cfg Config) (string, error) {
	mc, err := d.driverConfig(cfg)
	if err != nil {
		return "", err
	}
	name, err := identifier(cfg.Database)
	if err != nil {
		return "", err
	}
	mc.DBName = name
	return mc.FormatDSN(), nil
}

// schema is the database name Prepare creates and BuildDSN selects.
func (d *MySQLDialect) schema(cfg Config) string {
	return SanitizeIdentifier(cfg.Database)
}

// driverConfig builds a server level configuration with no database
// selected. Every pooled connection gets the same collation and a strict
// sql_mode.
func (d *MySQLDialect) driverConfig(cfg Config) (*mysql.Config, error) {
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
		return nil, fmt.Errorf("missing required mysql settings: %v", missing)
	}

	port := cfg.Port
	if port == 0 {
		port = mysqlDefaultPort
	}

	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	mc.Collation = mysqlCollation
	mc.Params = map[string]string{"sql_mode": mysqlSQLMode}
	return mc, nil
}

// Prepare connects without selecting a database and creates the configured
// one if it is missing.
func (d *MySQLDialect) Prepare(ctx context.Context, cfg Config) error {
	mc, err := d.driverConfig(cfg)
	if err != nil {
		return err
	}
	name, err := identifier(cfg.Database)
	if err != nil {
		return err
	}

	server, err := sql.Open(d.DriverName(), mc.FormatDSN())
	if err != nil {
		return fmt.Errorf("failed to open server connection: %w", err)
	}
	defer server.Close()

	if err := server.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}

	stmt := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s CHARACTER SET %s COLLATE %s",
		d.QuoteIdent(name), mysqlCharset, mysqlCollation)
	if _, err := server.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create database %s: %w", name, err)
	}
	return nil
}

func (d *MySQLDialect) Configure(db *sql.DB, cfg Config) {
	db.SetMaxIdleConns(MaxConnectionsIdle)
	db.SetMaxOpenConns(MaxConnectionsOpen)
	db.SetConnMaxLifetime(time.Hour)
}

// QuoteIdent wraps name in backticks, doubling any embedded ones.
func (d *MySQLDialect) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// EncodeValue maps booleans to 0/1; MySQL has no native boolean column.
func (d *MySQLDialect) EncodeValue(v any) any {
	return boolToInt(v)
}

func (d *MySQLDialect) ListTablesQuery(cfg Config) (string, []any) {
	return `SELECT table_name FROM information_schema.tables WHERE table_schema = ? ORDER BY table_name`,
		[]any{d.schema(cfg)}
}

func (d *MySQLDialect) TableExistsQuery(cfg Config, table string) (string, []any) {
	return `SELECT table_name FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`,
		[]any{d.schema(cfg), table}
}

func (d *MySQLDialect) ReadSchemaQuery(cfg Config, table string) (string, []any) {
	return `SELECT column_name, column_type, is_nullable, column_key, column_default, extra
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, []any{d.schema(cfg), table}
}

func (d *MySQLDialect) ScanSchemaRow(rows *sql.Rows) (Column, error) {
	var colName, colType, isNullable, colKey string
	var colDefault, extra sql.NullString

	if err := rows.Scan(&colName, &colType, &isNullable, &colKey, &colDefault, &extra); err != nil {
		return Column{}, err
	}

	return Column{
		Name:     colName,
		Type:     colType,
		Nullable: strings.EqualFold(isNullable, "YES"),
		Key:      colKey,
		Default:  nullString(colDefault),
		Extra:    extra.String,
	}, nil
}
