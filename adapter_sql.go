package dbal

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

// Connection pool defaults for server databases.
const (
	MaxConnectionsIdle = 5
	MaxConnectionsOpen = 10
)

// SQLAdapter implements Database on top of database/sql. Statements are
// built with squirrel and everything that differs between databases lives in
// the Dialect.
type SQLAdapter struct {
	dialect Dialect
	cfg     Config
	log     Logger
	builder sq.StatementBuilderType

	db *sqlx.DB

	mu        sync.Mutex
	lastID    any
	hasLastID bool
}

var _ Database = (*SQLAdapter)(nil)
var _ TableLister = (*SQLAdapter)(nil)

// NewSQLAdapter returns an unconnected adapter for the given dialect.
func NewSQLAdapter(dialect Dialect, cfg Config, opts ...Option) *SQLAdapter {
	s := newSettings(opts)
	return &SQLAdapter{
		dialect: dialect,
		cfg:     cfg,
		log:     s.logger,
		builder: sq.StatementBuilder.PlaceholderFormat(dialect.Placeholder()),
	}
}

// NewMySQLAdapter returns an unconnected MySQL adapter.
func NewMySQLAdapter(cfg Config, opts ...Option) *SQLAdapter {
	return NewSQLAdapter(&MySQLDialect{}, cfg, opts...)
}

// NewPostgresAdapter returns an unconnected PostgreSQL adapter.
func NewPostgresAdapter(cfg Config, opts ...Option) *SQLAdapter {
	return NewSQLAdapter(&PostgresDialect{}, cfg, opts...)
}

// NewSQLiteAdapter returns an unconnected SQLite adapter.
func NewSQLiteAdapter(cfg Config, opts ...Option) *SQLAdapter {
	return NewSQLAdapter(&SQLiteDialect{}, cfg, opts...)
}

func (a *SQLAdapter) Type() string { return a.dialect.Name() }

func (a *SQLAdapter) target() string {
	if a.cfg.Host == "" {
		return a.cfg.Database
	}
	return net.JoinHostPort(a.cfg.Host, strconv.Itoa(a.cfg.Port))
}

func (a *SQLAdapter) connectionError(err error) error {
	return &ConnectionError{Backend: a.dialect.Name(), Target: a.target(), Cause: err}
}

func (a *SQLAdapter) Connect(ctx context.Context) error {
	if a.db != nil {
		return nil
	}

	if err := a.dialect.Prepare(ctx, a.cfg); err != nil {
		return a.connectionError(err)
	}

	dsn, err := a.dialect.BuildDSN(a.cfg)
	if err != nil {
		return a.connectionError(err)
	}

	db, err := sqlx.Open(a.dialect.DriverName(), dsn)
	if err != nil {
		return a.connectionError(fmt.Errorf("failed to open database: %w", err))
	}
	a.dialect.Configure(db.DB, a.cfg)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return a.connectionError(err)
	}

	a.db = db
	a.log.Infow("database connected", "backend", a.dialect.Name(), "database", a.cfg.Database)
	return nil
}

func (a *SQLAdapter) Disconnect() error {
	if a.db == nil {
		return nil
	}
	if err := a.db.Close(); err != nil {
		a.log.Warnw("error closing database", "backend", a.dialect.Name(), "error", err)
	}
	a.db = nil
	return nil
}

func (a *SQLAdapter) Select(ctx context.Context, table string, where Where, opts Options) ([]Row, error) {
	query, args, err := a.buildSelect(table, where, opts)
	if err != nil {
		return nil, err
	}
	return a.queryRows(ctx, "select", table, query, args)
}

func (a *SQLAdapter) buildSelect(table string, where Where, opts Options) (string, []any, error) {
	t, err := identifier(table)
	if err != nil {
		return "", nil, err
	}
	pred, err := a.predicate(where)
	if err != nil {
		return "", nil, err
	}

	b := a.builder.Select("*").From(a.dialect.QuoteIdent(t))
	if pred != nil {
		b = b.Where(pred)
	}
	for _, term := range ParseOrder(opts.Order) {
		dir := "ASC"
		if term.Desc {
			dir = "DESC"
		}
		b = b.OrderBy(a.dialect.QuoteIdent(term.Column) + " " + dir)
	}
	if opts.Limit > 0 {
		b = b.Limit(uint64(opts.Limit))
		if opts.Offset > 0 {
			b = b.Offset(uint64(opts.Offset))
		}
	}
	return b.ToSql()
}

// predicate turns where into an AND of equality and IN clauses with every
// value bound. squirrel renders the keys in sorted order.
func (a *SQLAdapter) predicate(where Where) (sq.Sqlizer, error) {
	if len(where) == 0 {
		return nil, nil
	}

	cols, err := fields(where)
	if err != nil {
		return nil, err
	}

	eq := sq.Eq{}
	for _, f := range cols {
		key := a.dialect.QuoteIdent(f.name)
		v := where[f.key]

		if list, ok := listValues(v); ok {
			encoded := make([]any, len(list))
			for i, item := range list {
				encoded[i] = a.dialect.EncodeValue(item)
			}
			eq[key] = encoded
			continue
		}
		eq[key] = a.dialect.EncodeValue(v)
	}
	return eq, nil
}

// assignments sanitizes and quotes the columns of data and encodes its values.
func (a *SQLAdapter) assignments(data Row) ([]string, []any, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("no columns to write")
	}
	fs, err := fields(data)
	if err != nil {
		return nil, nil, err
	}
	cols := make([]string, 0, len(fs))
	vals := make([]any, 0, len(fs))
	for _, f := range fs {
		cols = append(cols, a.dialect.QuoteIdent(f.name))
		vals = append(vals, a.dialect.EncodeValue(data[f.key]))
	}
	return cols, vals, nil
}

func (a *SQLAdapter) Insert(ctx context.Context, table string, data Row) (InsertResult, error) {
	t, err := identifier(table)
	if err != nil {
		return InsertResult{}, err
	}
	cols, vals, err := a.assignments(data)
	if err != nil {
		return InsertResult{}, fmt.Errorf("insert into %s: %w", t, err)
	}

	ib := a.builder.Insert(a.dialect.QuoteIdent(t)).Columns(cols...).Values(vals...)

	if a.dialect.ReturningInsert() {
		query, args, err := ib.Suffix("RETURNING *").ToSql()
		if err != nil {
			return InsertResult{}, err
		}
		rows, err := a.queryRows(ctx, "insert", t, query, args)
		if err != nil {
			return InsertResult{}, err
		}
		if len(rows) > 0 {
			if id, ok := rows[0]["id"]; ok && id != nil {
				a.setLastID(id)
				return InsertResult{ID: id, HasID: true}, nil
			}
		}
		return InsertResult{}, nil
	}

	query, args, err := ib.ToSql()
	if err != nil {
		return InsertResult{}, err
	}
	res, err := a.exec(ctx, "insert", t, query, args)
	if err != nil {
		return InsertResult{}, err
	}

	// A key supplied in data was not generated. SQLite would otherwise report
	// the hidden rowid. A zero id means there is no auto increment column.
	if carriesID(data) {
		return InsertResult{}, nil
	}
	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		return InsertResult{}, nil
	}
	a.setLastID(id)
	return InsertResult{ID: id, HasID: true}, nil
}

func carriesID(data Row) bool {
	for k := range data {
		if strings.EqualFold(SanitizeIdentifier(k), "id") {
			return true
		}
	}
	return false
}

func (a *SQLAdapter) Update(ctx context.Context, table string, data Row, where Where) (int64, error) {
	t, err := identifier(table)
	if err != nil {
		return 0, err
	}
	if len(where) == 0 {
		return 0, fmt.Errorf("update %s: %w", t, ErrEmptyWhere)
	}
	cols, vals, err := a.assignments(data)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", t, err)
	}
	pred, err := a.predicate(where)
	if err != nil {
		return 0, err
	}

	ub := a.builder.Update(a.dialect.QuoteIdent(t))
	for i, c := range cols {
		ub = ub.Set(c, vals[i])
	}
	query, args, err := ub.Where(pred).ToSql()
	if err != nil {
		return 0, err
	}

	res, err := a.exec(ctx, "update", t, query, args)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (a *SQLAdapter) Delete(ctx context.Context, table string, where Where) (int64, error) {
	t, err := identifier(table)
	if err != nil {
		return 0, err
	}
	if len(where) == 0 {
		return 0, fmt.Errorf("delete from %s: %w", t, ErrEmptyWhere)
	}
	pred, err := a.predicate(where)
	if err != nil {
		return 0, err
	}

	query, args, err := a.builder.Delete(a.dialect.QuoteIdent(t)).Where(pred).ToSql()
	if err != nil {
		return 0, err
	}

	res, err := a.exec(ctx, "delete", t, query, args)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (a *SQLAdapter) Query(ctx context.Context, query string, params ...any) ([]Row, error) {
	if a.db == nil {
		return nil, ErrNotConnected
	}
	return a.queryRows(ctx, "query", "", a.db.Rebind(query), a.encodeAll(params))
}

func (a *SQLAdapter) Execute(ctx context.Context, query string, params ...any) (Result, error) {
	if a.db == nil {
		return Result{}, ErrNotConnected
	}
	res, err := a.exec(ctx, "execute", "", a.db.Rebind(query), a.encodeAll(params))
	if err != nil {
		return Result{}, err
	}

	var out Result
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		out.LastInsertID = id
		a.setLastID(id)
	}
	return out, nil
}

func (a *SQLAdapter) encodeAll(params []any) []any {
	out := make([]any, len(params))
	for i, p := range params {
		out[i] = a.dialect.EncodeValue(p)
	}
	return out
}

func (a *SQLAdapter) LastID() (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastID, a.hasLastID
}

func (a *SQLAdapter) setLastID(id any) {
	a.mu.Lock()
	a.lastID, a.hasLastID = id, true
	a.mu.Unlock()
}

// TableExists consults the catalog, so a missing table is a normal false.
func (a *SQLAdapter) TableExists(ctx context.Context, table string) (bool, error) {
	t, err := identifier(table)
	if err != nil {
		return false, nil
	}
	query, args := a.dialect.TableExistsQuery(a.cfg, t)
	rows, err := a.queryRows(ctx, "table_exists", t, query, args)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (a *SQLAdapter) Columns(ctx context.Context, table string) ([]Column, error) {
	if a.db == nil {
		return nil, ErrNotConnected
	}
	t, err := identifier(table)
	if err != nil {
		return nil, err
	}

	query, args := a.dialect.ReadSchemaQuery(a.cfg, t)
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, a.statementError("columns", err)
	}
	defer rows.Close()

	columns := make([]Column, 0)
	for rows.Next() {
		col, err := a.dialect.ScanSchemaRow(rows)
		if err != nil {
			return nil, a.statementError("columns", err)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, a.statementError("columns", err)
	}
	return columns, nil
}

func (a *SQLAdapter) Tables(ctx context.Context) ([]string, error) {
	if a.db == nil {
		return nil, ErrNotConnected
	}

	query, args := a.dialect.ListTablesQuery(a.cfg)
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, a.statementError("tables", err)
	}
	defer rows.Close()

	tables := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, a.statementError("tables", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, a.statementError("tables", err)
	}
	return tables, nil
}

func (a *SQLAdapter) statementError(op string, err error) error {
	return &StatementError{Backend: a.dialect.Name(), Operation: op, Cause: err}
}

// queryRows runs a statement that returns rows and scans each into a Row,
// converting []byte values to strings.
func (a *SQLAdapter) queryRows(ctx context.Context, op, table, query string, args []any) ([]Row, error) {
	if a.db == nil {
		return nil, ErrNotConnected
	}

	a.log.Debugw("query started", "backend", a.dialect.Name(), "operation", op, "table", table, "sql", query)
	start := time.Now()

	rows, err := a.db.QueryxContext(ctx, query, args...)
	if err != nil {
		a.log.Errorw("query failed", "backend", a.dialect.Name(), "operation", op, "table", table,
			"duration_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, a.statementError(op, err)
	}
	defer rows.Close()

	out := make([]Row, 0)
	for rows.Next() {
		m := make(map[string]any)
		if err := rows.MapScan(m); err != nil {
			return nil, a.statementError(op, fmt.Errorf("failed to scan row %d: %w", len(out)+1, err))
		}
		for k, v := range m {
			if b, ok := v.([]byte); ok {
				m[k] = string(b)
			}
		}
		out = append(out, Row(m))
	}
	if err := rows.Err(); err != nil {
		return nil, a.statementError(op, err)
	}

	a.log.Debugw("query completed", "backend", a.dialect.Name(), "operation", op, "table", table,
		"duration_ms", time.Since(start).Milliseconds(), "rows", len(out))
	return out, nil
}

func (a *SQLAdapter) exec(ctx context.Context, op, table, query string, args []any) (sql.Result, error) {
	if a.db == nil {
		return nil, ErrNotConnected
	}

	a.log.Debugw("exec started", "backend", a.dialect.Name(), "operation", op, "table", table, "sql", query)
	start := time.Now()

	res, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		a.log.Errorw("exec failed", "backend", a.dialect.Name(), "operation", op, "table", table,
			"duration_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, a.statementError(op, err)
	}

	a.log.Debugw("exec completed", "backend", a.dialect.Name(), "operation", op, "table", table,
		"duration_ms", time.Since(start).Milliseconds())
	return res, nil
}
