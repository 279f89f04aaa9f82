package dbal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	supabaseRESTPath = "/rest/v1"

	// Remote procedures that must exist on the server for raw SQL.
	rpcExecQuery = "exec_query"
	rpcExecSQL   = "exec_sql"

	// PostgREST error code for an unknown function.
	codeFunctionNotFound = "PGRST202"

	preferRepresentation = "return=representation"
)

// SupabaseAdapter implements Database over a PostgREST API. Raw SQL goes
// through the exec_query (reads) and exec_sql (everything else) remote
// procedures, which must be provisioned on the server.
type SupabaseAdapter struct {
	cfg       Config
	log       Logger
	client    *resty.Client
	composite map[string]struct{}

	mu        sync.Mutex
	connected bool
	lastID    any
	hasLastID bool
}

var _ Database = (*SupabaseAdapter)(nil)
var _ TableLister = (*SupabaseAdapter)(nil)

// restError is the error body PostgREST returns.
type restError struct {
	Message string `json:"message"`
	Hint    string `json:"hint"`
	Details string `json:"details"`
	Code    string `json:"code"`
}

// NewSupabaseAdapter returns an unconnected adapter for the project at
// cfg.URL authenticated with cfg.Key.
func NewSupabaseAdapter(cfg Config, opts ...Option) *SupabaseAdapter {
	s := newSettings(opts)

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/") + supabaseRESTPath).
		SetHeaders(map[string]string{
			"apikey":        cfg.Key,
			"Authorization": "Bearer " + cfg.Key,
			"Content-Type":  "application/json",
			"Accept":        "application/json",
		})

	composite := make(map[string]struct{}, len(cfg.CompositeKeyTables))
	for _, t := range cfg.CompositeKeyTables {
		composite[SanitizeIdentifier(t)] = struct{}{}
	}

	return &SupabaseAdapter{
		cfg:       cfg,
		log:       s.logger,
		client:    client,
		composite: composite,
	}
}

func (a *SupabaseAdapter) Type() string { return "supabase" }

// Connect probes the API root with the configured key.
func (a *SupabaseAdapter) Connect(ctx context.Context) error {
	if a.cfg.URL == "" || a.cfg.Key == "" {
		return &ConnectionError{Backend: a.Type(), Target: a.cfg.URL, Cause: errors.New("url and key are required")}
	}

	resp, err := a.client.R().SetContext(ctx).Get("/")
	if err != nil {
		return &ConnectionError{Backend: a.Type(), Target: a.cfg.URL, Cause: err}
	}
	if !resp.IsSuccess() {
		return &ConnectionError{
			Backend: a.Type(),
			Target:  a.cfg.URL,
			Cause:   fmt.Errorf("probe returned HTTP %d: %s", resp.StatusCode(), errorMessage(resp.StatusCode(), resp.Body())),
		}
	}

	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()

	a.log.Infow("database connected", "backend", a.Type(), "url", a.cfg.URL)
	return nil
}

// Disconnect only forgets the connected state; HTTP is stateless.
func (a *SupabaseAdapter) Disconnect() error {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	return nil
}

func (a *SupabaseAdapter) ready() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return ErrNotConnected
	}
	return nil
}

func (a *SupabaseAdapter) Select(ctx context.Context, table string, where Where, opts Options) ([]Row, error) {
	t, err := identifier(table)
	if err != nil {
		return nil, err
	}
	q, err := restFilters(where)
	if err != nil {
		return nil, err
	}
	if order := restOrder(opts.Order); order != "" {
		q.Set(paramOrder, order)
	}
	if opts.Limit > 0 {
		q.Set(paramLimit, strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set(paramOffset, strconv.Itoa(opts.Offset))
	}

	body, err := a.do(ctx, "select", t, http.MethodGet, "/"+t, q, nil, "")
	if err != nil {
		return nil, err
	}
	return decodeRows(body)
}

func (a *SupabaseAdapter) payload(data Row) (map[string]any, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("no columns to write")
	}
	cols, err := fields(data)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(cols))
	for _, f := range cols {
		out[f.name] = restRowValue(data[f.key])
	}
	return out, nil
}

// Insert returns the created row's id. Tables listed in
// Config.CompositeKeyTables have no id column; a non-empty response is their
// success signal.
func (a *SupabaseAdapter) Insert(ctx context.Context, table string, data Row) (InsertResult, error) {
	t, err := identifier(table)
	if err != nil {
		return InsertResult{}, err
	}
	body, err := a.payload(data)
	if err != nil {
		return InsertResult{}, fmt.Errorf("insert into %s: %w", t, err)
	}

	resp, err := a.do(ctx, "insert", t, http.MethodPost, "/"+t, nil, body, preferRepresentation)
	if err != nil {
		return InsertResult{}, err
	}
	rows, err := decodeRows(resp)
	if err != nil {
		return InsertResult{}, err
	}

	if len(rows) > 0 {
		if id, ok := rows[0]["id"]; ok && id != nil {
			id = normalizeID(id)
			a.setLastID(id)
			return InsertResult{ID: id, HasID: true}, nil
		}
		if _, ok := a.composite[t]; ok {
			return InsertResult{}, nil
		}
	}
	return InsertResult{}, fmt.Errorf("insert into %s: %w", t, ErrNoGeneratedID)
}

func (a *SupabaseAdapter) Update(ctx context.Context, table string, data Row, where Where) (int64, error) {
	t, err := identifier(table)
	if err != nil {
		return 0, err
	}
	if len(where) == 0 {
		return 0, fmt.Errorf("update %s: %w", t, ErrEmptyWhere)
	}
	body, err := a.payload(data)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", t, err)
	}
	q, err := restFilters(where)
	if err != nil {
		return 0, err
	}

	resp, err := a.do(ctx, "update", t, http.MethodPatch, "/"+t, q, body, preferRepresentation)
	if err != nil {
		return 0, err
	}
	rows, err := decodeRows(resp)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (a *SupabaseAdapter) Delete(ctx context.Context, table string, where Where) (int64, error) {
	t, err := identifier(table)
	if err != nil {
		return 0, err
	}
	if len(where) == 0 {
		return 0, fmt.Errorf("delete from %s: %w", t, ErrEmptyWhere)
	}
	q, err := restFilters(where)
	if err != nil {
		return 0, err
	}

	resp, err := a.do(ctx, "delete", t, http.MethodDelete, "/"+t, q, nil, preferRepresentation)
	if err != nil {
		return 0, err
	}
	rows, err := decodeRows(resp)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// Query inlines params and sends SELECT statements to exec_query; any other
// statement goes to exec_sql and yields no rows.
func (a *SupabaseAdapter) Query(ctx context.Context, query string, params ...any) ([]Row, error) {
	stmt, err := inlineParams(query, params)
	if err != nil {
		return nil, err
	}

	if !isReadStatement(stmt) {
		if _, err := a.rpc(ctx, rpcExecSQL, stmt); err != nil {
			return nil, err
		}
		return []Row{}, nil
	}

	body, err := a.rpc(ctx, rpcExecQuery, stmt)
	if err != nil {
		return nil, err
	}
	return decodeRows(body)
}

// Execute routes like Query. For exec_sql a numeric response is taken as the
// affected row count.
func (a *SupabaseAdapter) Execute(ctx context.Context, query string, params ...any) (Result, error) {
	stmt, err := inlineParams(query, params)
	if err != nil {
		return Result{}, err
	}

	if isReadStatement(stmt) {
		body, err := a.rpc(ctx, rpcExecQuery, stmt)
		if err != nil {
			return Result{}, err
		}
		rows, err := decodeRows(body)
		if err != nil {
			return Result{}, err
		}
		return Result{RowsAffected: int64(len(rows))}, nil
	}

	body, err := a.rpc(ctx, rpcExecSQL, stmt)
	if err != nil {
		return Result{}, err
	}
	var n int64
	if json.Unmarshal(bytes.TrimSpace(body), &n) == nil {
		return Result{RowsAffected: n}, nil
	}
	return Result{}, nil
}

func (a *SupabaseAdapter) rpc(ctx context.Context, procedure, stmt string) ([]byte, error) {
	body, err := a.do(ctx, procedure, "", http.MethodPost, "/rpc/"+procedure, nil, map[string]string{"query": stmt}, "")
	if err == nil {
		return body, nil
	}

	var se *StatementError
	if errors.As(err, &se) && missingProcedure(se, procedure) {
		return nil, &MissingProcedureError{Procedure: procedure, Cause: err}
	}
	return nil, err
}

// missingProcedure tells an unknown function apart from SQL errors raised
// inside it, which PostgREST may also answer with HTTP 404.
func missingProcedure(se *StatementError, procedure string) bool {
	if se.Code == codeFunctionNotFound {
		return true
	}
	return se.Status == http.StatusNotFound && se.Code == "" && strings.Contains(se.Message, procedure)
}

func (a *SupabaseAdapter) LastID() (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastID, a.hasLastID
}

func (a *SupabaseAdapter) setLastID(id any) {
	a.mu.Lock()
	a.lastID, a.hasLastID = id, true
	a.mu.Unlock()
}

// TableExists asks for at most one row. Any failure, including PostgREST's
// schema cache miss, means the table does not exist.
func (a *SupabaseAdapter) TableExists(ctx context.Context, table string) (bool, error) {
	t, err := identifier(table)
	if err != nil {
		return false, nil
	}
	q := url.Values{paramLimit: {"1"}}
	if _, err := a.do(ctx, "table_exists", t, http.MethodGet, "/"+t, q, nil, ""); err != nil {
		a.log.Debugw("table probe failed", "backend", a.Type(), "table", t, "error", err)
		return false, nil
	}
	return true, nil
}

func (a *SupabaseAdapter) Columns(ctx context.Context, table string) ([]Column, error) {
	t, err := identifier(table)
	if err != nil {
		return nil, err
	}
	rows, err := a.Query(ctx, `SELECT column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = ?
		ORDER BY ordinal_position`, t)
	if err != nil {
		return nil, err
	}

	columns := make([]Column, 0, len(rows))
	for _, r := range rows {
		col := Column{
			Name:     fmt.Sprint(r["column_name"]),
			Type:     fmt.Sprint(r["data_type"]),
			Nullable: strings.EqualFold(fmt.Sprint(r["is_nullable"]), "YES"),
		}
		if d, ok := r["column_default"]; ok && d != nil {
			s := fmt.Sprint(d)
			col.Default = &s
		}
		columns = append(columns, col)
	}
	return columns, nil
}

func (a *SupabaseAdapter) Tables(ctx context.Context) ([]string, error) {
	rows, err := a.Query(ctx, `SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' ORDER BY table_name`)
	if err != nil {
		return nil, err
	}
	tables := make([]string, 0, len(rows))
	for _, r := range rows {
		tables = append(tables, fmt.Sprint(r["table_name"]))
	}
	return tables, nil
}

// do sends one request and classifies non-2xx responses.
func (a *SupabaseAdapter) do(ctx context.Context, op, table, method, path string, query url.Values, body any, prefer string) ([]byte, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}

	req := a.client.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	if body != nil {
		req.SetBody(body)
	}
	if prefer != "" {
		req.SetHeader("Prefer", prefer)
	}

	a.log.Debugw("request started", "backend", a.Type(), "operation", op, "table", table, "method", method, "path", path)
	start := time.Now()

	resp, err := req.Execute(method, path)
	if err != nil {
		a.log.Errorw("request failed", "backend", a.Type(), "operation", op, "table", table, "error", err)
		return nil, &StatementError{Backend: a.Type(), Operation: op, Cause: err}
	}

	a.log.Debugw("request completed", "backend", a.Type(), "operation", op, "table", table,
		"status", resp.StatusCode(), "duration_ms", time.Since(start).Milliseconds())

	if !resp.IsSuccess() {
		return nil, a.classify(op, table, resp.StatusCode(), resp.Body())
	}
	return resp.Body(), nil
}

// classify turns an error response into a *PolicyError for row-level
// security blocks (HTTP 403 or a body mentioning a policy) and a
// *StatementError otherwise.
func (a *SupabaseAdapter) classify(op, table string, status int, body []byte) error {
	var re restError
	_ = json.Unmarshal(body, &re)
	msg := errorMessage(status, body)

	if status == http.StatusForbidden || strings.Contains(strings.ToLower(string(body)), "policy") {
		return &PolicyError{Table: table, Operation: op, Message: msg}
	}
	return &StatementError{
		Backend:   a.Type(),
		Operation: op,
		Status:    status,
		Code:      re.Code,
		Message:   msg,
		Hint:      re.Hint,
		Details:   re.Details,
	}
}

func errorMessage(status int, body []byte) string {
	var re restError
	if json.Unmarshal(body, &re) == nil && re.Message != "" {
		return re.Message
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return http.StatusText(status)
}

// decodeRows decodes a JSON array of objects, a single object or null.
// Numbers are kept as json.Number.
func decodeRows(body []byte) ([]Row, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return []Row{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	if body[0] == '{' {
		var row Row
		if err := dec.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return []Row{row}, nil
	}

	rows := make([]Row, 0)
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return rows, nil
}

// normalizeID turns a JSON number id into an int64 when it fits.
func normalizeID(id any) any {
	if n, ok := id.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i
		}
		return n.String()
	}
	return id
}
