package dbal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "service-role-key"

type recordedRequest struct {
	Method string
	Path   string
	Query  map[string][]string
	Header http.Header
	Body   []byte
}

// fakePostgREST answers the connectivity probe and hands every other
// request to handler, recording it first.
type fakePostgREST struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  http.HandlerFunc
	probes   int
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))

	f.mu.Lock()
	if r.URL.Path == "/rest/v1/" {
		f.probes++
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"swagger":"2.0"}`))
		return
	}
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   body,
	})
	f.mu.Unlock()

	f.handler(w, r)
}

func (f *fakePostgREST) last(t *testing.T) recordedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func (f *fakePostgREST) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func newTestSupabase(t *testing.T, handler http.HandlerFunc, cfg Config) (*SupabaseAdapter, *fakePostgREST) {
	t.Helper()
	fake := &fakePostgREST{handler: handler}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg.URL = srv.URL + "/"
	cfg.Key = testKey
	a := NewSupabaseAdapter(cfg)
	require.NoError(t, a.Connect(context.Background()))
	return a, fake
}

func TestSupabaseAdapter_ConnectSendsCredentials(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		assert.Equal(t, "/rest/v1/", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewSupabaseAdapter(Config{URL: srv.URL, Key: testKey})
	require.NoError(t, a.Connect(context.Background()))

	assert.Equal(t, testKey, got.Get("apikey"))
	assert.Equal(t, "Bearer "+testKey, got.Get("Authorization"))
}

func TestSupabaseAdapter_ConnectFailures(t *testing.T) {
	err := NewSupabaseAdapter(Config{URL: "https://example.supabase.co"}).Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnectionFailed)

	srv := httptest.NewServer(respond(http.StatusUnauthorized, `{"message":"Invalid API key"}`))
	defer srv.Close()

	err = NewSupabaseAdapter(Config{URL: srv.URL, Key: "wrong"}).Connect(context.Background())
	require.ErrorIs(t, err, ErrConnectionFailed)
	assert.Contains(t, err.Error(), "Invalid API key")
}

func TestSupabaseAdapter_NotConnected(t *testing.T) {
	a := NewSupabaseAdapter(Config{URL: "http://127.0.0.1:1", Key: testKey})
	_, err := a.Select(context.Background(), "tbl_times", nil, Options{})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSupabaseAdapter_SelectWithInFilter(t *testing.T) {
	a, fake := newTestSupabase(t, respond(http.StatusOK,
		`[{"id":1,"categoria_id":"1"},{"id":2,"categoria_id":"3"}]`), Config{})

	rows, err := a.Select(context.Background(), "tbl_artigos",
		Where{"categoria_id": []string{"1", "2", "3"}}, Options{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, json.Number("1"), rows[0]["id"])
	assert.Equal(t, "3", rows[1]["categoria_id"])

	req := fake.last(t)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/rest/v1/tbl_artigos", req.Path)
	assert.Equal(t, []string{`in.("1","2","3")`}, req.Query["categoria_id"])
	assert.Equal(t, testKey, req.Header.Get("apikey"))
	assert.Equal(t, "Bearer "+testKey, req.Header.Get("Authorization"))
}

func TestSupabaseAdapter_SelectBooleanOrderLimit(t *testing.T) {
	a, fake := newTestSupabase(t, respond(http.StatusOK, `[]`), Config{})

	rows, err := a.Select(context.Background(), "tbl_palpites",
		Where{"ativo": true, "excluido": false},
		Options{Order: "p.created_at DESC, name ASC", Limit: 20, Offset: 40})
	require.NoError(t, err)
	assert.Empty(t, rows)

	req := fake.last(t)
	assert.Equal(t, "eq.true", req.Query["ativo"][0])
	assert.Equal(t, "eq.false", req.Query["excluido"][0])
	assert.Equal(t, "created_at.desc,name.asc", req.Query["order"][0])
	assert.Equal(t, "20", req.Query["limit"][0])
	assert.Equal(t, "40", req.Query["offset"][0])
}

func TestSupabaseAdapter_InsertReturnsID(t *testing.T) {
	a, fake := newTestSupabase(t, respond(http.StatusCreated,
		`[{"id":17,"nome":"Flamengo","sigla":"FLA","ativo":true}]`), Config{})

	res, err := a.Insert(context.Background(), "tbl_times", Row{"nome": "Flamengo", "sigla": "FLA", "ativo": true})
	require.NoError(t, err)
	assert.True(t, res.HasID)
	assert.Equal(t, int64(17), res.ID)

	last, ok := a.LastID()
	require.True(t, ok)
	assert.Equal(t, int64(17), last)

	req := fake.last(t)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/rest/v1/tbl_times", req.Path)
	assert.Equal(t, "return=representation", req.Header.Get("Prefer"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, "Flamengo", body["nome"])
	assert.Equal(t, "true", body["ativo"])
}

func TestSupabaseAdapter_InsertUUIDKey(t *testing.T) {
	a, _ := newTestSupabase(t, respond(http.StatusCreated,
		`[{"id":"8f14e45f-ceea-467f-a0e6-1a2b3c4d5e6f"}]`), Config{})

	res, err := a.Insert(context.Background(), "tbl_sessoes", Row{"id": "8f14e45f-ceea-467f-a0e6-1a2b3c4d5e6f"})
	require.NoError(t, err)
	assert.True(t, res.HasID)
	assert.Equal(t, "8f14e45f-ceea-467f-a0e6-1a2b3c4d5e6f", res.ID)
}

func TestSupabaseAdapter_InsertCompositeKeyTable(t *testing.T) {
	handler := respond(http.StatusCreated, `[{"jogo_id":3,"usuario_id":9,"placar":"2x1"}]`)
	a, _ := newTestSupabase(t, handler, Config{CompositeKeyTables: []string{"tbl_palpites_jogos"}})

	res, err := a.Insert(context.Background(), "tbl_palpites_jogos", Row{"jogo_id": 3, "usuario_id": 9, "placar": "2x1"})
	require.NoError(t, err)
	assert.False(t, res.HasID)

	_, err = a.Insert(context.Background(), "tbl_outra", Row{"jogo_id": 3})
	assert.ErrorIs(t, err, ErrNoGeneratedID)
}

func TestSupabaseAdapter_UpdateDelete(t *testing.T) {
	a, fake := newTestSupabase(t, respond(http.StatusOK, `[{"id":1},{"id":2}]`), Config{})
	ctx := context.Background()

	n, err := a.Update(ctx, "tbl_times", Row{"ativo": false}, Where{"sigla": []string{"FLA", "VAS"}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	req := fake.last(t)
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Equal(t, `in.("FLA","VAS")`, req.Query["sigla"][0])
	assert.JSONEq(t, `{"ativo":"false"}`, string(req.Body))

	n, err = a.Delete(ctx, "tbl_times", Where{"id": 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	req = fake.last(t)
	assert.Equal(t, http.MethodDelete, req.Method)
	assert.Equal(t, "eq.1", req.Query["id"][0])
	assert.Equal(t, "return=representation", req.Header.Get("Prefer"))

	before := fake.count()
	_, err = a.Update(ctx, "tbl_times", Row{"ativo": false}, nil)
	assert.ErrorIs(t, err, ErrEmptyWhere)
	_, err = a.Delete(ctx, "tbl_times", Where{})
	assert.ErrorIs(t, err, ErrEmptyWhere)
	assert.Equal(t, before, fake.count(), "empty where must not reach the server")
}

func TestSupabaseAdapter_RowLevelSecurity(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"forbidden", http.StatusForbidden, `{"message":"permission denied for table tbl_times","code":"42501"}`},
		{"policy message", http.StatusUnauthorized, `{"message":"new row violates row-level security policy for table \"tbl_times\"","code":"42501"}`},
		{"policy hint", http.StatusBadRequest, `{"message":"permission denied","hint":"Check the insert policy on tbl_times","code":"42501"}`},
		{"policy details", http.StatusUnauthorized, `{"message":"new row rejected","details":"Failing row violates policy \"times_insert\"","code":"42501"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a, _ := newTestSupabase(t, respond(tc.status, tc.body), Config{})

			_, err := a.Insert(context.Background(), "tbl_times", Row{"nome": "x"})
			require.ErrorIs(t, err, ErrRowLevelSecurity)

			var pe *PolicyError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, "tbl_times", pe.Table)
			assert.Equal(t, "insert", pe.Operation)
			assert.Contains(t, err.Error(), "check your access policies")
		})
	}
}

func TestSupabaseAdapter_StatementError(t *testing.T) {
	a, _ := newTestSupabase(t, respond(http.StatusBadRequest,
		`{"message":"column tbl_times.cor does not exist","hint":"Perhaps you meant to reference the column \"tbl_times.nome\".","code":"42703"}`), Config{})

	_, err := a.Select(context.Background(), "tbl_times", Where{"cor": "azul"}, Options{})
	require.Error(t, err)

	var se *StatementError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Status)
	assert.Equal(t, "42703", se.Code)
	assert.Equal(t, "column tbl_times.cor does not exist", se.Message)
	assert.Contains(t, se.Hint, "tbl_times.nome")
	assert.False(t, errors.Is(err, ErrRowLevelSecurity))
}

func TestSupabaseAdapter_RawQueryDispatch(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/rest/v1/rpc/exec_query":
			_, _ = w.Write([]byte(`[{"total":3}]`))
		case "/rest/v1/rpc/exec_sql":
			_, _ = w.Write([]byte(`null`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
	a, fake := newTestSupabase(t, handler, Config{})
	ctx := context.Background()

	rows, err := a.Query(ctx, "SELECT COUNT(*) AS total FROM tbl_times WHERE sigla = ? AND ativo = ?", "FL'A", true)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, json.Number("3"), rows[0]["total"])

	req := fake.last(t)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/rest/v1/rpc/exec_query", req.Path)
	var body map[string]string
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, "SELECT COUNT(*) AS total FROM tbl_times WHERE sigla = 'FL''A' AND ativo = TRUE", body["query"])

	rows, err = a.Query(ctx, "CREATE TABLE IF NOT EXISTS tbl_x (id serial primary key)")
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, "/rest/v1/rpc/exec_sql", fake.last(t).Path)

	res, err := a.Execute(ctx, "SELECT 1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.RowsAffected)
	assert.Equal(t, "/rest/v1/rpc/exec_query", fake.last(t).Path)
}

func TestSupabaseAdapter_ExecuteRowCount(t *testing.T) {
	a, fake := newTestSupabase(t, respond(http.StatusOK, `4`), Config{})

	res, err := a.Execute(context.Background(), "UPDATE tbl_times SET ativo = ? WHERE sigla LIKE ?", false, "F%")
	require.NoError(t, err)
	assert.EqualValues(t, 4, res.RowsAffected)

	var body map[string]string
	require.NoError(t, json.Unmarshal(fake.last(t).Body, &body))
	assert.Equal(t, "UPDATE tbl_times SET ativo = FALSE WHERE sigla LIKE 'F%'", body["query"])
}

func TestSupabaseAdapter_MissingProcedure(t *testing.T) {
	a, _ := newTestSupabase(t, respond(http.StatusNotFound,
		`{"code":"PGRST202","message":"Could not find the function public.exec_query(query) in the schema cache"}`), Config{})

	_, err := a.Query(context.Background(), "SELECT 1")
	require.ErrorIs(t, err, ErrMissingProcedure)

	var mpe *MissingProcedureError
	require.True(t, errors.As(err, &mpe))
	assert.Equal(t, "exec_query", mpe.Procedure)

	_, err = a.Execute(context.Background(), "DROP TABLE tbl_x")
	require.True(t, errors.As(err, &mpe))
	assert.Equal(t, "exec_sql", mpe.Procedure)
}

func TestSupabaseAdapter_MissingProcedureWithoutCode(t *testing.T) {
	a, _ := newTestSupabase(t, respond(http.StatusNotFound,
		`{"message":"Could not find the function public.exec_sql(query)"}`), Config{})

	_, err := a.Execute(context.Background(), "DROP TABLE tbl_x")
	assert.ErrorIs(t, err, ErrMissingProcedure)
}

func TestSupabaseAdapter_ErrorInsideProcedure(t *testing.T) {
	a, _ := newTestSupabase(t, respond(http.StatusNotFound,
		`{"code":"42P01","message":"relation \"tbl_nope\" does not exist"}`), Config{})

	_, err := a.Query(context.Background(), "SELECT * FROM tbl_nope")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrMissingProcedure))

	var se *StatementError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Status)
	assert.Equal(t, "42P01", se.Code)
	assert.Equal(t, `relation "tbl_nope" does not exist`, se.Message)
	assert.Equal(t, "exec_query", se.Operation)
}

func TestSupabaseAdapter_RejectsCollidingColumns(t *testing.T) {
	a, fake := newTestSupabase(t, respond(http.StatusOK, `[]`), Config{})

	_, err := a.Delete(context.Background(), "tbl_times", Where{"nome": "A", "no-me": "B", "id": 1})
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	_, err = a.Insert(context.Background(), "tbl_times", Row{"nome": "A", "n.ome": "B"})
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
	assert.Zero(t, fake.count())
}

func TestSupabaseAdapter_TableExists(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/tbl_times") {
			_, _ = w.Write([]byte(`[{"id":1}]`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"PGRST205","message":"Could not find the table 'public.definitely_missing_table' in the schema cache"}`))
	}
	a, fake := newTestSupabase(t, handler, Config{})
	ctx := context.Background()

	ok, err := a.TableExists(ctx, "definitely_missing_table")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "1", fake.last(t).Query["limit"][0])

	ok, err = a.TableExists(ctx, "tbl_times")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSupabaseAdapter_ColumnsAndTables(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(body["query"], "information_schema.columns") {
			_, _ = w.Write([]byte(`[
				{"column_name":"id","data_type":"bigint","is_nullable":"NO","column_default":"nextval('tbl_times_id_seq'::regclass)"},
				{"column_name":"nome","data_type":"text","is_nullable":"YES","column_default":null}
			]`))
			return
		}
		_, _ = w.Write([]byte(`[{"table_name":"tbl_artigos"},{"table_name":"tbl_times"}]`))
	}
	a, _ := newTestSupabase(t, handler, Config{})
	ctx := context.Background()

	cols, err := a.Columns(ctx, "tbl_times")
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, "id", cols[0].Name)
	assert.Equal(t, "bigint", cols[0].Type)
	assert.False(t, cols[0].Nullable)
	require.NotNil(t, cols[0].Default)
	assert.True(t, cols[1].Nullable)
	assert.Nil(t, cols[1].Default)

	tables, err := a.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tbl_artigos", "tbl_times"}, tables)
}

func TestSupabaseAdapter_DisconnectIsIdempotent(t *testing.T) {
	a, _ := newTestSupabase(t, respond(http.StatusOK, `[]`), Config{})
	assert.NoError(t, a.Disconnect())
	assert.NoError(t, a.Disconnect())

	_, err := a.Select(context.Background(), "tbl_times", nil, Options{})
	assert.ErrorIs(t, err, ErrNotConnected)
}
