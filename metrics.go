package dbal

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records operation counts and latencies of wrapped databases.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aegis",
			Subsystem: "db",
			Name:      "operations_total",
			Help:      "Database operations by backend, operation and outcome.",
		}, []string{"backend", "operation", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aegis",
			Subsystem: "db",
			Name:      "operation_duration_seconds",
			Help:      "Database operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "operation"}),
	}

	for _, c := range []prometheus.Collector{m.operations, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return m, nil
}

// Wrap returns db with every operation recorded.
func (m *Metrics) Wrap(db Database) Database {
	if _, ok := db.(*instrumented); ok {
		return db
	}
	return &instrumented{next: db, m: m}
}

func (m *Metrics) observe(backend, op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.operations.WithLabelValues(backend, op, status).Inc()
	m.duration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

type instrumented struct {
	next Database
	m    *Metrics
}

var _ TableLister = (*instrumented)(nil)

func (i *instrumented) Type() string { return i.next.Type() }

func (i *instrumented) Connect(ctx context.Context) error {
	start := time.Now()
	err := i.next.Connect(ctx)
	i.m.observe(i.next.Type(), "connect", start, err)
	return err
}

func (i *instrumented) Disconnect() error {
	return i.next.Disconnect()
}

func (i *instrumented) Select(ctx context.Context, table string, where Where, opts Options) ([]Row, error) {
	start := time.Now()
	rows, err := i.next.Select(ctx, table, where, opts)
	i.m.observe(i.next.Type(), "select", start, err)
	return rows, err
}

func (i *instrumented) Insert(ctx context.Context, table string, data Row) (InsertResult, error) {
	start := time.Now()
	res, err := i.next.Insert(ctx, table, data)
	i.m.observe(i.next.Type(), "insert", start, err)
	return res, err
}

func (i *instrumented) Update(ctx context.Context, table string, data Row, where Where) (int64, error) {
	start := time.Now()
	n, err := i.next.Update(ctx, table, data, where)
	i.m.observe(i.next.Type(), "update", start, err)
	return n, err
}

func (i *instrumented) Delete(ctx context.Context, table string, where Where) (int64, error) {
	start := time.Now()
	n, err := i.next.Delete(ctx, table, where)
	i.m.observe(i.next.Type(), "delete", start, err)
	return n, err
}

func (i *instrumented) Query(ctx context.Context, query string, params ...any) ([]Row, error) {
	start := time.Now()
	rows, err := i.next.Query(ctx, query, params...)
	i.m.observe(i.next.Type(), "query", start, err)
	return rows, err
}

func (i *instrumented) Execute(ctx context.Context, query string, params ...any) (Result, error) {
	start := time.Now()
	res, err := i.next.Execute(ctx, query, params...)
	i.m.observe(i.next.Type(), "execute", start, err)
	return res, err
}

func (i *instrumented) LastID() (any, bool) { return i.next.LastID() }

func (i *instrumented) TableExists(ctx context.Context, table string) (bool, error) {
	start := time.Now()
	ok, err := i.next.TableExists(ctx, table)
	i.m.observe(i.next.Type(), "table_exists", start, err)
	return ok, err
}

func (i *instrumented) Columns(ctx context.Context, table string) ([]Column, error) {
	start := time.Now()
	cols, err := i.next.Columns(ctx, table)
	i.m.observe(i.next.Type(), "columns", start, err)
	return cols, err
}

func (i *instrumented) Tables(ctx context.Context) ([]string, error) {
	tl, ok := i.next.(TableLister)
	if !ok {
		return nil, fmt.Errorf("%s backend cannot list tables", i.next.Type())
	}
	start := time.Now()
	tables, err := tl.Tables(ctx)
	i.m.observe(i.next.Type(), "tables", start, err)
	return tables, err
}
