package dbal

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordsOutcomes(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	db := m.Wrap(NewSQLiteAdapter(Config{Database: ":memory:"}))
	ctx := context.Background()

	_, err = db.Query(ctx, "SELECT 1")
	require.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, db.Connect(ctx))
	t.Cleanup(func() { _ = db.Disconnect() })

	_, err = db.Query(ctx, "SELECT 1")
	require.NoError(t, err)
	_, err = db.Select(ctx, "definitely_missing_table", nil, Options{})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("sqlite", "connect", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("sqlite", "query", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("sqlite", "query", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("sqlite", "select", "error")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.duration))
}

func TestMetrics_WrapIsIdempotent(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	once := m.Wrap(NoneAdapter{})
	assert.Same(t, once, m.Wrap(once))

	tables, err := once.(TableLister).Tables(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestNewMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	assert.Error(t, err)
}
