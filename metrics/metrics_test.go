package metrics_test

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuku/dbcon"
	"github.com/yuku/dbcon/config"
	"github.com/yuku/dbcon/internal/testhelper"
	"github.com/yuku/dbcon/metrics"
)

func TestMetricsObserver(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	srv := testhelper.NewServer(t)
	cfg := testhelper.Config("reports", srv)
	cfg.MaxActive = 1
	r := dbcon.NewRegistry(dbcon.WithSource(config.NewStaticSource(cfg)), dbcon.WithObserver(m))

	conn, err := r.Conn(ctx, "reports")
	require.NoError(t, err)
	_, err = r.Conn(ctx, "reports")
	require.Error(t, err)
	r.DataSource("reports").Return(conn)
	require.NoError(t, r.Close())

	assert.Equal(t, 1.0, promtest.ToFloat64(m.BorrowTotal.WithLabelValues("reports", dbcon.OutcomeOK)))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.BorrowTotal.WithLabelValues("reports", dbcon.OutcomeExhausted)))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.PoolLifecycleTotal.WithLabelValues("reports", dbcon.EventCreated)))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.PoolLifecycleTotal.WithLabelValues("reports", dbcon.EventDestroyed)))
	assert.Equal(t, 1, promtest.CollectAndCount(m.BorrowWait))
}

func TestCollector(t *testing.T) {
	ctx := context.Background()
	srv := testhelper.NewServer(t)
	a := testhelper.Config("a", srv)
	a.MaxActive = 4
	a.MaxIdle = 2
	b := testhelper.Config("b", srv)
	r := dbcon.NewRegistry(dbcon.WithSource(config.NewStaticSource(a, b)))
	t.Cleanup(func() { _ = r.Close() })

	c := metrics.NewCollector(r)
	assert.Equal(t, 0, promtest.CollectAndCount(c), "no pools are loaded yet")

	conn, err := r.Conn(ctx, "a")
	require.NoError(t, err)
	t.Cleanup(func() { r.DataSource("a").Return(conn) })

	expected := `
# HELP dbcon_pool_active_connections Number of connections currently lent out
# TYPE dbcon_pool_active_connections gauge
dbcon_pool_active_connections{synonym="a"} 1
# HELP dbcon_pool_max_active_connections Maximum number of connections lent at once
# TYPE dbcon_pool_max_active_connections gauge
dbcon_pool_max_active_connections{synonym="a"} 4
`
	err = promtest.CollectAndCompare(c, strings.NewReader(expected),
		"dbcon_pool_active_connections", "dbcon_pool_max_active_connections")
	require.NoError(t, err)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))
	n, err := promtest.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
