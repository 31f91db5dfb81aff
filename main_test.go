package dbcon_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/yuku/dbcon"
	"github.com/yuku/dbcon/config"
	"github.com/yuku/dbcon/internal/testhelper"
)

// newRegistry returns a registry over the given configurations that is
// closed when the test ends.
func newRegistry(t *testing.T, cfgs ...config.ConnectionConfig) *dbcon.Registry {
	t.Helper()

	r := dbcon.NewRegistry(dbcon.WithSource(config.NewStaticSource(cfgs...)))
	t.Cleanup(func() {
		require.NoError(t, r.Close(), "failed to close registry")
	})
	return r
}

// borrow takes a connection of name and returns it when the test ends.
func borrow(t *testing.T, r *dbcon.Registry, name string) *dbcon.Conn {
	t.Helper()

	conn, err := r.Conn(context.Background(), name)
	require.NoError(t, err, "failed to borrow connection")
	t.Cleanup(func() { r.DataSource(name).Return(conn) })
	return conn
}

// requireAllClosed waits until every connection opened on srv is closed.
func requireAllClosed(t *testing.T, srv *testhelper.Server) {
	t.Helper()
	require.Eventually(t, func() bool { return srv.OpenConns() == 0 },
		2*time.Second, 5*time.Millisecond, "connections left open: %d", srv.OpenConns())
}
