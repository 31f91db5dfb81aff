// Package testhelper provides an in-memory database/sql driver and helpers
// shared by the dbcon tests.
package testhelper

import (
	"os"
	"testing"

	"github.com/yuku/dbcon/config"
)

// DatabaseURL returns the PostgreSQL URL from DATABASE_URL. Tests calling it
// are skipped when the variable is unset or -short is given.
func DatabaseURL(t testing.TB) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL test in short mode")
	}
	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		t.Skip("DATABASE_URL is not set")
	}
	return connString
}

// Config returns a valid configuration for name that connects to srv.
func Config(name string, srv *Server) config.ConnectionConfig {
	c := config.Defaults()
	c.Name = name
	c.Driver = DriverName
	c.URL = srv.URL()
	c.ValidationQuery = "SELECT 1"
	c.TestsPerEvictionRun = 0
	return c
}
