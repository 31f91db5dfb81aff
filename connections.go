package dbcon

import (
	"context"
	"database/sql"
)

// Connections lends and takes back connections of any synonym of a
// registry.
type Connections struct {
	registry *Registry
}

func NewConnections(r *Registry) *Connections {
	return &Connections{registry: r}
}

// Conn borrows a connection from the pool of name, creating the pool on
// first use.
func (c *Connections) Conn(ctx context.Context, name string) (*Conn, error) {
	return c.registry.Conn(ctx, name)
}

// Return rolls back and returns conn. Failures are logged and never
// reported; a nil conn is ignored.
func (c *Connections) Return(conn *Conn) {
	returnConn(conn)
}

func returnConn(conn *Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		conn.pool.logger.Warn().Err(err).Msg("failed to return connection")
	}
}

// DataSource is bound to the pool of one synonym.
type DataSource struct {
	registry *Registry
	name     string
}

func (d *DataSource) Name() string {
	return d.name
}

func (d *DataSource) Conn(ctx context.Context) (*Conn, error) {
	return d.registry.Conn(ctx, d.name)
}

// DB returns the pool's *sql.DB, creating the pool on first use.
func (d *DataSource) DB(ctx context.Context) (*sql.DB, error) {
	p, err := d.registry.Pool(ctx, d.name)
	if err != nil {
		return nil, err
	}
	db := p.DB()
	if db == nil {
		return nil, newError(ErrPoolDestroyed, d.name, "", nil)
	}
	return db, nil
}

// Return rolls back and returns conn like Connections.Return.
func (d *DataSource) Return(conn *Conn) {
	returnConn(conn)
}
