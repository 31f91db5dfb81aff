package dbcon

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// Conn is a connection borrowed from a Pool. Statements run inside a
// transaction that is only made durable by Commit; Close rolls back whatever
// is left and returns the connection.
//
// A Conn is not safe for concurrent use, but Close may be called from any
// goroutine.
type Conn struct {
	pool *Pool
	conn *sql.Conn

	mu     sync.Mutex
	tx     *sql.Tx
	closed bool
}

func newConn(ctx context.Context, p *Pool, sc *sql.Conn) (*Conn, error) {
	c := &Conn{pool: p, conn: sc}
	if err := c.begin(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Synonym returns the name of the pool the connection was borrowed from.
func (c *Conn) Synonym() string {
	return c.pool.name
}

// begin starts the transaction. It outlives ctx: database/sql rolls a
// transaction back as soon as its context is done.
func (c *Conn) begin(ctx context.Context) error {
	tx, err := c.conn.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

// current returns the open transaction, starting one if the previous Commit
// or Rollback could not.
func (c *Conn) current(ctx context.Context) (*sql.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, sql.ErrConnDone
	}
	if c.tx == nil {
		if err := c.begin(ctx); err != nil {
			return nil, err
		}
	}
	return c.tx, nil
}

func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	tx, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	return tx.ExecContext(ctx, query, args...)
}

func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	tx, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	return tx.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a query expected to return at most one row. When no
// transaction can be started the query runs on the connection itself, which
// reports the same failure through Row.Scan.
func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	tx, err := c.current(ctx)
	if err != nil {
		return c.conn.QueryRowContext(ctx, query, args...)
	}
	return tx.QueryRowContext(ctx, query, args...)
}

// PrepareContext prepares a statement inside the current transaction. The
// statement is closed when the transaction ends.
func (c *Conn) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	tx, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	return tx.PrepareContext(ctx, query)
}

// Commit makes the work done so far durable and starts a new transaction.
func (c *Conn) Commit() error {
	return c.finish(func(tx *sql.Tx) error { return tx.Commit() })
}

// Rollback discards the work done since the last Commit and starts a new
// transaction.
func (c *Conn) Rollback() error {
	return c.finish(func(tx *sql.Tx) error { return tx.Rollback() })
}

func (c *Conn) finish(end func(*sql.Tx) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return sql.ErrConnDone
	}
	if c.tx != nil {
		tx := c.tx
		c.tx = nil
		if err := end(tx); err != nil {
			return err
		}
	}
	return c.begin(context.Background())
}

// Raw returns the underlying database/sql connection. It shares its session
// with the open transaction.
func (c *Conn) Raw() *sql.Conn {
	return c.conn
}

// Close rolls back the open transaction and returns the connection to its
// pool. Close is idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.tx != nil {
		if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, err)
		}
		c.tx = nil
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
