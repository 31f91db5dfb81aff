package connpool

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/jackc/puddle/v2"
)

// conn wraps a driver connection owned by the pool. While lent, pool and res
// are set; Close hands it back. database/sql never uses a driver connection
// from two goroutines at once, so conn needs no locking.
type conn struct {
	raw   driver.Conn
	stmts *stmtCache
	tx    *trackedTx

	bad    bool
	reused bool

	pool *Pool
	res  *puddle.Resource[*conn] // nil for overflow connections
}

var (
	_ driver.Conn               = (*conn)(nil)
	_ driver.ConnBeginTx        = (*conn)(nil)
	_ driver.ConnPrepareContext = (*conn)(nil)
	_ driver.ExecerContext      = (*conn)(nil)
	_ driver.QueryerContext     = (*conn)(nil)
	_ driver.Pinger             = (*conn)(nil)
	_ driver.SessionResetter    = (*conn)(nil)
	_ driver.Validator          = (*conn)(nil)
	_ driver.NamedValueChecker  = (*conn)(nil)
)

func newConn(raw driver.Conn, cachedStatements int) *conn {
	c := &conn{raw: raw}
	if cachedStatements > 0 {
		c.stmts = newStmtCache(cachedStatements)
	}
	return c
}

func (c *conn) lend(p *Pool, r *puddle.Resource[*conn]) {
	c.pool, c.res = p, r
}

// Raw returns the driver connection this one wraps.
func (c *conn) Raw() driver.Conn {
	return c.raw
}

func (c *conn) markBad(err error) {
	if errors.Is(err, driver.ErrBadConn) {
		c.bad = true
	}
}

func (c *conn) closeDriver() error {
	if c.stmts != nil {
		c.stmts.closeAll()
	}
	return c.raw.Close()
}

// Close returns the connection to its pool.
func (c *conn) Close() error {
	if c.pool == nil {
		return nil
	}
	c.pool.release(c)
	return nil
}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if c.stmts != nil {
		if s := c.stmts.get(query); s != nil {
			return s, nil
		}
	}

	s, err := prepare(ctx, c.raw, query)
	if err != nil {
		c.markBad(err)
		return nil, err
	}
	if c.stmts != nil {
		if cs := c.stmts.put(query, s); cs != nil {
			return cs, nil
		}
	}
	return s, nil
}

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	var (
		tx  driver.Tx
		err error
	)
	if b, ok := c.raw.(driver.ConnBeginTx); ok {
		tx, err = b.BeginTx(ctx, opts)
	} else {
		if opts.Isolation != 0 || opts.ReadOnly {
			return nil, fmt.Errorf("driver does not support isolation levels or read-only transactions")
		}
		tx, err = c.raw.Begin()
	}
	if err != nil {
		c.markBad(err)
		return nil, err
	}
	c.tx = &trackedTx{tx: tx, conn: c}
	return c.tx, nil
}

func (c *conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	e, ok := c.raw.(driver.ExecerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	res, err := e.ExecContext(ctx, query, args)
	c.markBad(err)
	return res, err
}

func (c *conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	q, ok := c.raw.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	rows, err := q.QueryContext(ctx, query, args)
	c.markBad(err)
	return rows, err
}

func (c *conn) Ping(ctx context.Context) error {
	p, ok := c.raw.(driver.Pinger)
	if !ok {
		return nil
	}
	err := p.Ping(ctx)
	c.markBad(err)
	return err
}

func (c *conn) ResetSession(ctx context.Context) error {
	if c.bad {
		return driver.ErrBadConn
	}
	r, ok := c.raw.(driver.SessionResetter)
	if !ok {
		return nil
	}
	err := r.ResetSession(ctx)
	c.markBad(err)
	return err
}

func (c *conn) IsValid() bool {
	if c.bad {
		return false
	}
	if v, ok := c.raw.(driver.Validator); ok {
		return v.IsValid()
	}
	return true
}

func (c *conn) CheckNamedValue(nv *driver.NamedValue) error {
	if checker, ok := c.raw.(driver.NamedValueChecker); ok {
		return checker.CheckNamedValue(nv)
	}
	return driver.ErrSkip
}

// trackedTx lets the pool roll back a transaction the borrower left open.
type trackedTx struct {
	tx   driver.Tx
	conn *conn
}

func (t *trackedTx) Commit() error {
	t.conn.tx = nil
	err := t.tx.Commit()
	t.conn.markBad(err)
	return err
}

func (t *trackedTx) Rollback() error {
	t.conn.tx = nil
	err := t.tx.Rollback()
	t.conn.markBad(err)
	return err
}
