package connpool

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// stmtCache keeps up to size prepared statements of one connection, one per
// SQL text. A cached statement is lent to a single caller at a time; when it
// is in use a second prepare of the same text gets an uncached statement.
// The least recently used statement is closed to make room.
type stmtCache struct {
	lru *simplelru.LRU[string, *cachedStmt]
}

func newStmtCache(size int) *stmtCache {
	lru, err := simplelru.NewLRU[string, *cachedStmt](size, func(_ string, s *cachedStmt) {
		s.evicted = true
		if !s.inUse {
			_ = s.Stmt.Close()
		}
	})
	if err != nil {
		// Only returned for a non-positive size, which newConn never passes.
		panic(err)
	}
	return &stmtCache{lru: lru}
}

func (sc *stmtCache) get(query string) *cachedStmt {
	s, ok := sc.lru.Get(query)
	if !ok || s.inUse {
		return nil
	}
	s.inUse = true
	return s
}

// put caches s under query and returns the cached wrapper, or nil when a
// statement for query is already cached and in use.
func (sc *stmtCache) put(query string, s driver.Stmt) *cachedStmt {
	if sc.lru.Contains(query) {
		return nil
	}
	cs := &cachedStmt{Stmt: s, inUse: true}
	sc.lru.Add(query, cs)
	return cs
}

func (sc *stmtCache) len() int {
	return sc.lru.Len()
}

func (sc *stmtCache) closeAll() {
	sc.lru.Purge()
}

type cachedStmt struct {
	driver.Stmt
	inUse   bool
	evicted bool
}

var (
	_ driver.StmtExecContext  = (*cachedStmt)(nil)
	_ driver.StmtQueryContext = (*cachedStmt)(nil)
)

// Close hands the statement back to the cache. It is only closed for real
// once evicted.
func (s *cachedStmt) Close() error {
	s.inUse = false
	if s.evicted {
		return s.Stmt.Close()
	}
	return nil
}

func (s *cachedStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	return execStmt(ctx, s.Stmt, args)
}

func (s *cachedStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	return queryStmt(ctx, s.Stmt, args)
}

func prepare(ctx context.Context, c driver.Conn, query string) (driver.Stmt, error) {
	if p, ok := c.(driver.ConnPrepareContext); ok {
		return p.PrepareContext(ctx, query)
	}
	return c.Prepare(query)
}

func execStmt(ctx context.Context, s driver.Stmt, args []driver.NamedValue) (driver.Result, error) {
	if e, ok := s.(driver.StmtExecContext); ok {
		return e.ExecContext(ctx, args)
	}
	values, err := namedValuesToValues(args)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Exec(values)
}

func queryStmt(ctx context.Context, s driver.Stmt, args []driver.NamedValue) (driver.Rows, error) {
	if q, ok := s.(driver.StmtQueryContext); ok {
		return q.QueryContext(ctx, args)
	}
	values, err := namedValuesToValues(args)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Query(values)
}

func namedValuesToValues(args []driver.NamedValue) ([]driver.Value, error) {
	values := make([]driver.Value, len(args))
	for i, arg := range args {
		if arg.Name != "" {
			return nil, errors.New("driver does not support named parameters")
		}
		values[i] = arg.Value
	}
	return values, nil
}

// probe runs query on c and reads every row.
func probe(ctx context.Context, c driver.Conn, query string) error {
	if q, ok := c.(driver.QueryerContext); ok {
		rows, err := q.QueryContext(ctx, query, nil)
		if !errors.Is(err, driver.ErrSkip) {
			if err != nil {
				return err
			}
			return drain(rows)
		}
	}

	s, err := prepare(ctx, c, query)
	if err != nil {
		return err
	}
	defer s.Close()

	rows, err := queryStmt(ctx, s, nil)
	if err != nil {
		return err
	}
	return drain(rows)
}

func drain(rows driver.Rows) error {
	dest := make([]driver.Value, len(rows.Columns()))
	for {
		if err := rows.Next(dest); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			_ = rows.Close()
			return err
		}
	}
	return rows.Close()
}
