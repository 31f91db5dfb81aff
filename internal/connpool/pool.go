// Package connpool implements the bounded connection pool behind every dbcon
// pool. It is a driver.Connector: connections it lends go back to the pool
// when closed.
package connpool

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"
	"github.com/rs/zerolog"
	"github.com/yuku/dbcon/config"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrExhausted is returned when no connection can be lent under the
	// pool's exhausted action.
	ErrExhausted = errors.New("connection pool exhausted")

	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("connection pool closed")
)

// Config holds the sizing and testing policy of a Pool.
type Config struct {
	MaxActive int
	MaxIdle   int
	MaxWait   time.Duration
	Exhausted config.ExhaustedAction

	TestOnBorrow  bool
	TestOnReturn  bool
	TestWhileIdle bool

	EvictionInterval    time.Duration
	MinEvictableIdle    time.Duration
	TestsPerEvictionRun int

	ValidationQuery  string
	CachedStatements int

	Logger zerolog.Logger
}

// FromConnectionConfig extracts the pool policy of c.
func FromConnectionConfig(c config.ConnectionConfig) Config {
	return Config{
		MaxActive:           c.MaxActive,
		MaxIdle:             c.MaxIdle,
		MaxWait:             c.MaxWait,
		Exhausted:           c.Exhausted,
		TestOnBorrow:        c.TestOnBorrow,
		TestOnReturn:        c.TestOnReturn,
		TestWhileIdle:       c.TestWhileIdle,
		EvictionInterval:    c.EvictionInterval,
		MinEvictableIdle:    c.MinEvictableIdle,
		TestsPerEvictionRun: c.TestsPerEvictionRun,
		ValidationQuery:     c.ValidationQuery,
		CachedStatements:    c.CachedStatements,
	}
}

// Pool lends at most MaxActive pooled connections at a time. With the Grow
// exhausted action extra connections are opened outside the bound and closed
// when returned.
type Pool struct {
	cfg       Config
	connector driver.Connector
	logger    zerolog.Logger

	res   *puddle.Pool[*conn]
	slots *semaphore.Weighted

	overflow  atomic.Int64
	borrows   atomic.Int64
	exhausted atomic.Int64
	evicted   atomic.Int64

	closed    atomic.Bool
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New creates a pool opening connections through connector and starts the
// eviction goroutine when cfg.EvictionInterval is positive.
func New(connector driver.Connector, cfg Config) (*Pool, error) {
	if connector == nil {
		return nil, fmt.Errorf("connector is required")
	}
	if cfg.MaxActive < 1 {
		return nil, fmt.Errorf("MaxActive must be at least 1, got %d", cfg.MaxActive)
	}

	p := &Pool{
		cfg:       cfg,
		connector: connector,
		logger:    cfg.Logger,
		slots:     semaphore.NewWeighted(int64(cfg.MaxActive)),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	res, err := puddle.NewPool(&puddle.Config[*conn]{
		Constructor: p.open,
		Destructor:  p.destroy,
		MaxSize:     int32(cfg.MaxActive),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resource pool: %w", err)
	}
	p.res = res

	if cfg.EvictionInterval > 0 {
		go p.evictLoop()
	} else {
		close(p.done)
	}
	return p, nil
}

func (p *Pool) open(ctx context.Context) (*conn, error) {
	dc, err := p.connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return newConn(dc, p.cfg.CachedStatements), nil
}

func (p *Pool) destroy(c *conn) {
	if err := c.closeDriver(); err != nil {
		p.logger.Warn().Err(err).Msg("failed to close connection")
	}
}

// Connect borrows a connection. It implements driver.Connector.
func (p *Pool) Connect(ctx context.Context) (driver.Conn, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	p.borrows.Add(1)

	pooled, err := p.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}
	if !pooled {
		return p.openOverflow(ctx)
	}

	c, err := p.take(ctx)
	if err != nil {
		p.slots.Release(1)
		return nil, err
	}
	return c, nil
}

// Driver implements driver.Connector.
func (p *Pool) Driver() driver.Driver {
	return p.connector.Driver()
}

// acquireSlot reserves one of the MaxActive slots. It reports false when the
// Grow action lets the caller go beyond the bound.
func (p *Pool) acquireSlot(ctx context.Context) (bool, error) {
	if p.slots.TryAcquire(1) {
		return true, nil
	}

	switch p.cfg.Exhausted {
	case config.Grow:
		return false, nil
	case config.Block:
		waitCtx := ctx
		if p.cfg.MaxWait > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, p.cfg.MaxWait)
			defer cancel()
		}
		if err := p.slots.Acquire(waitCtx, 1); err != nil {
			p.exhausted.Add(1)
			return false, fmt.Errorf("%w: no connection returned within %s: %w", ErrExhausted, p.cfg.MaxWait, err)
		}
		return true, nil
	default:
		p.exhausted.Add(1)
		return false, fmt.Errorf("%w: all %d connections are in use", ErrExhausted, p.cfg.MaxActive)
	}
}

// take gets a pooled connection once a slot is held. A reused connection
// failing the borrow test is discarded and another one is taken.
func (p *Pool) take(ctx context.Context) (*conn, error) {
	for {
		r, err := p.res.Acquire(ctx)
		if err != nil {
			if errors.Is(err, puddle.ErrClosedPool) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("failed to open connection: %w", err)
		}

		c := r.Value()
		if p.cfg.TestOnBorrow {
			if err := p.validate(ctx, c); err != nil {
				r.Destroy()
				if !c.reused {
					return nil, fmt.Errorf("failed to validate new connection: %w", err)
				}
				p.logger.Debug().Err(err).Msg("discarding connection that failed the borrow test")
				continue
			}
		}
		c.lend(p, r)
		return c, nil
	}
}

func (p *Pool) openOverflow(ctx context.Context) (*conn, error) {
	c, err := p.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}
	p.overflow.Add(1)
	c.lend(p, nil)
	return c, nil
}

// release takes back a lent connection. A transaction left open is rolled
// back. Broken connections, connections failing the return test and
// connections beyond MaxIdle are destroyed.
func (p *Pool) release(c *conn) {
	r := c.res
	c.pool, c.res = nil, nil
	c.reused = true

	if c.tx != nil {
		if err := c.tx.Rollback(); err != nil {
			p.logger.Warn().Err(err).Msg("failed to roll back transaction left open")
			c.bad = true
		}
	}

	if r == nil {
		p.overflow.Add(-1)
		p.destroy(c)
		return
	}
	defer p.slots.Release(1)

	switch {
	case c.bad || p.closed.Load():
		r.Destroy()
	case p.cfg.TestOnReturn && p.validate(context.Background(), c) != nil:
		r.Destroy()
	case int(p.res.Stat().IdleResources()) >= p.cfg.MaxIdle:
		r.Destroy()
	default:
		r.Release()
	}
}

// Stat is a snapshot of the pool counters.
type Stat struct {
	Active    int
	Idle      int
	Total     int
	Overflow  int
	MaxActive int
	MaxIdle   int

	Borrows   int64
	Exhausted int64
	Evicted   int64
}

// Stat returns the current counters. It is safe to call concurrently with
// borrows and returns.
func (p *Pool) Stat() Stat {
	s := p.res.Stat()
	overflow := int(p.overflow.Load())
	return Stat{
		Active:    int(s.AcquiredResources()) + overflow,
		Idle:      int(s.IdleResources()),
		Total:     int(s.TotalResources()) + overflow,
		Overflow:  overflow,
		MaxActive: p.cfg.MaxActive,
		MaxIdle:   p.cfg.MaxIdle,
		Borrows:   p.borrows.Load(),
		Exhausted: p.exhausted.Load(),
		Evicted:   p.evicted.Load(),
	}
}

// Close stops eviction and closes idle connections. Connections still lent
// are closed when they are returned. Close does not wait for them.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.stop)
		<-p.done
		go p.res.Close()
	})
}
