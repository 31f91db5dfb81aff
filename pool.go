package dbcon

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/yuku/dbcon/config"
	"github.com/yuku/dbcon/internal/connpool"
	"github.com/yuku/dbcon/internal/logger"
)

// State is the lifecycle state of a Pool.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Pool owns the bounded connection pool of one synonym. A destroyed Pool is
// never initialised again; the registry creates a new one instead.
type Pool struct {
	name     string
	base     config.ConnectionConfig
	logger   zerolog.Logger
	observer Observer

	initMu sync.Mutex // serializes Init and Destroy
	state  atomic.Int32
	handle atomic.Pointer[poolHandle]
}

// poolHandle is everything a ready pool owns.
type poolHandle struct {
	cfg   config.ConnectionConfig
	conns *connpool.Pool
	db    *sql.DB
}

func newPool(cfg config.ConnectionConfig, log zerolog.Logger, obs Observer) *Pool {
	if obs == nil {
		obs = nopObserver{}
	}
	return &Pool{
		name:     cfg.Name,
		base:     cfg.Clone(),
		logger:   log.With().Str("synonym", cfg.Name).Logger(),
		observer: obs,
	}
}

// Name returns the synonym of the pool.
func (p *Pool) Name() string {
	return p.name
}

// State returns the current lifecycle state.
func (p *Pool) State() State {
	return State(p.state.Load())
}

// Config returns a copy of the pool's configuration. WorkingURL is set once
// the pool is ready.
func (p *Pool) Config() config.ConnectionConfig {
	if h := p.handle.Load(); h != nil {
		return h.cfg.Clone()
	}
	return p.base.Clone()
}

// Init loads the driver, resolves the working URL and builds the underlying
// pool. It is a no-op on a ready pool.
func (p *Pool) Init(ctx context.Context) error {
	p.initMu.Lock()
	defer p.initMu.Unlock()

	switch p.State() {
	case StateReady:
		return nil
	case StateDestroyed:
		return newError(ErrPoolDestroyed, p.name, "cannot initialise a destroyed pool", nil)
	}

	p.state.Store(int32(StateInitializing))
	h, err := p.build(ctx)
	if err != nil {
		p.state.Store(int32(StateUninitialized))
		return err
	}
	p.handle.Store(h)
	p.state.Store(int32(StateReady))

	p.logger.Info().
		Str("driver", h.cfg.Driver).
		Str("url", logger.RedactURL(h.cfg.WorkingURL)).
		Int("max_active", h.cfg.MaxActive).
		Str("exhausted", h.cfg.Exhausted.String()).
		Msg("pool initialised")
	return nil
}

func (p *Pool) build(ctx context.Context) (*poolHandle, error) {
	cfg := p.base.Clone()

	if cfg.Driver == "" {
		return nil, newError(ErrConfiguration, p.name, "driver is empty; cannot create a pool without one", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, newError(ErrConfiguration, p.name, "", err)
	}
	if err := checkDriver(p.name, cfg.Driver); err != nil {
		return nil, err
	}
	p.logger.Debug().Str("driver", cfg.Driver).Msg("driver found")

	working, err := resolveWorkingURL(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if working != cfg.URL {
		p.logger.Warn().
			Str("url", logger.RedactURL(cfg.URL)).
			Str("backup_url", logger.RedactURL(working)).
			Msg("primary url unreachable, using backup url")
	}
	cfg.WorkingURL = working

	connector, err := newConnector(cfg.Driver, dataSourceName(working, cfg.Username, cfg.Password))
	if err != nil {
		return nil, newError(ErrNoValidURL, p.name, "failed to create connector", err)
	}

	poolCfg := connpool.FromConnectionConfig(cfg)
	poolCfg.Logger = p.logger
	conns, err := connpool.New(connector, poolCfg)
	if err != nil {
		return nil, newError(ErrConfiguration, p.name, "failed to create connection pool", err)
	}

	db := sql.OpenDB(conns)
	// Every connection database/sql releases goes straight back to conns.
	db.SetMaxIdleConns(0)

	p.checkVendorSpecificBugs(ctx, connector.Connect)

	return &poolHandle{cfg: cfg, conns: conns, db: db}, nil
}

// checkVendorSpecificBugs probes a throwaway connection for driver fixes.
// Failures are logged only.
func (p *Pool) checkVendorSpecificBugs(ctx context.Context, connect func(context.Context) (driver.Conn, error)) {
	c, err := connect(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to open connection to check driver settings")
		return
	}
	defer func() {
		if err := c.Close(); err != nil {
			p.logger.Warn().Err(err).Msg("failed to close driver settings connection")
		}
	}()

	applied, err := applyVendorFixes(c)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to classify driver version")
		return
	}
	if applied {
		p.logger.Info().Msg("applied Oracle V8 compatibility")
	}
}

// Conn borrows a connection. The connection has an open transaction; nothing
// it does is committed until Commit is called. Exhaustion fails with
// ErrConnectionNotAvailable.
func (p *Pool) Conn(ctx context.Context) (*Conn, error) {
	h, err := p.ready()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	sc, err := h.db.Conn(ctx)
	if err != nil {
		if p.State() == StateDestroyed {
			p.observer.ObserveBorrow(p.name, OutcomeError, time.Since(start))
			return nil, newError(ErrPoolDestroyed, p.name, "", err)
		}
		outcome := OutcomeError
		if errors.Is(err, connpool.ErrExhausted) {
			outcome = OutcomeExhausted
		}
		p.observer.ObserveBorrow(p.name, outcome, time.Since(start))
		return nil, newError(ErrConnectionNotAvailable, p.name, "failed to borrow connection", err)
	}

	c, err := newConn(ctx, p, sc)
	if err != nil {
		if cerr := sc.Close(); cerr != nil {
			p.logger.Warn().Err(cerr).Msg("failed to close connection after setup failure")
		}
		p.observer.ObserveBorrow(p.name, OutcomeError, time.Since(start))
		return nil, newError(ErrConnectionNotAvailable, p.name, "failed to prepare connection", err)
	}
	p.observer.ObserveBorrow(p.name, OutcomeOK, time.Since(start))
	return c, nil
}

// DB returns the data source of the pool, or nil unless the pool is ready.
// Connections it hands out are borrowed from the pool with database/sql's
// usual autocommit behavior.
func (p *Pool) DB() *sql.DB {
	if h := p.handle.Load(); h != nil {
		return h.db
	}
	return nil
}

func (p *Pool) ready() (*poolHandle, error) {
	if h := p.handle.Load(); h != nil {
		return h, nil
	}
	if p.State() == StateDestroyed {
		return nil, newError(ErrPoolDestroyed, p.name, "", nil)
	}
	return nil, newError(ErrPoolNotReady, p.name, "", nil)
}

// Destroy closes the pool. Close errors are logged, not returned.
// Connections still lent are closed as they are returned. Destroy is
// idempotent.
func (p *Pool) Destroy() {
	p.initMu.Lock()
	defer p.initMu.Unlock()

	if p.State() == StateDestroyed {
		return
	}
	p.state.Store(int32(StateDestroyed))

	h := p.handle.Swap(nil)
	if h == nil {
		return
	}
	if err := h.db.Close(); err != nil {
		p.logger.Error().Err(err).Msg("failed to close data source")
	}
	h.conns.Close()
	p.logger.Info().Msg("pool destroyed")
}

// Stats is a snapshot of a pool's connection counts.
type Stats struct {
	Active    int
	Idle      int
	MaxActive int
	MaxIdle   int

	Borrows   int64
	Exhausted int64
	Evicted   int64
}

// Stats returns the connection counts. Counts are zero unless the pool is
// ready. It is safe to call concurrently with borrows and returns.
func (p *Pool) Stats() Stats {
	h := p.handle.Load()
	if h == nil {
		return Stats{MaxActive: p.base.MaxActive, MaxIdle: p.base.MaxIdle}
	}
	s := h.conns.Stat()
	return Stats{
		Active:    s.Active,
		Idle:      s.Idle,
		MaxActive: s.MaxActive,
		MaxIdle:   s.MaxIdle,
		Borrows:   s.Borrows,
		Exhausted: s.Exhausted,
		Evicted:   s.Evicted,
	}
}

func (p *Pool) ActiveConnections() int    { return p.Stats().Active }
func (p *Pool) IdleConnections() int      { return p.Stats().Idle }
func (p *Pool) MaxActiveConnections() int { return p.Stats().MaxActive }
func (p *Pool) MaxIdleConnections() int   { return p.Stats().MaxIdle }

// Status renders a human readable snapshot of the pool.
func (p *Pool) Status() string {
	if p.State() != StateReady {
		return notInitialisedStatus(p.name)
	}
	s := p.Stats()

	var b strings.Builder
	fmt.Fprintf(&b, "%s Pool Status\n", p.name)
	b.WriteString("====================\n")
	fmt.Fprintf(&b, "Current number of active connections: %d\n", s.Active)
	fmt.Fprintf(&b, "Current number of idle connections: %d\n", s.Idle)
	fmt.Fprintf(&b, "Max number of active connections: %d\n", s.MaxActive)
	fmt.Fprintf(&b, "Max number of idle connections: %d\n", s.MaxIdle)
	return b.String()
}

func notInitialisedStatus(name string) string {
	return fmt.Sprintf("The pool %s has not been initialised", name)
}
