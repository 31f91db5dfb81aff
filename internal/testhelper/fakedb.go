package testhelper

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// DriverName is the database/sql name of the in-memory driver.
const DriverName = "fakedb"

func init() {
	sql.Register(DriverName, fakeDriver{})
}

var (
	servers   sync.Map // name -> *Server
	serverSeq atomic.Int64
)

// Server is an in-memory database reachable through the fakedb driver at
// URL(). It answers every query with a single row holding 1 and counts what
// its connections do.
type Server struct {
	name string

	mu         sync.Mutex
	down       bool
	queryErr   error
	driverName string
	major      int
	lastUser   string
	lastPass   string

	epoch     atomic.Int64
	validFrom atomic.Int64

	opened     atomic.Int64
	closed     atomic.Int64
	queries    atomic.Int64
	execs      atomic.Int64
	prepares   atomic.Int64
	stmtCloses atomic.Int64
	begins     atomic.Int64
	commits    atomic.Int64
	rollbacks  atomic.Int64
	pings      atomic.Int64
}

// NewServer starts a server that is removed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	name := fmt.Sprintf("srv%d", serverSeq.Add(1))
	s := &Server{name: name, driverName: "fakedb", major: 1}
	servers.Store(name, s)
	t.Cleanup(func() { servers.Delete(name) })
	return s
}

// URL returns the data source name of the server.
func (s *Server) URL() string {
	return DriverName + "://" + s.name + "/db"
}

// UnreachableURL returns a data source name no server answers.
func UnreachableURL() string {
	return fmt.Sprintf("%s://missing%d/db", DriverName, serverSeq.Add(1))
}

// SetDown makes new connections fail and open ones report driver.ErrBadConn.
func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// BreakOpenConns makes every connection opened so far report
// driver.ErrBadConn. Connections opened afterwards work.
func (s *Server) BreakOpenConns() {
	s.validFrom.Store(s.epoch.Add(1))
}

// SetQueryError makes every query and exec fail with err; nil clears it.
func (s *Server) SetQueryError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryErr = err
}

// SetDriverInfo changes the driver name and major version connections report.
func (s *Server) SetDriverInfo(name string, major int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.driverName = name
	s.major = major
}

// LastCredentials returns the user and password of the latest connection.
func (s *Server) LastCredentials() (user, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUser, s.lastPass
}

func (s *Server) Opened() int64     { return s.opened.Load() }
func (s *Server) Closed() int64     { return s.closed.Load() }
func (s *Server) OpenConns() int64  { return s.opened.Load() - s.closed.Load() }
func (s *Server) Queries() int64    { return s.queries.Load() }
func (s *Server) Execs() int64      { return s.execs.Load() }
func (s *Server) Prepares() int64   { return s.prepares.Load() }
func (s *Server) StmtCloses() int64 { return s.stmtCloses.Load() }
func (s *Server) Begins() int64     { return s.begins.Load() }
func (s *Server) Commits() int64    { return s.commits.Load() }
func (s *Server) Rollbacks() int64  { return s.rollbacks.Load() }
func (s *Server) Pings() int64      { return s.pings.Load() }

func (s *Server) state() (down bool, queryErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.down, s.queryErr
}

type fakeDriver struct{}

func (d fakeDriver) Open(dsn string) (driver.Conn, error) {
	c, err := d.OpenConnector(dsn)
	if err != nil {
		return nil, err
	}
	return c.Connect(context.Background())
}

func (d fakeDriver) OpenConnector(dsn string) (driver.Connector, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("fakedb: invalid dsn %q: %w", dsn, err)
	}
	if u.Scheme != DriverName {
		return nil, fmt.Errorf("fakedb: invalid scheme in %q", dsn)
	}
	return &connector{url: u}, nil
}

type connector struct {
	url *url.URL
}

func (c *connector) Connect(ctx context.Context) (driver.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := servers.Load(c.url.Host)
	if !ok {
		return nil, fmt.Errorf("fakedb: dial %s: connection refused", c.url.Host)
	}
	s := v.(*Server)
	if down, _ := s.state(); down {
		return nil, fmt.Errorf("fakedb: dial %s: connection refused", c.url.Host)
	}

	s.mu.Lock()
	s.lastUser = c.url.User.Username()
	s.lastPass, _ = c.url.User.Password()
	s.mu.Unlock()

	s.opened.Add(1)
	return &fakeConn{srv: s, epoch: s.epoch.Load()}, nil
}

func (c *connector) Driver() driver.Driver {
	return fakeDriver{}
}

type fakeConn struct {
	srv    *Server
	epoch  int64
	closed bool
	inTx   bool
}

func (c *fakeConn) check() error {
	if c.closed {
		return errors.New("fakedb: connection closed")
	}
	if down, _ := c.srv.state(); down || c.epoch < c.srv.validFrom.Load() {
		return driver.ErrBadConn
	}
	return nil
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	c.srv.prepares.Add(1)
	return &fakeStmt{conn: c, query: query}, nil
}

func (c *fakeConn) Close() error {
	if c.closed {
		return errors.New("fakedb: connection already closed")
	}
	c.closed = true
	c.srv.closed.Add(1)
	return nil
}

func (c *fakeConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *fakeConn) BeginTx(_ context.Context, _ driver.TxOptions) (driver.Tx, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if c.inTx {
		return nil, errors.New("fakedb: transaction already in progress")
	}
	c.inTx = true
	c.srv.begins.Add(1)
	return &fakeTx{conn: c}, nil
}

func (c *fakeConn) Ping(context.Context) error {
	c.srv.pings.Add(1)
	return c.check()
}

func (c *fakeConn) IsValid() bool {
	return c.check() == nil
}

func (c *fakeConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if _, qerr := c.srv.state(); qerr != nil {
		return nil, qerr
	}
	c.srv.execs.Add(1)
	return driver.RowsAffected(1), nil
}

func (c *fakeConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if _, qerr := c.srv.state(); qerr != nil {
		return nil, qerr
	}
	c.srv.queries.Add(1)
	return &fakeRows{}, nil
}

// DriverName and DriverMajorVersion report driver metadata.
func (c *fakeConn) DriverName() string {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	return c.srv.driverName
}

func (c *fakeConn) DriverMajorVersion() int {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	return c.srv.major
}

type fakeTx struct {
	conn *fakeConn
	done bool
}

func (tx *fakeTx) finish(counter *atomic.Int64) error {
	if tx.done {
		return errors.New("fakedb: transaction already finished")
	}
	tx.done = true
	tx.conn.inTx = false
	if err := tx.conn.check(); err != nil {
		return err
	}
	counter.Add(1)
	return nil
}

func (tx *fakeTx) Commit() error   { return tx.finish(&tx.conn.srv.commits) }
func (tx *fakeTx) Rollback() error { return tx.finish(&tx.conn.srv.rollbacks) }

type fakeStmt struct {
	conn   *fakeConn
	query  string
	closed bool
}

func (s *fakeStmt) Close() error {
	if s.closed {
		return errors.New("fakedb: statement already closed")
	}
	s.closed = true
	s.conn.srv.stmtCloses.Add(1)
	return nil
}

func (s *fakeStmt) NumInput() int {
	return strings.Count(s.query, "?")
}

func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	if s.closed {
		return nil, errors.New("fakedb: statement closed")
	}
	return s.conn.ExecContext(context.Background(), s.query, nil)
}

func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	if s.closed {
		return nil, errors.New("fakedb: statement closed")
	}
	return s.conn.QueryContext(context.Background(), s.query, nil)
}

type fakeRows struct {
	done bool
}

func (r *fakeRows) Columns() []string { return []string{"value"} }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.done {
		return io.EOF
	}
	r.done = true
	dest[0] = int64(1)
	return nil
}
