package dbcon

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/yuku/dbcon/config"
)

// DriverInfo is implemented by driver connections that can report the name
// and major version of their driver.
type DriverInfo interface {
	DriverName() string
	DriverMajorVersion() int
}

// v8Compatible is set once, process wide, when a pool detects an Oracle
// driver of major version 10.
var v8Compatible atomic.Bool

// V8Compatible reports whether the Oracle V8 compatibility fix has been
// applied by any pool of this process.
func V8Compatible() bool {
	return v8Compatible.Load()
}

var oracleDriverName = regexp.MustCompile(`^Oracle.+`)

const (
	oracleV8FixMajor     = 10
	oracleLastKnownMajor = 10
)

// applyVendorFixes inspects the driver behind c and applies the fixes it
// needs. It reports whether a fix was applied by this call. A driver version
// newer than every classified one is an ErrUnknownVendorVersion.
func applyVendorFixes(c driver.Conn) (bool, error) {
	if v8Compatible.Load() {
		return false, nil
	}
	name, major, ok := driverMetadata(c)
	if !ok || !oracleDriverName.MatchString(name) {
		return false, nil
	}
	if major > oracleLastKnownMajor {
		return false, newError(ErrUnknownVendorVersion, "",
			fmt.Sprintf("cannot decide on V8 compatibility for %s major version %d", name, major), nil)
	}
	if major != oracleV8FixMajor {
		return false, nil
	}
	return v8Compatible.CompareAndSwap(false, true), nil
}

func driverMetadata(c driver.Conn) (name string, major int, ok bool) {
	switch dc := c.(type) {
	case DriverInfo:
		return dc.DriverName(), dc.DriverMajorVersion(), true
	case *stdlib.Conn:
		version := dc.Conn().PgConn().ParameterStatus("server_version")
		major, err := strconv.Atoi(strings.TrimSpace(strings.SplitN(version, ".", 2)[0]))
		if err != nil {
			return "", 0, false
		}
		return "PostgreSQL", major, true
	default:
		return "", 0, false
	}
}

// checkDriver reports an ErrDriverLoad unless name is a registered
// database/sql driver.
func checkDriver(synonym, name string) error {
	if !slices.Contains(sql.Drivers(), name) {
		return newError(ErrDriverLoad, synonym,
			fmt.Sprintf("driver %q is not registered; import its package", name), nil)
	}
	return nil
}

// newConnector returns a connector for dsn using the named driver.
func newConnector(driverName, dsn string) (driver.Connector, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	drv := db.Driver()
	_ = db.Close()

	if dc, ok := drv.(driver.DriverContext); ok {
		return dc.OpenConnector(dsn)
	}
	return dsnConnector{dsn: dsn, drv: drv}, nil
}

type dsnConnector struct {
	dsn string
	drv driver.Driver
}

func (c dsnConnector) Connect(context.Context) (driver.Conn, error) {
	return c.drv.Open(c.dsn)
}

func (c dsnConnector) Driver() driver.Driver {
	return c.drv
}

// resolveWorkingURL returns the first of the primary and backup URLs that
// accepts a connection. The test connection is closed straight away.
func resolveWorkingURL(ctx context.Context, cfg config.ConnectionConfig) (string, error) {
	var errs []error
	for _, u := range []string{cfg.URL, cfg.BackupURL} {
		if u == "" {
			continue
		}
		if err := tryURL(ctx, cfg, u); err != nil {
			errs = append(errs, err)
			continue
		}
		return u, nil
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("no url configured"))
	}
	return "", newError(ErrNoValidURL, cfg.Name, "", errors.Join(errs...))
}

func tryURL(ctx context.Context, cfg config.ConnectionConfig, u string) error {
	connector, err := newConnector(cfg.Driver, dataSourceName(u, cfg.Username, cfg.Password))
	if err != nil {
		return err
	}
	c, err := connector.Connect(ctx)
	if err != nil {
		return err
	}
	return c.Close()
}

// dataSourceName adds the configured credentials to dsn. URL data source
// names get them as user info; key=value ones get user and password pairs.
func dataSourceName(dsn, username, password string) string {
	if username == "" && password == "" {
		return dsn
	}
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.Host != "" {
		if password != "" {
			u.User = url.UserPassword(username, password)
		} else {
			u.User = url.User(username)
		}
		return u.String()
	}

	var b strings.Builder
	b.WriteString(dsn)
	if username != "" {
		b.WriteString(" user=")
		b.WriteString(quoteValue(username))
	}
	if password != "" {
		b.WriteString(" password=")
		b.WriteString(quoteValue(password))
	}
	return strings.TrimSpace(b.String())
}

func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
