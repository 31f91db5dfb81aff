// Package config holds the per-synonym connection settings and the sources
// they are read from.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ExhaustedAction decides what a borrow does when every connection of a pool
// is lent out.
type ExhaustedAction int

const (
	// Fail returns an error immediately.
	Fail ExhaustedAction = iota
	// Block waits up to MaxWait for a connection to be returned.
	Block
	// Grow opens an extra connection beyond MaxActive.
	Grow
)

func (a ExhaustedAction) String() string {
	switch a {
	case Fail:
		return "fail"
	case Block:
		return "block"
	case Grow:
		return "grow"
	default:
		return "unknown(" + strconv.Itoa(int(a)) + ")"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a ExhaustedAction) MarshalText() ([]byte, error) {
	if a < Fail || a > Grow {
		return nil, fmt.Errorf("invalid exhausted action %d", int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText accepts fail, block and grow in any case, and the numeric
// codes 0, 1 and 2 used by older configuration files.
func (a *ExhaustedAction) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "fail", "0":
		*a = Fail
	case "block", "1":
		*a = Block
	case "grow", "2":
		*a = Grow
	default:
		return fmt.Errorf("invalid exhausted action %q", string(text))
	}
	return nil
}

// ConnectionConfig holds the settings of one synonym's pool.
type ConnectionConfig struct {
	// Name is the synonym this configuration is registered under.
	Name string `koanf:"name" validate:"required"`

	// Driver is the name of a registered database/sql driver, for example
	// "pgx" or "postgres".
	Driver string `koanf:"driver"`

	// URL is the primary data source name. BackupURL is tried when the
	// primary is unreachable at pool creation.
	URL       string `koanf:"url"`
	BackupURL string `koanf:"backup_url"`

	Username string `koanf:"username"`
	Password string `koanf:"password"`

	// ValidationQuery is run to test a connection. When empty the driver's
	// ping is used instead.
	ValidationQuery string `koanf:"validation_query"`

	MaxActive int             `koanf:"max_active" validate:"gte=1"`
	MaxIdle   int             `koanf:"max_idle" validate:"gte=0"`
	MaxWait   time.Duration   `koanf:"max_wait"`
	Exhausted ExhaustedAction `koanf:"exhausted" validate:"gte=0,lte=2"`

	TestOnBorrow  bool `koanf:"test_on_borrow"`
	TestOnReturn  bool `koanf:"test_on_return"`
	TestWhileIdle bool `koanf:"test_while_idle"`

	// EvictionInterval is the period of the idle eviction run; zero disables
	// eviction.
	EvictionInterval    time.Duration `koanf:"eviction_interval" validate:"gte=0"`
	MinEvictableIdle    time.Duration `koanf:"min_evictable_idle" validate:"gte=0"`
	TestsPerEvictionRun int           `koanf:"tests_per_eviction_run"`

	// CachedStatements is the number of prepared statements kept per
	// connection. Zero disables the cache.
	CachedStatements int `koanf:"cached_statements" validate:"gte=0"`

	// WorkingURL is whichever of URL and BackupURL answered when the pool was
	// created. It is never read from configuration.
	WorkingURL string `koanf:"-"`
}

// Defaults returns the settings applied to a synonym before its own keys.
func Defaults() ConnectionConfig {
	return ConnectionConfig{
		MaxActive:           8,
		MaxIdle:             8,
		Exhausted:           Fail,
		TestOnBorrow:        true,
		TestsPerEvictionRun: 3,
		MinEvictableIdle:    30 * time.Minute,
	}
}

// Clone returns an independent copy of c.
func (c ConnectionConfig) Clone() ConnectionConfig {
	return c
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the pool sizing fields. A missing driver is reported by the
// pool itself when it is created.
func (c *ConnectionConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config for %q: %w", c.Name, err)
	}
	return nil
}
