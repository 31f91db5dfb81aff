package dbcon

import (
	"time"

	"github.com/yuku/dbcon/config"
)

// SingletonConfig returns a copy of cfg restricted to one connection that is
// never shared: a second borrow fails straight away and the idle connection
// is validated only by the evictor, every ten minutes.
func SingletonConfig(cfg config.ConnectionConfig) config.ConnectionConfig {
	c := cfg.Clone()
	c.Exhausted = config.Fail
	c.MaxActive = 1
	c.MaxIdle = 1
	c.MaxWait = time.Millisecond
	c.TestsPerEvictionRun = 1
	c.TestOnBorrow = false
	c.TestOnReturn = false
	c.TestWhileIdle = true
	c.EvictionInterval = 10 * time.Minute
	return c
}

// NewSingletonRegistry creates a registry whose pools all use
// SingletonConfig. It is independent of any other registry.
func NewSingletonRegistry(opts ...Option) *Registry {
	return NewRegistry(append(opts, WithConfigDecorator(SingletonConfig))...)
}
