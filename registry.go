package dbcon

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/yuku/dbcon/config"
)

// ConfigDecorator adjusts the configuration of every pool a Registry creates.
type ConfigDecorator func(config.ConnectionConfig) config.ConnectionConfig

// Option configures a Registry.
type Option func(*Registry)

// WithSource makes the registry read configurations from src.
func WithSource(src config.Source) Option {
	return func(r *Registry) {
		r.resolve = func() (config.Source, error) { return src, nil }
	}
}

// WithSourceFunc makes the registry call fn for its configuration source.
// fn is called again after Reset.
func WithSourceFunc(fn func() (config.Source, error)) Option {
	return func(r *Registry) {
		r.resolve = fn
	}
}

// WithConfigDecorator applies fn to every configuration before a pool is
// built from it.
func WithConfigDecorator(fn ConfigDecorator) Option {
	return func(r *Registry) {
		r.decorate = fn
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

func WithObserver(o Observer) Option {
	return func(r *Registry) {
		r.observer = o
	}
}

// Registry maps synonyms to lazily created pools. Each synonym has at most
// one pool at a time; creation and destruction of a synonym are serialized
// while other synonyms proceed independently.
type Registry struct {
	logger   zerolog.Logger
	observer Observer
	decorate ConfigDecorator
	resolve  func() (config.Source, error)

	srcMu sync.Mutex
	src   config.Source

	mu    sync.RWMutex
	pools map[string]*Pool
	locks keyedMutex
}

// NewRegistry creates an empty registry. Without a source option it reads
// config.FileSource with default options on first use.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		logger:   zerolog.Nop(),
		observer: nopObserver{},
		pools:    make(map[string]*Pool),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.observer == nil {
		r.observer = nopObserver{}
	}
	if r.resolve == nil {
		log := r.logger
		r.resolve = func() (config.Source, error) {
			return config.NewFileSource(config.FileOptions{Logger: &log})
		}
	}
	return r
}

func (r *Registry) source() (config.Source, error) {
	r.srcMu.Lock()
	defer r.srcMu.Unlock()
	if r.src != nil {
		return r.src, nil
	}
	src, err := r.resolve()
	if err != nil {
		return nil, newError(ErrConfiguration, "", "failed to load configuration source", err)
	}
	r.src = src
	return src, nil
}

func (r *Registry) config(name string) (config.ConnectionConfig, error) {
	src, err := r.source()
	if err != nil {
		return config.ConnectionConfig{}, err
	}
	cfg, err := src.Config(name)
	if err != nil {
		return config.ConnectionConfig{}, newError(ErrConfiguration, name, "", err)
	}
	if r.decorate != nil {
		cfg = r.decorate(cfg.Clone())
	}
	return cfg, nil
}

func (r *Registry) loaded(name string) *Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pools[name]
}

// Pool returns the ready pool of name, creating and initialising it on first
// use. Concurrent callers for the same name get the same pool, and at most
// one of them builds it. A failed initialisation leaves nothing behind, so
// a later call tries again.
func (r *Registry) Pool(ctx context.Context, name string) (*Pool, error) {
	if p := r.loaded(name); p != nil {
		return p, nil
	}

	unlock := r.locks.lock(name)
	defer unlock()

	if p := r.loaded(name); p != nil {
		return p, nil
	}

	cfg, err := r.config(name)
	if err != nil {
		return nil, err
	}
	p := newPool(cfg, r.logger, r.observer)
	if err := p.Init(ctx); err != nil {
		r.logger.Error().Err(err).Str("synonym", name).Msg("failed to create pool")
		return nil, err
	}

	r.mu.Lock()
	r.pools[name] = p
	r.mu.Unlock()

	r.observer.ObservePoolEvent(name, EventCreated)
	return p, nil
}

// Conn borrows a connection from the pool of name.
func (r *Registry) Conn(ctx context.Context, name string) (*Conn, error) {
	p, err := r.Pool(ctx, name)
	if err != nil {
		return nil, err
	}
	return p.Conn(ctx)
}

// IsSynonymKnown reports whether the configuration source knows name.
func (r *Registry) IsSynonymKnown(name string) bool {
	src, err := r.source()
	if err != nil {
		r.logger.Warn().Err(err).Msg("configuration source unavailable")
		return false
	}
	return src.Check(name)
}

// AvailableNames returns the synonyms of the configuration source.
func (r *Registry) AvailableNames() ([]string, error) {
	src, err := r.source()
	if err != nil {
		return nil, err
	}
	names, err := src.AvailableNames()
	if err != nil {
		return nil, newError(ErrConfiguration, "", "failed to list synonyms", err)
	}
	return names, nil
}

// LoadedNames returns the sorted synonyms that currently have a pool.
func (r *Registry) LoadedNames() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.pools))
	for name := range r.pools {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// LoadedPool returns the pool of name without creating it.
func (r *Registry) LoadedPool(name string) (*Pool, bool) {
	p := r.loaded(name)
	return p, p != nil
}

// DestroyNamedPool removes and destroys the pool of name. It does nothing
// when name has no pool. The next Pool call for name builds a new one.
func (r *Registry) DestroyNamedPool(name string) {
	unlock := r.locks.lock(name)
	defer unlock()

	r.mu.Lock()
	p, ok := r.pools[name]
	delete(r.pools, name)
	r.mu.Unlock()
	if !ok {
		return
	}

	p.Destroy()
	r.observer.ObservePoolEvent(name, EventDestroyed)
}

// DestroyAllPools destroys the pool of every synonym, configured or loaded.
// The configuration is kept.
func (r *Registry) DestroyAllPools() {
	names := r.LoadedNames()
	if available, err := r.AvailableNames(); err != nil {
		r.logger.Warn().Err(err).Msg("failed to list configured synonyms")
	} else {
		names = append(names, available...)
	}
	slices.Sort(names)
	for _, name := range slices.Compact(names) {
		r.DestroyNamedPool(name)
	}
}

// Reset destroys every pool and reloads the configuration source.
func (r *Registry) Reset() {
	r.DestroyAllPools()

	r.srcMu.Lock()
	src := r.src
	r.src = nil
	r.srcMu.Unlock()

	if src != nil {
		if err := src.Reload(); err != nil {
			r.logger.Error().Err(err).Msg("failed to reload configuration source")
		}
	}
}

// Close destroys every loaded pool.
func (r *Registry) Close() error {
	for _, name := range r.LoadedNames() {
		r.DestroyNamedPool(name)
	}
	return nil
}

// PoolStatus renders the status of the pool of name.
func (r *Registry) PoolStatus(name string) string {
	p := r.loaded(name)
	if p == nil {
		return notInitialisedStatus(name)
	}
	return p.Status()
}

// PoolStats returns the statistics of the pool of name, if loaded.
func (r *Registry) PoolStats(name string) (Stats, bool) {
	p := r.loaded(name)
	if p == nil {
		return Stats{}, false
	}
	return p.Stats(), true
}

// ActiveConnections returns the number of lent connections of name, or -1
// when name has no pool.
func (r *Registry) ActiveConnections(name string) int {
	if s, ok := r.PoolStats(name); ok {
		return s.Active
	}
	return -1
}

// IdleConnections returns the number of idle connections of name, or -1
// when name has no pool.
func (r *Registry) IdleConnections(name string) int {
	if s, ok := r.PoolStats(name); ok {
		return s.Idle
	}
	return -1
}

// DataSource returns a handle on the pool of name. The pool is created on
// first use of the handle.
func (r *Registry) DataSource(name string) *DataSource {
	return &DataSource{registry: r, name: name}
}

// keyedMutex is a set of mutexes indexed by name. Entries live only while
// someone holds or waits for them.
type keyedMutex struct {
	mu sync.Mutex
	m  map[string]*keyedEntry
}

type keyedEntry struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(name string) (unlock func()) {
	k.mu.Lock()
	if k.m == nil {
		k.m = make(map[string]*keyedEntry)
	}
	e := k.m[name]
	if e == nil {
		e = &keyedEntry{}
		k.m[name] = e
	}
	e.refs++
	k.mu.Unlock()

	e.Lock()
	return func() {
		e.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.m, name)
		}
		k.mu.Unlock()
	}
}
