package sqllib

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"sync"

	"github.com/rs/zerolog"
)

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithFS makes the cache read locations from fsys instead of the operating
// system.
func WithFS(fsys fs.FS) CacheOption {
	return func(c *Cache) {
		c.read = func(location string) ([]byte, error) {
			return fs.ReadFile(fsys, location)
		}
	}
}

func WithLogger(l zerolog.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = l
	}
}

// Cache loads each library once and keeps it by location. It is safe for
// concurrent use.
type Cache struct {
	read   func(location string) ([]byte, error)
	logger zerolog.Logger

	mu   sync.RWMutex
	libs map[string]*Library
}

func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		read:   os.ReadFile,
		logger: zerolog.Nop(),
		libs:   make(map[string]*Library),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the library at location, loading it on first use.
func (c *Cache) Get(location string) (*Library, error) {
	c.mu.RLock()
	lib, ok := c.libs[location]
	c.mu.RUnlock()
	if ok {
		return lib, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if lib, ok := c.libs[location]; ok {
		return lib, nil
	}
	lib, err := c.load(location)
	if err != nil {
		return nil, err
	}
	c.libs[location] = lib
	return lib, nil
}

// Load parses r as the library name unless a library of that name is
// cached already.
func (c *Cache) Load(name string, r io.Reader) (*Library, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lib, ok := c.libs[name]; ok {
		return lib, nil
	}
	lib, err := Parse(name, r)
	if err != nil {
		return nil, err
	}
	c.libs[name] = lib
	return lib, nil
}

// Reload reads location again and replaces the cached library. The cached
// library is kept when reading fails.
func (c *Cache) Reload(location string) (*Library, error) {
	lib, err := c.load(location)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.libs[location] = lib
	c.mu.Unlock()
	return lib, nil
}

// Forget drops the library at location from the cache.
func (c *Cache) Forget(location string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.libs, location)
}

// Clear drops every cached library.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.libs)
}

// Locations returns the sorted locations of the cached libraries.
func (c *Cache) Locations() []string {
	c.mu.RLock()
	locs := make([]string, 0, len(c.libs))
	for loc := range c.libs {
		locs = append(locs, loc)
	}
	c.mu.RUnlock()
	slices.Sort(locs)
	return locs
}

func (c *Cache) load(location string) (*Library, error) {
	data, err := c.read(location)
	if err != nil {
		return nil, fmt.Errorf("failed to read library %s: %w", location, err)
	}
	lib, err := Parse(location, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	c.logger.Debug().
		Str("location", location).
		Bool("xml", isXML(data)).
		Int("statements", len(lib.statements)).
		Msg("loaded sql library")
	return lib, nil
}
