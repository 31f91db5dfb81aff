package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownSynonym is returned by Source.Config for a name the source does
// not define.
var ErrUnknownSynonym = errors.New("unknown synonym")

// Source supplies connection settings by synonym.
type Source interface {
	// AvailableNames returns every synonym the source defines, sorted.
	AvailableNames() ([]string, error)

	// Config returns the settings for name. It fails with ErrUnknownSynonym
	// when the source does not define name.
	Config(name string) (ConnectionConfig, error)

	// Check reports whether name is defined and its settings are valid.
	Check(name string) bool

	// Reload re-reads the underlying configuration.
	Reload() error
}

// StaticSource is a Source backed by an in-memory set of configurations.
type StaticSource struct {
	mu      sync.RWMutex
	configs map[string]ConnectionConfig
}

// NewStaticSource returns a source holding the given configurations, keyed by
// their Name.
func NewStaticSource(configs ...ConnectionConfig) *StaticSource {
	s := &StaticSource{configs: make(map[string]ConnectionConfig, len(configs))}
	for _, c := range configs {
		s.configs[c.Name] = c.Clone()
	}
	return s
}

// Put adds or replaces a configuration.
func (s *StaticSource) Put(c ConnectionConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[c.Name] = c.Clone()
}

// Remove deletes the configuration for name.
func (s *StaticSource) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs, name)
}

func (s *StaticSource) AvailableNames() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.configs))
	for name := range s.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *StaticSource) Config(name string) (ConnectionConfig, error) {
	s.mu.RLock()
	c, ok := s.configs[name]
	s.mu.RUnlock()
	if !ok {
		return ConnectionConfig{}, fmt.Errorf("%w: %q", ErrUnknownSynonym, name)
	}
	if err := c.Validate(); err != nil {
		return ConnectionConfig{}, err
	}
	return c.Clone(), nil
}

func (s *StaticSource) Check(name string) bool {
	_, err := s.Config(name)
	return err == nil
}

// Reload is a no-op for a static source.
func (s *StaticSource) Reload() error {
	return nil
}
