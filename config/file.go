package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

const (
	// LocationsEnv lists configuration files, comma separated, when
	// FileOptions.Locations is empty.
	LocationsEnv = "DBCON_CONFIG_LOCATIONS"

	// DefaultLocation is read when neither FileOptions.Locations nor
	// LocationsEnv name any file.
	DefaultLocation = "dbcon.yaml"

	// DefaultEnvPrefix is the prefix of environment overrides, for example
	// DBCON_DATABASES__REPORTS__PASSWORD.
	DefaultEnvPrefix = "DBCON_"

	rootKey = "databases"
)

// FileOptions configures a FileSource.
type FileOptions struct {
	// Locations are read in order; keys in later files override earlier
	// ones. Missing files are skipped.
	Locations []string

	// EnvPrefix selects the environment overrides. Defaults to
	// DefaultEnvPrefix. Set DisableEnv to ignore the environment.
	EnvPrefix  string
	DisableEnv bool

	Logger *zerolog.Logger
}

// FileSource reads synonyms from YAML or TOML files laid out as
//
//	databases:
//	  reports:
//	    driver: pgx
//	    url: postgres://db1/reports
//	    max_active: 4
//
// Durations are Go duration strings such as "500ms" or "10m". Synonyms must
// not contain dots.
type FileSource struct {
	opts   FileOptions
	logger zerolog.Logger

	mu sync.RWMutex
	k  *koanf.Koanf
}

// NewFileSource reads every location once and returns the source.
func NewFileSource(opts FileOptions) (*FileSource, error) {
	s := &FileSource{opts: opts, logger: zerolog.Nop()}
	if opts.Logger != nil {
		s.logger = *opts.Logger
	}
	if s.opts.EnvPrefix == "" {
		s.opts.EnvPrefix = DefaultEnvPrefix
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Locations returns the files the source reads, in precedence order.
func (s *FileSource) Locations() []string {
	if len(s.opts.Locations) > 0 {
		return append([]string(nil), s.opts.Locations...)
	}
	if v := os.Getenv(LocationsEnv); v != "" {
		var locs []string
		for _, loc := range strings.Split(v, ",") {
			if loc = strings.TrimSpace(loc); loc != "" {
				locs = append(locs, loc)
			}
		}
		if len(locs) > 0 {
			return locs
		}
	}
	return []string{DefaultLocation}
}

// Reload re-reads every location. The previous settings stay in use when
// reading fails.
func (s *FileSource) Reload() error {
	k, err := s.load()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.k = k
	s.mu.Unlock()
	return nil
}

func (s *FileSource) load() (*koanf.Koanf, error) {
	k := koanf.New(".")
	for _, loc := range s.Locations() {
		parser, err := parserFor(loc)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(loc); errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug().Str("location", loc).Msg("config location not found, skipping")
			continue
		}
		if err := k.Load(file.Provider(loc), parser); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", loc, err)
		}
		s.logger.Debug().Str("location", loc).Msg("config location loaded")
	}

	if !s.opts.DisableEnv {
		prefix := s.opts.EnvPrefix
		if err := k.Load(env.Provider(prefix, ".", func(key string) string {
			return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, prefix)), "__", ".")
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load environment overrides: %w", err)
		}
	}
	return k, nil
}

func parserFor(loc string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(loc)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".toml":
		return TOMLParser(), nil
	default:
		return nil, fmt.Errorf("unsupported config format for %s", loc)
	}
}

func (s *FileSource) snapshot() *koanf.Koanf {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.k
}

func (s *FileSource) AvailableNames() ([]string, error) {
	return s.snapshot().MapKeys(rootKey), nil
}

func (s *FileSource) Config(name string) (ConnectionConfig, error) {
	path := rootKey + "." + name
	k := s.snapshot()
	if name == "" || strings.Contains(name, ".") || !k.Exists(path) {
		return ConnectionConfig{}, fmt.Errorf("%w: %q", ErrUnknownSynonym, name)
	}

	merged := koanf.New(".")
	if err := merged.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return ConnectionConfig{}, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := merged.Merge(k.Cut(path)); err != nil {
		return ConnectionConfig{}, fmt.Errorf("failed to merge config for %q: %w", name, err)
	}
	if err := merged.Set("name", name); err != nil {
		return ConnectionConfig{}, fmt.Errorf("failed to set name: %w", err)
	}

	var c ConnectionConfig
	if err := merged.Unmarshal("", &c); err != nil {
		return ConnectionConfig{}, fmt.Errorf("failed to unmarshal config for %q: %w", name, err)
	}
	if err := c.Validate(); err != nil {
		return ConnectionConfig{}, err
	}
	return c, nil
}

func (s *FileSource) Check(name string) bool {
	_, err := s.Config(name)
	return err == nil
}
