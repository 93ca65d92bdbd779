package config

import (
	"sync"
	"sync/atomic"
)

// Store holds the active configuration. Readers get an immutable snapshot;
// Reload builds a fresh value and swaps it in atomically.
type Store struct {
	path   string
	lookup func(string) (string, bool)

	mu      sync.Mutex
	current atomic.Pointer[Config]
}

// NewStore loads the config at path and returns a Store serving it.
func NewStore(path string, lookup func(string) (string, bool)) (*Store, error) {
	s := &Store{path: path, lookup: lookup}
	cfg, err := LoadWithEnv(path, lookup)
	if err != nil {
		return nil, err
	}
	s.current.Store(&cfg)
	return s, nil
}

// NewStaticStore wraps an already built Config; Reload keeps returning it.
func NewStaticStore(cfg Config) *Store {
	s := &Store{}
	s.current.Store(&cfg)
	return s
}

// Current returns the active configuration snapshot.
func (s *Store) Current() Config {
	return *s.current.Load()
}

// Reload re-reads file and environment. On error the previous snapshot stays active.
func (s *Store) Reload() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" && s.lookup == nil {
		return s.Current(), nil
	}
	cfg, err := LoadWithEnv(s.path, s.lookup)
	if err != nil {
		return s.Current(), err
	}
	s.current.Store(&cfg)
	return cfg, nil
}
