// Package kvfile implements a small namespaced key-value store persisted as
// one JSON file per namespace. It is the Go stand-in for the simple
// string-keyed storage the registry and the local durable store mirror into:
// cheap, human-inspectable, and independent of the structured database so
// that losing one mechanism never loses the other.
//
// Writes go through a write-to-temp-then-rename so a crash mid-write leaves
// the previous file intact. When the backing directory is unusable the store
// degrades to an in-memory map for the life of the process.
package kvfile

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("kvfile: key not found")

// Store is a single-namespace key-value store. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	path     string // "" when running memory-only
	data     map[string]json.RawMessage
	memOnly  bool
	loadOnce sync.Once
}

// Open binds a store to <dir>/<namespace>.json, loading any existing
// content lazily on first access. A directory that cannot be created makes
// the store memory-only; that is a logged degradation, not an error.
func Open(dir, namespace string) *Store {
	s := &Store{data: make(map[string]json.RawMessage)}
	if dir == "" {
		s.memOnly = true
		return s
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("kvfile: directory unavailable, running in memory only")
		s.memOnly = true
		return s
	}
	s.path = filepath.Join(dir, namespace+".json")
	return s
}

func (s *Store) load() {
	s.loadOnce.Do(func() {
		if s.memOnly || s.path == "" {
			return
		}
		raw, err := os.ReadFile(s.path)
		if err != nil {
			return // first run, or unreadable: start empty
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			log.Warn().Err(err).Str("path", s.path).Msg("kvfile: corrupt namespace file, starting empty")
			return
		}
		s.data = m
	})
}

// Put stores v (JSON-encoded) under key and flushes the namespace file.
func (s *Store) Put(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.load()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = raw
	return s.flushLocked()
}

// Get decodes the value under key into out.
func (s *Store) Get(key string, out any) error {
	s.load()
	s.mu.RLock()
	raw, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

// Delete removes key. Deleting an absent key is a no-op.
func (s *Store) Delete(key string) error {
	s.load()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.flushLocked()
}

// Keys returns every key currently present, in no particular order.
func (s *Store) Keys() []string {
	s.load()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	return out
}

// Clear drops every key in the namespace. Used by quota recovery.
func (s *Store) Clear() error {
	s.load()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]json.RawMessage)
	return s.flushLocked()
}

// flushLocked writes the namespace atomically. Callers hold s.mu.
func (s *Store) flushLocked() error {
	if s.memOnly || s.path == "" {
		return nil
	}
	raw, err := json.Marshal(s.data)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
