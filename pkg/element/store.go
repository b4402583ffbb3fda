// Package element holds the per-session mapping from element names to
// ordered locator values. Insertion order within a list encodes fallback
// priority: the first value is tried first.
package element

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/optics-suite/optics/pkg/errcode"
)

// Store maps element names to ordered locator value lists. Safe for
// concurrent use; the scheduler writes, HTTP readers read.
type Store struct {
	mu     sync.RWMutex
	values map[string][]string
	logger *slog.Logger
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		values: make(map[string][]string),
		logger: logger,
	}
}

// Add appends value to the list stored under name, creating the list when
// absent.
func (s *Store) Add(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = append(s.values[name], value)
}

// AddAll appends every value to the list stored under name.
func (s *Store) AddAll(name string, values []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = append(s.values[name], values...)
}

// Set replaces the list stored under name.
func (s *Store) Set(name string, values []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = append([]string(nil), values...)
}

// Remove deletes name entirely. Removal is total: there is no partial list
// left behind.
func (s *Store) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, name)
}

// Get returns a copy of the value list for name, or nil when absent. An
// existing key never maps to an empty list.
func (s *Store) Get(name string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vals, ok := s.values[name]
	if !ok || len(vals) == 0 {
		return nil
	}
	return append([]string(nil), vals...)
}

// GetFirst returns the highest-priority value for name.
func (s *Store) GetFirst(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vals, ok := s.values[name]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// Len returns the number of stored names.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Names returns all stored names, sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of the whole mapping.
func (s *Store) Snapshot() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string, len(s.values))
	for name, vals := range s.values {
		out[name] = append([]string(nil), vals...)
	}
	return out
}

// Resolver attempts one stored value and returns a result or an error.
type Resolver func(value string) (any, error)

// FallbackOptions tune ResolveWithFallback.
type FallbackOptions struct {
	// OnError is invoked after each failed attempt with the error and the
	// value that failed. Optional.
	OnError func(err error, value string)
	// MaxAttempts bounds how many stored values are tried; 0 tries all.
	MaxAttempts int
}

// ResolveWithFallback iterates the values stored under name in priority
// order, invoking resolver on each, and returns the first success. A missing
// name is E0201; exhausting every value is X0201 carrying the attempt count.
func (s *Store) ResolveWithFallback(name string, resolver Resolver, opts FallbackOptions) (any, error) {
	vals := s.Get(name)
	if vals == nil {
		return nil, errcode.New(errcode.ElementNotFound).WithDetails(name)
	}
	if opts.MaxAttempts > 0 && len(vals) > opts.MaxAttempts {
		vals = vals[:opts.MaxAttempts]
	}

	var lastErr error
	for _, v := range vals {
		result, err := resolver(v)
		if err == nil {
			return result, nil
		}
		lastErr = err
		s.logger.Debug("Fallback value failed", "element", name, "value", v, "error", err)
		if opts.OnError != nil {
			opts.OnError(err, v)
		}
	}

	e := errcode.Newf(errcode.ElementExhausted,
		"Element %q not found after %d attempts", name, len(vals)).
		WithMeta("attempts", len(vals))
	e.Cause = lastErr
	return nil, e
}
