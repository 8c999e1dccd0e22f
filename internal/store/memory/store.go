// Package memory provides an in-memory store for development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mleenorris/ComicMaintainer-sub003/internal/store"
)

type lease struct {
	owner     string
	expiresAt time.Time
}

// Store implements store.Store with maps guarded by a mutex.
type Store struct {
	mu     sync.RWMutex
	rows   map[string]store.Row
	leases map[string]lease
	now    func() time.Time
}

// New constructs a Store.
func New() *Store {
	return &Store{
		rows:   make(map[string]store.Row),
		leases: make(map[string]lease),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Get loads a row or returns store.ErrNotFound.
func (s *Store) Get(_ context.Context, key string) (store.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[key]
	if !ok {
		return store.Row{}, store.ErrNotFound
	}
	return row, nil
}

// Set inserts or replaces a row.
func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[key] = store.Row{Key: key, Value: value, UpdatedAt: s.now()}
	return nil
}

// Delete removes a row.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, key)
	return nil
}

// List returns rows matching the prefix in key order.
func (s *Store) List(_ context.Context, prefix string) ([]store.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Row, 0)
	for key, row := range s.rows {
		if strings.HasPrefix(key, prefix) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// AcquireLease claims the lease when free, expired, or already owned.
func (s *Store) AcquireLease(_ context.Context, name, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	cur, ok := s.leases[name]
	if ok && cur.owner != owner && cur.expiresAt.After(now) {
		return false, nil
	}
	s.leases[name] = lease{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

// ReleaseLease frees the lease if owner still holds it.
func (s *Store) ReleaseLease(_ context.Context, name, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.leases[name]; ok && cur.owner == owner {
		delete(s.leases, name)
	}
	return nil
}

// Close implements store.Store; it performs no action.
func (s *Store) Close() error {
	return nil
}
