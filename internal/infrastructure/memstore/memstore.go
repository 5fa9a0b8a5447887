// Package memstore keeps process-local pending requests. Contents do not
// survive a restart.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hermitshell/hermitshell/internal/infrastructure/clock"
)

var ErrDuplicate = errors.New("memstore: key already present")

// Item is anything keyed and expirable.
type Item interface {
	Key() string
	Expired(now time.Time) bool
}

// Store is a mutex-guarded map. Take and TakeExpired delete under the lock,
// so each item is handed out at most once.
type Store[V Item] struct {
	mu    sync.Mutex
	items map[string]V
	order map[string]int64
	seq   int64
	clock clock.Clock
}

func New[V Item](c clock.Clock) *Store[V] {
	if c == nil {
		c = clock.Real()
	}
	return &Store[V]{
		items: make(map[string]V),
		order: make(map[string]int64),
		clock: c,
	}
}

func (s *Store[V]) Put(_ context.Context, v V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := v.Key()
	if _, ok := s.items[k]; ok {
		return ErrDuplicate
	}
	s.seq++
	s.items[k] = v
	s.order[k] = s.seq
	return nil
}

// Get returns a live item. Expired items are reported missing but left for
// TakeExpired to collect.
func (s *Store[V]) Get(_ context.Context, key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if !ok || v.Expired(s.clock.Now()) {
		var zero V
		return zero, false
	}
	return v, true
}

// Take removes and returns a live item.
func (s *Store[V]) Take(_ context.Context, key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero V
	v, ok := s.items[key]
	if !ok || v.Expired(s.clock.Now()) {
		return zero, false
	}
	s.deleteLocked(key)
	return v, true
}

// List returns live items in insertion order.
func (s *Store[V]) List(_ context.Context) []V {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	out := make([]V, 0, len(s.items))
	for _, v := range s.items {
		if !v.Expired(now) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.order[out[i].Key()] < s.order[out[j].Key()]
	})
	return out
}

func (s *Store[V]) TakeExpired(_ context.Context, now time.Time) []V {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []V
	for k, v := range s.items {
		if v.Expired(now) {
			out = append(out, v)
			s.deleteLocked(k)
		}
	}
	return out
}

func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store[V]) deleteLocked(key string) {
	delete(s.items, key)
	delete(s.order, key)
}
