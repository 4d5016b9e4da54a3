package service

import (
	"errors"
	"sync"
	"time"

	"github.com/noah-isme/studyplan-api/pkg/clock"
)

var (
	errEntryMissing = errors.New("entry missing or expired")
	errEntryClaimed = errors.New("entry already claimed")
)

type ttlEntry[T any] struct {
	value     T
	expiresAt time.Time
	claimed   bool
}

// ttlStore is an in-memory map whose entries expire after ttl. An entry can be
// claimed by one caller at a time, which is how a proposal token is kept from
// executing twice.
type ttlStore[T any] struct {
	ttl   time.Duration
	clock clock.Clock
	mu    sync.RWMutex
	items map[string]ttlEntry[T]
}

func newTTLStore[T any](ttl time.Duration, clk clock.Clock) *ttlStore[T] {
	if clk == nil {
		clk = clock.NewReal("")
	}
	return &ttlStore[T]{
		ttl:   ttl,
		clock: clk,
		items: make(map[string]ttlEntry[T]),
	}
}

// Put stores value under id, resetting its expiry.
func (s *ttlStore[T]) Put(id string, value T) time.Time {
	expiresAt := s.clock.Now().Add(s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.items[id]
	entry.value = value
	entry.expiresAt = expiresAt
	s.items[id] = entry
	return expiresAt
}

// Update replaces an unexpired value with fn's result under the store lock and
// resets its expiry. fn must not block. When fn fails nothing is written.
func (s *ttlStore[T]) Update(id string, fn func(T) (T, error)) (T, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	entry, ok := s.items[id]
	if !ok || s.expired(entry) {
		delete(s.items, id)
		return zero, time.Time{}, errEntryMissing
	}
	next, err := fn(entry.value)
	if err != nil {
		return zero, time.Time{}, err
	}
	entry.value = next
	entry.expiresAt = s.clock.Now().Add(s.ttl)
	s.items[id] = entry
	return next, entry.expiresAt, nil
}

// Get returns an unexpired value.
func (s *ttlStore[T]) Get(id string) (T, bool) {
	s.mu.RLock()
	entry, ok := s.items[id]
	s.mu.RUnlock()
	if !ok || s.expired(entry) {
		var zero T
		if ok {
			s.Delete(id)
		}
		return zero, false
	}
	return entry.value, true
}

// Claim marks an unexpired entry as taken and returns its value.
func (s *ttlStore[T]) Claim(id string) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	entry, ok := s.items[id]
	if !ok || s.expired(entry) {
		delete(s.items, id)
		return zero, errEntryMissing
	}
	if entry.claimed {
		return zero, errEntryClaimed
	}
	entry.claimed = true
	s.items[id] = entry
	return entry.value, nil
}

// Release makes a claimed entry available again.
func (s *ttlStore[T]) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.items[id]; ok {
		entry.claimed = false
		s.items[id] = entry
	}
}

// Delete drops an entry.
func (s *ttlStore[T]) Delete(id string) {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
}

// Purge drops expired, unclaimed entries and reports how many were removed.
func (s *ttlStore[T]) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, entry := range s.items {
		if !entry.claimed && s.expired(entry) {
			delete(s.items, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (s *ttlStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *ttlStore[T]) expired(entry ttlEntry[T]) bool {
	return s.ttl > 0 && s.clock.Now().After(entry.expiresAt)
}
