// Package memkv is a small in-memory key/value store with per-key TTL.
// It backs the in-memory node registry and the worker result mailbox.
package memkv

import (
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Options configures a Store.
type Options struct {
	// Clock used for expiry decisions; defaults to the real clock.
	Clock clockwork.Clock
	// JanitorInterval is the sweep cadence for expired keys. 0 disables the
	// background sweep; expired keys are still dropped lazily on access.
	JanitorInterval time.Duration
}

type entry struct {
	val      []byte
	expireAt time.Time // zero = no expiry
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	m       map[string]entry
	clock   clockwork.Clock
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// New builds a store and starts the janitor when an interval is configured.
func New(opts Options) *Store {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	s := &Store{
		m:       make(map[string]entry),
		clock:   opts.Clock,
		closeCh: make(chan struct{}),
	}
	if opts.JanitorInterval > 0 {
		s.wg.Add(1)
		go s.janitor(opts.JanitorInterval)
	}
	return s
}

// Close stops the janitor. The store remains readable afterwards.
func (s *Store) Close() {
	close(s.closeCh)
	s.wg.Wait()
}

func (s *Store) janitor(every time.Duration) {
	defer s.wg.Done()
	t := s.clock.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.closeCh:
			return
		case <-t.Chan():
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	now := s.clock.Now()
	s.mu.Lock()
	for k, e := range s.m {
		if !e.expireAt.IsZero() && !e.expireAt.After(now) {
			delete(s.m, k)
		}
	}
	s.mu.Unlock()
}

func (s *Store) expired(e entry) bool {
	return !e.expireAt.IsZero() && !e.expireAt.After(s.clock.Now())
}

// Set stores a copy of val under key. ttl <= 0 means no expiry.
// Returns true when the key did not previously exist.
func (s *Store) Set(key string, val []byte, ttl time.Duration) bool {
	e := entry{val: append([]byte(nil), val...)}
	if ttl > 0 {
		e.expireAt = s.clock.Now().Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.m[key]
	s.m[key] = e
	return !ok || s.expired(old)
}

// Get returns a copy of the value, or false when absent or expired.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if s.expired(e) {
		s.Delete(key)
		return nil, false
	}
	return append([]byte(nil), e.val...), true
}

// Update applies fn to the current value (nil when absent) and stores the
// returned bytes, preserving the key's remaining TTL. fn returning nil
// deletes the key.
func (s *Store) Update(key string, fn func(old []byte) []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	var old []byte
	expireAt := time.Time{}
	if ok && !s.expired(e) {
		old = e.val
		expireAt = e.expireAt
	}
	next := fn(old)
	if next == nil {
		delete(s.m, key)
		return
	}
	s.m[key] = entry{val: append([]byte(nil), next...), expireAt: expireAt}
}

// Delete removes key; reports whether it was present.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[key]
	delete(s.m, key)
	return ok
}

// Expire resets the TTL of an existing key. ttl <= 0 clears the expiry.
func (s *Store) Expire(key string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if !ok || s.expired(e) {
		delete(s.m, key)
		return false
	}
	if ttl > 0 {
		e.expireAt = s.clock.Now().Add(ttl)
	} else {
		e.expireAt = time.Time{}
	}
	s.m[key] = e
	return true
}

// Keys returns all live keys with the given prefix, in no particular order.
func (s *Store) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.m))
	for k, e := range s.m {
		if s.expired(e) {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

// Len counts live keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.m {
		if !s.expired(e) {
			n++
		}
	}
	return n
}
