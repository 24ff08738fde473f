package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"aevrt/pkg/task"
)

const defaultMemoryCap = 1000

// MemoryStore keeps a bounded in-memory window of records, oldest dropped
// first. Suitable for tests and single-process deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	recs  []Record
	cap   int
	clock clockwork.Clock
}

// NewMemoryStore builds a store bounded at capacity (<=0 uses the default).
func NewMemoryStore(capacity int, clock clockwork.Clock) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultMemoryCap
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{cap: capacity, clock: clock}
}

func (s *MemoryStore) Append(_ context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock.Now()
	}
	s.mu.Lock()
	s.recs = append(s.recs, rec)
	if len(s.recs) > s.cap {
		s.recs = s.recs[len(s.recs)-s.cap:]
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Since(_ context.Context, typ task.Type, window time.Duration) ([]Record, error) {
	cutoff := s.clock.Now().Add(-window)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for i := len(s.recs) - 1; i >= 0; i-- {
		r := s.recs[i]
		if r.CreatedAt.Before(cutoff) {
			continue
		}
		if r.TaskType != typ {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *MemoryStore) Recent(_ context.Context, typ task.Type, n int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for i := len(s.recs) - 1; i >= 0 && len(out) < n; i-- {
		r := s.recs[i]
		if typ != task.TypeUnknown && r.TaskType != typ {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
