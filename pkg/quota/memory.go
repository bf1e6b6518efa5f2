package quota

import (
	"context"
	"sync"
	"time"
)

// counter is one client's usage on Date.
type counter struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// memoryStore keeps counters in a map. The file driver reuses it with a
// persist hook that runs under the lock after every change.
type memoryStore struct {
	mu       sync.Mutex
	counters map[string]counter
	max      int
	now      func() time.Time
	persist  func(map[string]counter) error
}

func newMemoryStore(o *options) *memoryStore {
	return &memoryStore{
		counters: make(map[string]counter),
		max:      o.dailyMax,
		now:      o.now,
	}
}

func (s *memoryStore) countLocked(clientID, date string) int {
	c, ok := s.counters[clientID]
	if !ok || c.Date != date {
		return 0
	}
	return c.Count
}

// Check implements Store.
func (s *memoryStore) Check(ctx context.Context, clientID string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	date, _ := day(now)
	return newStatus(clientID, now, s.countLocked(clientID, date), s.max), nil
}

// Consume implements Store.
func (s *memoryStore) Consume(ctx context.Context, clientID string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	date, _ := day(now)
	n := s.countLocked(clientID, date)
	if n >= s.max {
		return newStatus(clientID, now, n, s.max), ErrExhausted
	}

	prev, existed := s.counters[clientID]
	s.counters[clientID] = counter{Date: date, Count: n + 1}
	if s.persist != nil {
		if err := s.persist(s.snapshotLocked(date)); err != nil {
			if existed {
				s.counters[clientID] = prev
			} else {
				delete(s.counters, clientID)
			}
			return newStatus(clientID, now, n, s.max), err
		}
	}
	return newStatus(clientID, now, n+1, s.max), nil
}

// snapshotLocked copies today's counters; stale days are dropped.
func (s *memoryStore) snapshotLocked(date string) map[string]counter {
	out := make(map[string]counter, len(s.counters))
	for id, c := range s.counters {
		if c.Date == date {
			out[id] = c
		}
	}
	return out
}

// Close implements Store.
func (s *memoryStore) Close() error {
	return nil
}
