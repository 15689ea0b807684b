// Package memory is an in-process timestamp store. Values are lost on exit,
// so it suits tests and single-shot runs where cooldowns need not survive a
// restart.
package memory

import (
	"context"
	"sync"
	"time"
)

// Store keeps unix-second timestamps in a map.
type Store struct {
	mu     sync.Mutex
	values map[string]int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{values: make(map[string]int64)}
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[key]
	return ok, nil
}

func (s *Store) PutForever(ctx context.Context, key string, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.values[key] = t.Unix()
	s.mu.Unlock()
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.Unix(v, 0), true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
	return nil
}

// MarkIfElapsed writes now under key when the key is absent or at least gap
// older than now.
func (s *Store) MarkIfElapsed(ctx context.Context, key string, now time.Time, gap time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.values[key]; ok && v > now.Unix()-int64(gap/time.Second) {
		return false, nil
	}
	s.values[key] = now.Unix()
	return true, nil
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}
