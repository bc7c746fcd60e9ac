package storage

import (
	"context"
	"strings"
	"sync"
)

// memoryStore keeps everything in process memory.
type memoryStore struct {
	keep int

	mu      sync.Mutex
	closed  bool
	fires   map[string][]FireRecord // oldest first, at most keep
	counts  map[string]int
	anchors map[string]Anchor
}

// NewMemory returns a Store that lives as long as the process.
func NewMemory(keepFires int) Store {
	if keepFires <= 0 {
		keepFires = DefaultKeepFires
	}
	return &memoryStore{
		keep:    keepFires,
		fires:   map[string][]FireRecord{},
		counts:  map[string]int{},
		anchors: map[string]Anchor{},
	}
}

func (s *memoryStore) RecordFire(ctx context.Context, r FireRecord) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	stampFire(&r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.fires[r.Plan] = appendBounded(s.fires[r.Plan], r, s.keep)
	s.counts[r.Plan]++
	return nil
}

func (s *memoryStore) ListFires(ctx context.Context, plan string, limit int) ([]FireRecord, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return newestFirst(s.fires[plan], limit), nil
}

func (s *memoryStore) FireCount(ctx context.Context, plan string) (int, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.counts[plan], nil
}

func (s *memoryStore) GetAnchor(ctx context.Context, plan string) (Anchor, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return Anchor{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Anchor{}, false, ErrClosed
	}
	a, ok := s.anchors[plan]
	return a, ok, nil
}

func (s *memoryStore) PutAnchor(ctx context.Context, a Anchor) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	a.Plan = strings.TrimSpace(a.Plan)
	if a.Plan == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.anchors[a.Plan] = a
	return nil
}

func (s *memoryStore) DeleteAnchor(ctx context.Context, plan string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.anchors, plan)
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func appendBounded(buf []FireRecord, r FireRecord, keep int) []FireRecord {
	buf = append(buf, r)
	if len(buf) > keep {
		buf = append(buf[:0], buf[len(buf)-keep:]...)
	}
	return buf
}

func newestFirst(buf []FireRecord, limit int) []FireRecord {
	if limit <= 0 || limit > len(buf) {
		limit = len(buf)
	}
	out := make([]FireRecord, 0, limit)
	for i := len(buf) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, buf[i])
	}
	return out
}
