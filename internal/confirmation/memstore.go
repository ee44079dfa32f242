package confirmation

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"aide/internal/apperrors"
)

const defaultCacheSize = 4096

// MemStore is the in-process cache tier. It is backed by an LRU so an
// unbounded confirmation history cannot exhaust memory; in a dual-store
// deployment evicted entries remain readable from the durable tier.
type MemStore struct {
	cache *lru.Cache[string, *Flow]
	// mu serialises conditional transitions; the LRU alone is safe for
	// single reads and writes but not for check-then-mutate sequences.
	mu sync.Mutex
}

// NewMemStore creates a cache store holding up to size flows. A zero or
// negative size falls back to the default.
func NewMemStore(size int) (*MemStore, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, *Flow](size)
	if err != nil {
		return nil, err
	}
	return &MemStore{cache: cache}, nil
}

func (s *MemStore) Save(_ context.Context, flow *Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(flow.ID, flow.Clone())
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (*Flow, error) {
	if flow, ok := s.cache.Get(id); ok {
		return flow.Clone(), nil
	}
	return nil, &apperrors.NotFoundError{ConfirmationID: id}
}

func (s *MemStore) Transition(_ context.Context, id string, from Status, apply func(*Flow)) (*Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.cache.Peek(id)
	if !ok {
		return nil, &apperrors.NotFoundError{ConfirmationID: id}
	}
	if current.Status != from {
		return nil, &StateConflictError{ID: id, Expected: from, Current: current.Status}
	}

	updated := current.Clone()
	apply(updated)
	if updated.Status != from && !CanTransition(from, updated.Status) {
		return nil, &apperrors.IllegalTransitionError{ConfirmationID: id, From: string(from), To: string(updated.Status)}
	}
	s.cache.Add(id, updated)
	return updated.Clone(), nil
}

func (s *MemStore) Pending(_ context.Context, sessionID string) ([]*Flow, error) {
	return s.scan(func(flow *Flow) bool {
		return flow.Status == StatusPending && (sessionID == "" || flow.SessionID == sessionID)
	}), nil
}

func (s *MemStore) All(_ context.Context, sessionID string) ([]*Flow, error) {
	return s.scan(func(flow *Flow) bool {
		return sessionID == "" || flow.SessionID == sessionID
	}), nil
}

func (s *MemStore) scan(match func(*Flow) bool) []*Flow {
	s.mu.Lock()
	defer s.mu.Unlock()

	var flows []*Flow
	for _, key := range s.cache.Keys() {
		flow, ok := s.cache.Peek(key)
		if !ok {
			continue
		}
		if match(flow) {
			flows = append(flows, flow.Clone())
		}
	}
	return flows
}

// Len returns the number of cached flows.
func (s *MemStore) Len() int {
	return s.cache.Len()
}
