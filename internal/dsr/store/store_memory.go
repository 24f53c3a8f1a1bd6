package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"privacyhub/internal/dsr/models"
	"privacyhub/pkg/platform/sentinel"
)

// InMemoryStore keeps requests and their events in maps. Records are copied on the
// way in and out so callers cannot mutate stored state.
//
// Error Contract:
//   - FindByID and FindByVerificationHash return sentinel.ErrNotFound for unknown keys
//   - Create returns sentinel.ErrConflict for a duplicate ID or verification digest
//   - Update returns sentinel.ErrNotFound when the request does not exist
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[uuid.UUID]*models.Request
	byHash   map[string]uuid.UUID
	events   map[uuid.UUID][]*models.Event
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		requests: make(map[uuid.UUID]*models.Request),
		byHash:   make(map[string]uuid.UUID),
		events:   make(map[uuid.UUID][]*models.Event),
	}
}

func (s *InMemoryStore) Create(_ context.Context, req *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; ok {
		return sentinel.ErrConflict
	}
	if _, ok := s.byHash[req.VerificationHash]; ok {
		return sentinel.ErrConflict
	}
	s.requests[req.ID] = cloneRequest(req)
	s.byHash[req.VerificationHash] = req.ID
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneRequest(req), nil
}

func (s *InMemoryStore) FindByVerificationHash(_ context.Context, hash string) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneRequest(s.requests[id]), nil
}

func (s *InMemoryStore) Update(_ context.Context, req *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.requests[req.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if existing.VerificationHash != req.VerificationHash {
		if owner, taken := s.byHash[req.VerificationHash]; taken && owner != req.ID {
			return sentinel.ErrConflict
		}
		delete(s.byHash, existing.VerificationHash)
		s.byHash[req.VerificationHash] = req.ID
	}
	s.requests[req.ID] = cloneRequest(req)
	return nil
}

func (s *InMemoryStore) AppendEvent(_ context.Context, ev *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[ev.RequestID]; !ok {
		return sentinel.ErrNotFound
	}
	copied := *ev
	s.events[ev.RequestID] = append(s.events[ev.RequestID], &copied)
	return nil
}

// ListEvents returns the request's events oldest first.
func (s *InMemoryStore) ListEvents(_ context.Context, requestID uuid.UUID) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.events[requestID]
	out := make([]*models.Event, 0, len(stored))
	for _, ev := range stored {
		copied := *ev
		out = append(out, &copied)
	}
	return out, nil
}

// List returns a page of matching requests ordered by due date, plus the unpaged count.
func (s *InMemoryStore) List(_ context.Context, filter models.ListFilter) ([]*models.Request, int, error) {
	s.mu.RLock()
	matched := make([]*models.Request, 0)
	for _, req := range s.requests {
		if filter.Matches(req) {
			matched = append(matched, cloneRequest(req))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].DueDate.Equal(matched[j].DueDate) {
			return matched[i].DueDate.Before(matched[j].DueDate)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	total := len(matched)
	if filter.Offset >= total {
		return []*models.Request{}, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	return matched[filter.Offset:end], total, nil
}

func cloneRequest(r *models.Request) *models.Request {
	c := *r
	c.VerificationConsumedAt = cloneTime(r.VerificationConsumedAt)
	c.VerifiedAt = cloneTime(r.VerifiedAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
