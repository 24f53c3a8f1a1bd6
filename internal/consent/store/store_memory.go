package store

import (
	"context"
	"sort"
	"sync"

	"privacyhub/internal/consent/models"
	"privacyhub/pkg/platform/sentinel"
)

// Error Contract:
// - FindBySubject returns sentinel.ErrNotFound when the subject has no record
// - AppendLogs returns sentinel.ErrConflict on a duplicate entry ID
// - Everything else returns nil; the in-memory store has no infrastructure failures

// InMemoryStore keeps consent records and their log in memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[models.SubjectKey]*models.Record
	logs    []*models.LogEntry
	logIDs  map[string]struct{}
}

// New constructs an empty in-memory consent store.
func New() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[models.SubjectKey]*models.Record),
		logIDs:  make(map[string]struct{}),
	}
}

func (s *InMemoryStore) FindBySubject(_ context.Context, key models.SubjectKey) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneRecord(rec), nil
}

// LockSubject is a no-op; the in-memory transaction already serializes per subject.
func (s *InMemoryStore) LockSubject(_ context.Context, _ models.SubjectKey) error {
	return nil
}

func (s *InMemoryStore) Upsert(_ context.Context, rec *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.SubjectKey]; ok {
		rec.CreatedAt = existing.CreatedAt
	}
	s.records[rec.SubjectKey] = cloneRecord(rec)
	return nil
}

func (s *InMemoryStore) AppendLogs(_ context.Context, entries []*models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if _, dup := s.logIDs[e.ID]; dup {
			return sentinel.ErrConflict
		}
	}
	for _, e := range entries {
		copied := *e
		s.logs = append(s.logs, &copied)
		s.logIDs[e.ID] = struct{}{}
	}
	return nil
}

// ListLogs returns matching entries newest first, plus the unpaged match count.
func (s *InMemoryStore) ListLogs(_ context.Context, filter models.LogFilter) ([]*models.LogEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.LogEntry
	for _, e := range s.logs {
		if filter.Matches(e) {
			copied := *e
			matched = append(matched, &copied)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if filter.Offset >= total {
		return []*models.LogEntry{}, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	return matched[filter.Offset:end], total, nil
}

func cloneRecord(rec *models.Record) *models.Record {
	copied := *rec
	copied.Categories = rec.Categories.Clone()
	return &copied
}
