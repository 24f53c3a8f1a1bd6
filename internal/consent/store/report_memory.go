package store

import (
	"context"
	"sync"

	"privacyhub/internal/consent/models"
)

// InMemoryReportStore keeps the most recent cookie reports up to a fixed capacity.
type InMemoryReportStore struct {
	mu       sync.Mutex
	reports  []*models.CookieReport
	capacity int
}

func NewReportStore(capacity int) *InMemoryReportStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &InMemoryReportStore{capacity: capacity}
}

func (s *InMemoryReportStore) SaveReport(_ context.Context, report *models.CookieReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reports) == s.capacity {
		s.reports = s.reports[1:]
	}
	s.reports = append(s.reports, report)
	return nil
}

// Reports returns a copy of the retained reports, oldest first.
func (s *InMemoryReportStore) Reports() []*models.CookieReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.CookieReport(nil), s.reports...)
}
