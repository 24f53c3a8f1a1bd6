package blocking

import (
	"context"
	"sync"
	"time"

	"privacyhub/internal/consent/models"
)

// Registry holds the live pages of a server-side host, one per subject.
type Registry struct {
	engine   *Engine
	executor Executor

	mu    sync.Mutex
	pages map[models.SubjectKey]*registered
	now   func() time.Time
}

type registered struct {
	page     *Page
	lastSeen time.Time
}

func NewRegistry(engine *Engine, executor Executor) *Registry {
	return &Registry{
		engine:   engine,
		executor: executor,
		pages:    make(map[models.SubjectKey]*registered),
		now:      time.Now,
	}
}

func (r *Registry) Engine() *Engine {
	return r.engine
}

// Open returns the subject's page, creating it with consent when absent.
func (r *Registry) Open(key models.SubjectKey, consent models.Categories) *Page {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.pages[key]; ok {
		reg.lastSeen = r.now()
		return reg.page
	}
	page := NewPage(r.engine, r.executor, consent)
	r.pages[key] = &registered{page: page, lastSeen: r.now()}
	return page
}

// Get returns the subject's page if one is open.
func (r *Registry) Get(key models.SubjectKey) (*Page, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.pages[key]
	if !ok {
		return nil, false
	}
	reg.lastSeen = r.now()
	return reg.page, true
}

// Close drops the subject's page along with anything still queued on it.
func (r *Registry) Close(key models.SubjectKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.pages[key]; ok {
		r.release(reg.page)
		delete(r.pages, key)
	}
}

// release discards a closing page's queue so the queued gauge stays in step.
func (r *Registry) release(page *Page) {
	n := page.discard()
	if n > 0 && r.engine.metrics != nil {
		r.engine.metrics.AddQueued(-n)
	}
}

// Replay forwards a committed consent record to the subject's page, if any.
// Its signature matches the consent signal replay hook.
func (r *Registry) Replay(ctx context.Context, rec *models.Record) {
	page, ok := r.Get(rec.SubjectKey)
	if !ok {
		return
	}
	page.OnConsentChange(ctx, rec.Categories)
}

// Sweep closes pages idle since before cutoff and returns how many were closed.
func (r *Registry) Sweep(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	closed := 0
	for key, reg := range r.pages {
		if reg.lastSeen.Before(cutoff) {
			r.release(reg.page)
			delete(r.pages, key)
			closed++
		}
	}
	return closed
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pages)
}
