// Package signal fans a committed consent decision out to downstream consumers.
package signal

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"privacyhub/internal/consent/metrics"
	"privacyhub/internal/consent/models"
)

// Stage names, in emission order.
const (
	StageReady       = "ready"
	StageConsentMode = "consent_mode"
	StageCategory    = "category"
	StageReplay      = "replay"
)

// ReadyEvent is the generic "consent ready" broadcast carrying the full map.
type ReadyEvent struct {
	SubjectKey    models.SubjectKey
	Categories    models.Categories
	Region        string
	BannerVersion string
	At            time.Time
}

// CategoryEvent is delivered to listeners bound to one category.
type CategoryEvent struct {
	SubjectKey models.SubjectKey
	Category   models.Category
	Granted    bool
}

type ReadyListener func(ctx context.Context, ev ReadyEvent)

type CategoryListener func(ctx context.Context, ev CategoryEvent)

// ReplayHook releases work that was held back until consent was known.
type ReplayHook func(ctx context.Context, rec *models.Record)

// ConsentModeSink receives the platform consent-mode update.
type ConsentModeSink interface {
	UpdateConsentMode(ctx context.Context, rec *models.Record, update ConsentModeUpdate) error
}

// Emitter runs, in order: ready listeners, consent-mode sinks, per-category
// listeners, replay hooks. Every call is isolated: a consumer that fails or
// panics is logged and the rest still run. Nothing is retried.
type Emitter struct {
	mapping Mapping
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu         sync.RWMutex
	ready      []ReadyListener
	sinks      []ConsentModeSink
	categories map[models.Category][]CategoryListener
	replay     []ReplayHook
}

type Option func(*Emitter)

func WithMapping(m Mapping) Option {
	return func(e *Emitter) {
		if len(m) > 0 {
			e.mapping = m
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Emitter) {
		e.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Emitter) {
		e.logger = logger
	}
}

func New(opts ...Option) *Emitter {
	e := &Emitter{
		mapping:    DefaultMapping(),
		logger:     slog.Default(),
		categories: make(map[models.Category][]CategoryListener),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Emitter) OnReady(l ReadyListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready = append(e.ready, l)
}

func (e *Emitter) AddSink(s ConsentModeSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

func (e *Emitter) OnCategory(cat models.Category, l CategoryListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.categories[cat] = append(e.categories[cat], l)
}

func (e *Emitter) OnReplay(h ReplayHook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.replay = append(e.replay, h)
}

// Emit broadcasts rec. It returns once every consumer has been called.
func (e *Emitter) Emit(ctx context.Context, rec *models.Record) {
	if rec == nil {
		return
	}
	e.mu.RLock()
	ready := append([]ReadyListener(nil), e.ready...)
	sinks := append([]ConsentModeSink(nil), e.sinks...)
	categories := make(map[models.Category][]CategoryListener, len(e.categories))
	for cat, ls := range e.categories {
		categories[cat] = append([]CategoryListener(nil), ls...)
	}
	replay := append([]ReplayHook(nil), e.replay...)
	e.mu.RUnlock()

	snapshot := rec.Categories.Clone()

	ev := ReadyEvent{
		SubjectKey:    rec.SubjectKey,
		Categories:    snapshot,
		Region:        rec.Region,
		BannerVersion: rec.BannerVersion,
		At:            rec.UpdatedAt,
	}
	for _, l := range ready {
		e.call(ctx, StageReady, func() error {
			l(ctx, ev)
			return nil
		})
	}

	update := BuildConsentMode(snapshot, e.mapping)
	for _, sink := range sinks {
		e.call(ctx, StageConsentMode, func() error {
			return sink.UpdateConsentMode(ctx, rec, update)
		})
	}

	for _, cat := range sortedCategories(categories) {
		granted := snapshot.Granted(cat)
		for _, l := range categories[cat] {
			e.call(ctx, StageCategory, func() error {
				l(ctx, CategoryEvent{SubjectKey: rec.SubjectKey, Category: cat, Granted: granted})
				return nil
			})
		}
	}

	for _, h := range replay {
		e.call(ctx, StageReplay, func() error {
			h(ctx, rec)
			return nil
		})
	}
}

// sortedCategories lists every category with a listener. A category absent from the
// record is reported as denied.
func sortedCategories(listeners map[models.Category][]CategoryListener) []models.Category {
	cats := make([]models.Category, 0, len(listeners))
	for cat := range listeners {
		cats = append(cats, cat)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	return cats
}

func (e *Emitter) call(ctx context.Context, stage string, fn func() error) {
	if e.metrics != nil {
		e.metrics.IncEmission(stage)
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}()
	if err == nil {
		return
	}
	e.logger.ErrorContext(ctx, "consent signal consumer failed", "stage", stage, "error", err)
	if e.metrics != nil {
		e.metrics.IncEmissionFailure(stage)
	}
}
