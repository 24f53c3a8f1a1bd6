package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,Emitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"privacyhub/internal/consent/metrics"
	"privacyhub/internal/consent/models"
	"privacyhub/internal/platform/tracer"
	dErrors "privacyhub/pkg/domain-errors"
	"privacyhub/pkg/platform/privacy"
	"privacyhub/pkg/platform/sentinel"
)

// Store defines the persistence interface for consent records and their log.
// Error Contract:
// - FindBySubject returns sentinel.ErrNotFound when no record exists
// - AppendLogs returns sentinel.ErrConflict on a duplicate entry ID
// - Other failures are returned wrapped and surface as persistence errors
type Store interface {
	FindBySubject(ctx context.Context, key models.SubjectKey) (*models.Record, error)
	LockSubject(ctx context.Context, key models.SubjectKey) error
	Upsert(ctx context.Context, rec *models.Record) error
	AppendLogs(ctx context.Context, entries []*models.LogEntry) error
	ListLogs(ctx context.Context, filter models.LogFilter) ([]*models.LogEntry, int, error)
}

// Emitter broadcasts a committed decision to downstream consumers.
type Emitter interface {
	Emit(ctx context.Context, rec *models.Record)
}

type Option func(*Service)

// Service records consent decisions. A decision and its log entries are written in
// one transaction, and the emitter only fires after that transaction commits.
type Service struct {
	store     Store
	tx        StoreTx
	emitter   Emitter
	hasher    *privacy.Hasher
	catalogue map[models.Category]struct{}
	metrics   *metrics.Metrics
	tracer    tracer.Tracer
	logger    *slog.Logger
	now       func() time.Time
}

func New(store Store, opts ...Option) *Service {
	svc := &Service{
		store:  store,
		hasher: privacy.NewHasher(""),
		tracer: tracer.NewNoop(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.tx == nil {
		svc.tx = NewShardedTx(store)
	}
	return svc
}

// WithTx sets the transaction boundary. Defaults to a per-subject lock over the store.
func WithTx(tx StoreTx) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

func WithEmitter(e Emitter) Option {
	return func(s *Service) {
		s.emitter = e
	}
}

// WithHasher sets the keyed hasher applied to client IPs before they are logged.
func WithHasher(h *privacy.Hasher) Option {
	return func(s *Service) {
		if h != nil {
			s.hasher = h
		}
	}
}

// WithCatalogue restricts decisions to the given categories. Without it any
// well-formed category name is accepted.
func WithCatalogue(categories []models.Category) Option {
	return func(s *Service) {
		if len(categories) == 0 {
			return
		}
		s.catalogue = make(map[models.Category]struct{}, len(categories)+1)
		s.catalogue[models.CategoryNecessary] = struct{}{}
		for _, c := range categories {
			s.catalogue[c] = struct{}{}
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// ClientMeta identifies where a decision came from. IP is hashed and the user agent
// summarized before either reaches the log.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// SetConsentInput is a banner decision. Categories replace the previous map wholesale.
type SetConsentInput struct {
	SubjectKey    models.SubjectKey
	Categories    models.Categories
	Region        string
	BannerVersion string
	Method        models.Method
	Client        ClientMeta
}

// SetConsent records a full decision for the subject.
func (s *Service) SetConsent(ctx context.Context, in SetConsentInput) (*models.Record, error) {
	if !in.Method.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid method %q", in.Method))
	}
	if err := s.checkCatalogue(in.Categories); err != nil {
		return nil, err
	}
	return s.apply(ctx, in.SubjectKey, in.Client, func(prev *models.Record, now time.Time) (*models.Record, error) {
		if prev == nil {
			return models.NewRecord(in.SubjectKey, in.Categories, in.Region, in.BannerVersion, in.Method, now)
		}
		return prev.Supersede(in.Categories, in.Region, in.BannerVersion, in.Method, now)
	})
}

// Grant sets a single category to granted, keeping every other category as it was.
func (s *Service) Grant(ctx context.Context, key models.SubjectKey, purpose models.Category, client ClientMeta) (*models.Record, error) {
	return s.toggle(ctx, key, purpose, true, client)
}

// Withdraw sets a single category to denied. necessary cannot be withdrawn.
func (s *Service) Withdraw(ctx context.Context, key models.SubjectKey, purpose models.Category, client ClientMeta) (*models.Record, error) {
	if purpose == models.CategoryNecessary {
		return nil, dErrors.New(dErrors.CodeValidation, "the necessary category cannot be withdrawn")
	}
	return s.toggle(ctx, key, purpose, false, client)
}

func (s *Service) toggle(ctx context.Context, key models.SubjectKey, purpose models.Category, granted bool, client ClientMeta) (*models.Record, error) {
	if err := s.checkCatalogue(models.Categories{purpose: granted}); err != nil {
		return nil, err
	}
	return s.apply(ctx, key, client, func(prev *models.Record, now time.Time) (*models.Record, error) {
		if prev == nil {
			return models.NewRecord(key, models.Categories{purpose: granted}, "", "", models.MethodAPI, now)
		}
		cats := prev.Categories.Clone()
		cats[purpose] = granted
		return prev.Supersede(cats, prev.Region, prev.BannerVersion, models.MethodAPI, now)
	})
}

type buildFunc func(prev *models.Record, now time.Time) (*models.Record, error)

// apply reads, rebuilds and writes the subject's record under the subject lock,
// then emits the committed record.
func (s *Service) apply(ctx context.Context, key models.SubjectKey, client ClientMeta, build buildFunc) (_ *models.Record, err error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := s.tracer.Start(ctx, tracer.SpanConsentSet, tracer.String(tracer.AttrSubjectKind, key.Kind()))
	defer func() { span.End(err) }()

	meta := s.meta(client)
	var (
		saved   *models.Record
		entries []*models.LogEntry
	)
	txErr := s.tx.RunInTx(ctx, key, func(ctx context.Context, store Store) error {
		if err := store.LockSubject(ctx, key); err != nil {
			return err
		}
		prev, err := store.FindBySubject(ctx, key)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}

		next, err := build(prev, s.now())
		if err != nil {
			return err
		}
		entries = models.DiffLog(prev, next, meta)

		if err := store.Upsert(ctx, next); err != nil {
			return err
		}
		if len(entries) > 0 {
			if err := store.AppendLogs(ctx, entries); err != nil {
				return err
			}
		}
		saved = next
		return nil
	})
	if txErr != nil {
		return nil, s.translate(ctx, key, txErr)
	}

	span.SetAttributes(tracer.Int64(tracer.AttrChanged, int64(len(entries))))
	if s.metrics != nil {
		s.metrics.IncDecision(string(saved.Method))
		for _, e := range entries {
			s.metrics.IncLogEntry(string(e.Action))
		}
	}
	s.logger.InfoContext(ctx, "consent recorded",
		"subject_kind", key.Kind(),
		"method", saved.Method,
		"changed", len(entries),
		"categories", saved.Categories.Encode(),
	)

	if s.emitter != nil {
		s.emitter.Emit(ctx, saved)
		span.AddEvent(tracer.EventEmitted)
	}
	if s.metrics != nil {
		s.metrics.ObserveDecisionLatency(time.Since(start).Seconds())
	}
	return saved, nil
}

// translate keeps domain errors and turns everything else into a persistence error.
func (s *Service) translate(ctx context.Context, key models.SubjectKey, err error) error {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		return err
	}
	s.logger.ErrorContext(ctx, "failed to persist consent decision",
		"subject_kind", key.Kind(),
		"error", err,
	)
	if s.metrics != nil {
		s.metrics.IncPersistenceFailure()
	}
	return dErrors.Wrap(err, dErrors.CodePersistence, "failed to record consent")
}

func (s *Service) checkCatalogue(cats models.Categories) error {
	if s.catalogue == nil {
		return nil
	}
	for cat := range cats {
		if _, ok := s.catalogue[cat]; !ok {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown category %q", cat))
		}
	}
	return nil
}

func (s *Service) meta(client ClientMeta) models.Meta {
	return models.Meta{
		IPAddressHash: s.hasher.HashIP(client.IP),
		UserAgent:     privacy.SummarizeUserAgent(client.UserAgent),
	}
}

// GetConsent returns the subject's current record.
func (s *Service) GetConsent(ctx context.Context, key models.SubjectKey) (*models.Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	rec, err := s.store.FindBySubject(ctx, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "consent not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read consent")
	}
	return rec, nil
}

// CheckResult is the effective consent for a subject. Without a stored decision every
// category except necessary is denied.
type CheckResult struct {
	SubjectKey    models.SubjectKey
	Categories    models.Categories
	Found         bool
	BannerVersion string
	UpdatedAt     *time.Time
}

// Check resolves the effective consent map, failing closed when nothing is stored.
func (s *Service) Check(ctx context.Context, key models.SubjectKey) (*CheckResult, error) {
	rec, err := s.GetConsent(ctx, key)
	if err != nil && !dErrors.HasCode(err, dErrors.CodeNotFound) {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncCheck(rec != nil)
	}
	if rec == nil {
		return &CheckResult{
			SubjectKey: key,
			Categories: models.Categories{}.WithNecessary(),
		}, nil
	}
	updated := rec.UpdatedAt
	return &CheckResult{
		SubjectKey:    key,
		Categories:    rec.Categories,
		Found:         true,
		BannerVersion: rec.BannerVersion,
		UpdatedAt:     &updated,
	}, nil
}

// ListLogs returns one page of the consent log, newest first.
func (s *Service) ListLogs(ctx context.Context, filter models.LogFilter) (*models.LogPage, error) {
	filter = filter.Normalize()
	if filter.SubjectKey != "" {
		if err := filter.SubjectKey.Validate(); err != nil {
			return nil, err
		}
	}
	if filter.Action != "" && !filter.Action.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid action %q", filter.Action))
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, dErrors.New(dErrors.CodeValidation, "to must not be before from")
	}

	entries, total, err := s.store.ListLogs(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list consent logs")
	}
	return &models.LogPage{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// ExportBundle is everything held about one subject's consent.
type ExportBundle struct {
	Record  *models.Record
	History []*models.LogEntry
}

// Export returns the subject's record and full log, recording the export itself
// as a log entry.
func (s *Service) Export(ctx context.Context, key models.SubjectKey, client ClientMeta) (*ExportBundle, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var rec *models.Record
	err := s.tx.RunInTx(ctx, key, func(ctx context.Context, store Store) error {
		found, err := store.FindBySubject(ctx, key)
		if err != nil {
			return err
		}
		rec = found
		return store.AppendLogs(ctx, []*models.LogEntry{models.ExportEntry(found, s.meta(client), s.now())})
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "consent not found")
		}
		return nil, s.translate(ctx, key, err)
	}

	var history []*models.LogEntry
	for offset := 0; ; offset += models.MaxLogLimit {
		page, total, err := s.store.ListLogs(ctx, models.LogFilter{
			SubjectKey: key,
			Limit:      models.MaxLogLimit,
			Offset:     offset,
		})
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read consent history")
		}
		history = append(history, page...)
		if len(page) == 0 || len(history) >= total {
			break
		}
	}
	if s.metrics != nil {
		s.metrics.IncLogEntry(string(models.ActionExport))
	}
	return &ExportBundle{Record: rec, History: history}, nil
}

// ImportItem is one decision carried over from another system.
type ImportItem struct {
	SubjectKey    models.SubjectKey
	Categories    models.Categories
	Region        string
	BannerVersion string
}

// ImportResult reports per-item failures without aborting the batch.
type ImportResult struct {
	Imported int
	Failed   map[models.SubjectKey]string
}

// Import records each item with method import. Every item is its own transaction.
func (s *Service) Import(ctx context.Context, items []ImportItem, client ClientMeta) *ImportResult {
	result := &ImportResult{Failed: make(map[models.SubjectKey]string)}
	for _, item := range items {
		_, err := s.SetConsent(ctx, SetConsentInput{
			SubjectKey:    item.SubjectKey,
			Categories:    item.Categories,
			Region:        item.Region,
			BannerVersion: item.BannerVersion,
			Method:        models.MethodImport,
			Client:        client,
		})
		if err != nil {
			result.Failed[item.SubjectKey] = err.Error()
			continue
		}
		result.Imported++
	}
	return result
}
