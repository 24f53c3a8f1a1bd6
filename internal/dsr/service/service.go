// Package service implements the data subject request lifecycle: intake, email
// verification, operator transitions and the requester's status lookup.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,Mailer,Throttle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"privacyhub/internal/dsr/metrics"
	"privacyhub/internal/dsr/models"
	"privacyhub/internal/dsr/tokens"
	"privacyhub/internal/platform/outbox"
	"privacyhub/internal/platform/tracer"
	dErrors "privacyhub/pkg/domain-errors"
	"privacyhub/pkg/platform/privacy"
	"privacyhub/pkg/platform/sentinel"
	"privacyhub/pkg/validation"
)

// Store defines the persistence interface for requests and their event trail.
// Error Contract:
//   - FindByID and FindByVerificationHash return sentinel.ErrNotFound for unknown keys
//     and, inside a transaction, lock the row until commit
//   - Create returns sentinel.ErrConflict on a duplicate ID or verification digest
//   - Update returns sentinel.ErrNotFound when the request does not exist
type Store interface {
	Create(ctx context.Context, req *models.Request) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Request, error)
	FindByVerificationHash(ctx context.Context, hash string) (*models.Request, error)
	Update(ctx context.Context, req *models.Request) error
	AppendEvent(ctx context.Context, ev *models.Event) error
	ListEvents(ctx context.Context, requestID uuid.UUID) ([]*models.Event, error)
	List(ctx context.Context, filter models.ListFilter) ([]*models.Request, int, error)
}

// Mailer hands messages to the subject. Delivery is outside this service; a nil
// error only means the message was accepted.
type Mailer interface {
	SendVerification(ctx context.Context, mail *models.VerificationMail) error
	SendStatusUpdate(ctx context.Context, mail *models.StatusMail) error
}

// Throttle limits submissions per identity.
type Throttle interface {
	CheckSubmission(ctx context.Context, email, ipHash string) error
}

type Option func(*Service)

// Service owns every transition of a request. Each transition and its event are
// written in one transaction; mail goes out only after commit.
type Service struct {
	store           Store
	tx              StoreTx
	tracking        *tokens.TrackingIssuer
	mailer          Mailer
	throttle        Throttle
	hasher          *privacy.Hasher
	sla             models.SLATable
	verificationTTL time.Duration
	verifyBaseURL   string
	manualReview    bool
	metrics         *metrics.Metrics
	tracer          tracer.Tracer
	logger          *slog.Logger
	now             func() time.Time
}

const defaultVerificationTTL = 48 * time.Hour

func New(store Store, tracking *tokens.TrackingIssuer, opts ...Option) *Service {
	svc := &Service{
		store:           store,
		tracking:        tracking,
		hasher:          privacy.NewHasher(""),
		sla:             models.DefaultSLA(),
		verificationTTL: defaultVerificationTTL,
		verifyBaseURL:   "/dsr/verify",
		tracer:          tracer.NewNoop(),
		logger:          slog.Default(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.tx == nil {
		svc.tx = NewLockedTx(store, outbox.NewInMemoryStore())
	}
	return svc
}

// WithTx sets the transaction boundary. Defaults to a single lock over the store
// and a private in-memory outbox.
func WithTx(tx StoreTx) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

func WithMailer(m Mailer) Option {
	return func(s *Service) {
		s.mailer = m
	}
}

func WithThrottle(t Throttle) Option {
	return func(s *Service) {
		s.throttle = t
	}
}

// WithHasher sets the keyed hasher applied to client IPs before they are stored.
func WithHasher(h *privacy.Hasher) Option {
	return func(s *Service) {
		if h != nil {
			s.hasher = h
		}
	}
}

// WithSLA replaces the regulation table.
func WithSLA(sla models.SLATable) Option {
	return func(s *Service) {
		if len(sla) > 0 {
			s.sla = sla
		}
	}
}

func WithVerificationTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.verificationTTL = ttl
		}
	}
}

// WithVerifyBaseURL sets the link target in verification emails; the token is
// appended as the token query parameter.
func WithVerifyBaseURL(base string) Option {
	return func(s *Service) {
		if base != "" {
			s.verifyBaseURL = base
		}
	}
}

// WithManualReview parks new requests in pending_verification once the
// verification email is out.
func WithManualReview(enabled bool) Option {
	return func(s *Service) {
		s.manualReview = enabled
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

// ClientMeta identifies where a submission came from. The IP is hashed before it
// is stored or used as a throttle key.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// SubmitInput is a request as filed by the data subject.
type SubmitInput struct {
	Email               string             `validate:"required,email,max=254"`
	Name                string             `validate:"required,notblank,max=200"`
	RequestType         models.RequestType `validate:"required"`
	Regulation          string             `validate:"max=16"`
	Details             string             `validate:"max=5000"`
	UserID              string             `validate:"max=128"`
	IdentityDocumentRef string             `validate:"max=512"`
	Attestation         bool               `validate:"eq=true"`
	Client              ClientMeta         `validate:"-"`
}

func (in *SubmitInput) normalize() {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	in.Details = strings.TrimSpace(in.Details)
	in.UserID = strings.TrimSpace(in.UserID)
	in.IdentityDocumentRef = strings.TrimSpace(in.IdentityDocumentRef)
	in.RequestType = models.RequestType(strings.ToLower(strings.TrimSpace(string(in.RequestType))))
}

// SubmitResult is returned to the submitter. The verification token is not part
// of it; it only travels by email.
type SubmitResult struct {
	RequestID     uuid.UUID
	TrackingToken string
	Status        models.Status
	DueDate       time.Time
}

// Submit validates, throttles and records a new request, then emails the
// verification link. A mail failure is logged and leaves the request in new.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (_ *SubmitResult, err error) {
	start := time.Now()
	in.normalize()
	ctx, span := s.tracer.Start(ctx, tracer.SpanDSRSubmit,
		tracer.String(tracer.AttrRequestType, string(in.RequestType)),
	)
	defer func() { span.End(err) }()

	if err := validation.Validate(in); err != nil {
		return nil, err
	}
	if !in.RequestType.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid request type %q", in.RequestType))
	}
	reg := models.ParseRegulation(in.Regulation)
	if !s.sla.Supports(reg) {
		return nil, s.sla.Unsupported(reg)
	}
	span.SetAttributes(tracer.String(tracer.AttrRegulation, string(reg)))

	ipHash := s.hasher.HashIP(in.Client.IP)
	if s.throttle != nil {
		if err := s.throttle.CheckSubmission(ctx, in.Email, ipHash); err != nil {
			s.logger.WarnContext(ctx, "dsr submission throttled",
				"client_ip", privacy.AnonymizeIP(in.Client.IP),
			)
			return nil, err
		}
	}

	token, digest, err := tokens.NewVerificationToken()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue verification token")
	}
	now := s.now()
	req, ev, err := models.NewRequest(models.NewRequestParams{
		Email:               in.Email,
		Name:                in.Name,
		UserID:              in.UserID,
		RequestType:         in.RequestType,
		Regulation:          reg,
		Details:             in.Details,
		IdentityDocumentRef: in.IdentityDocumentRef,
		IPAddressHash:       ipHash,
		VerificationHash:    digest,
		VerificationTTL:     s.verificationTTL,
	}, s.sla, now)
	if err != nil {
		return nil, err
	}
	tracking, err := s.tracking.Issue(req.ID, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue tracking token")
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context, store Store, events outbox.Store) error {
		if err := store.Create(ctx, req); err != nil {
			return err
		}
		return s.record(ctx, store, events, req, ev)
	})
	if err != nil {
		return nil, s.translate(ctx, req.ID, "failed to record request", err)
	}
	span.SetAttributes(tracer.String(tracer.AttrRequestID, req.ID.String()))
	if s.metrics != nil {
		s.metrics.IncSubmission(string(req.RequestType), string(req.Regulation))
	}
	s.logger.InfoContext(ctx, "dsr submitted",
		"request_id", req.ID,
		"request_type", req.RequestType,
		"regulation", req.Regulation,
		"due_date", req.DueDate,
		"user_agent", privacy.SummarizeUserAgent(in.Client.UserAgent),
	)

	if s.sendVerification(ctx, span, req, token, tracking) && s.manualReview {
		if held, err := s.hold(ctx, req.ID); err == nil {
			req = held
		}
	}

	if s.metrics != nil {
		s.metrics.ObserveSubmitLatency(time.Since(start).Seconds())
	}
	return &SubmitResult{
		RequestID:     req.ID,
		TrackingToken: tracking,
		Status:        req.Status,
		DueDate:       req.DueDate,
	}, nil
}

// sendVerification reports whether the mailer accepted the message.
func (s *Service) sendVerification(ctx context.Context, span tracer.Span, req *models.Request, token, tracking string) bool {
	if s.mailer == nil {
		return false
	}
	err := s.mailer.SendVerification(ctx, &models.VerificationMail{
		RequestID:     req.ID,
		To:            req.Email,
		Name:          req.Name,
		RequestType:   req.RequestType,
		VerifyURL:     s.verifyURL(token),
		TrackingToken: tracking,
		ExpiresAt:     req.VerificationExpiresAt,
	})
	if err != nil {
		span.AddEvent(tracer.EventMailFailed)
		s.logger.ErrorContext(ctx, "failed to send verification email",
			"request_id", req.ID,
			"error", err,
		)
		if s.metrics != nil {
			s.metrics.IncMailFailure()
		}
		return false
	}
	span.AddEvent(tracer.EventMailSent)
	return true
}

func (s *Service) verifyURL(token string) string {
	sep := "?"
	if strings.Contains(s.verifyBaseURL, "?") {
		sep = "&"
	}
	return s.verifyBaseURL + sep + "token=" + url.QueryEscape(token)
}

// hold moves a freshly mailed request into pending_verification.
func (s *Service) hold(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	held, err := s.transition(ctx, id, func(req *models.Request, now time.Time) (*models.Event, error) {
		return req.HoldForVerification(now)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to hold request for verification",
			"request_id", id,
			"error", err,
		)
	}
	return held, err
}

// ResendVerification issues a fresh verification token for a request that is still
// awaiting verification and mails it. The previous token stops working.
func (s *Service) ResendVerification(ctx context.Context, trackingToken string, client ClientMeta) (err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanDSRResend)
	defer func() { span.End(err) }()

	id, err := s.tracking.Parse(trackingToken, s.now())
	if err != nil {
		return dErrors.New(dErrors.CodeNotFound, models.NotFoundMessage)
	}
	current, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, models.NotFoundMessage)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read request")
	}
	if s.throttle != nil {
		if err := s.throttle.CheckSubmission(ctx, current.Email, s.hasher.HashIP(client.IP)); err != nil {
			return err
		}
	}

	token, digest, err := tokens.NewVerificationToken()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue verification token")
	}
	var req *models.Request
	err = s.tx.RunInTx(ctx, func(ctx context.Context, store Store, events outbox.Store) error {
		found, err := store.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if err := found.ReissueVerification(digest, s.verificationTTL, s.now()); err != nil {
			return err
		}
		req = found
		return store.Update(ctx, found)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, models.NotFoundMessage)
		}
		return s.translate(ctx, id, "failed to reissue verification", err)
	}

	s.logger.InfoContext(ctx, "dsr verification reissued", "request_id", id)
	if !s.sendVerification(ctx, span, req, token, trackingToken) {
		return dErrors.New(dErrors.CodeInternal, "verification email could not be sent")
	}
	if s.manualReview && req.Status == models.StatusNew {
		_, _ = s.hold(ctx, id)
	}
	return nil
}

// Verify redeems a verification token exactly once and returns the request ID.
// Unknown, expired, consumed and closed-request tokens all fail with the same
// invalid_token error.
func (s *Service) Verify(ctx context.Context, token string) (_ uuid.UUID, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanDSRVerify)
	defer func() { span.End(err) }()

	invalid := dErrors.New(dErrors.CodeInvalidToken, models.InvalidTokenMessage)
	token = strings.TrimSpace(token)
	if token == "" {
		s.countVerification(false)
		return uuid.Nil, invalid
	}
	digest := tokens.Digest(token)

	var verified *models.Request
	err = s.tx.RunInTx(ctx, func(ctx context.Context, store Store, events outbox.Store) error {
		req, err := store.FindByVerificationHash(ctx, digest)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return invalid
			}
			return err
		}
		ev, err := req.RedeemVerification(s.now())
		if err != nil {
			return err
		}
		if err := store.Update(ctx, req); err != nil {
			return err
		}
		if err := s.record(ctx, store, events, req, ev); err != nil {
			return err
		}
		verified = req
		return nil
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidToken) {
			s.countVerification(false)
			s.logger.InfoContext(ctx, "dsr verification rejected")
			return uuid.Nil, invalid
		}
		return uuid.Nil, s.translate(ctx, uuid.Nil, "failed to verify request", err)
	}

	s.countVerification(true)
	if s.metrics != nil {
		s.metrics.IncTransition(string(models.StatusVerified))
	}
	span.SetAttributes(tracer.String(tracer.AttrRequestID, verified.ID.String()))
	s.logger.InfoContext(ctx, "dsr verified", "request_id", verified.ID)
	return verified.ID, nil
}

func (s *Service) countVerification(ok bool) {
	if s.metrics == nil {
		return
	}
	if ok {
		s.metrics.IncVerification("verified")
		return
	}
	s.metrics.IncVerification("invalid")
}

// StartProcessing moves a verified request to in_progress.
func (s *Service) StartProcessing(ctx context.Context, id uuid.UUID, actor string) (*models.Request, error) {
	return s.operatorTransition(ctx, id, actor, func(req *models.Request, now time.Time) (*models.Event, error) {
		return req.StartProcessing(actor, now)
	})
}

// Complete closes an in-progress request and notifies the subject.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, actor string, c models.Completion) (*models.Request, error) {
	req, err := s.operatorTransition(ctx, id, actor, func(req *models.Request, now time.Time) (*models.Event, error) {
		return req.Complete(actor, c, now)
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, req, "")
	return req, nil
}

// Reject closes any open request. reason is mandatory and sent to the subject.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, actor, reason string) (*models.Request, error) {
	req, err := s.operatorTransition(ctx, id, actor, func(req *models.Request, now time.Time) (*models.Event, error) {
		return req.Reject(actor, reason, now)
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, req, req.ResolutionNotes)
	return req, nil
}

// RecomputeDueDate re-derives the due date under regulation from the original
// submission time. An empty regulation keeps the current one. Changing the
// regulation has no effect on the due date without this call.
func (s *Service) RecomputeDueDate(ctx context.Context, id uuid.UUID, actor, regulation string) (_ *models.Request, err error) {
	regulation = strings.TrimSpace(regulation)
	ctx, span := s.tracer.Start(ctx, tracer.SpanDSRRecompute,
		tracer.String(tracer.AttrRequestID, id.String()),
		tracer.String(tracer.AttrRegulation, regulation),
	)
	defer func() { span.End(err) }()

	return s.operatorTransition(ctx, id, actor, func(req *models.Request, now time.Time) (*models.Event, error) {
		reg := req.Regulation
		if regulation != "" {
			reg = models.ParseRegulation(regulation)
		}
		return req.RecomputeDueDate(reg, s.sla, actor, now)
	})
}

type transitionFunc func(req *models.Request, now time.Time) (*models.Event, error)

func (s *Service) operatorTransition(ctx context.Context, id uuid.UUID, actor string, fn transitionFunc) (*models.Request, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "actor is required")
	}
	return s.transition(ctx, id, fn)
}

// transition loads the request under lock, applies fn and writes the request,
// its event and the outbox entry together.
func (s *Service) transition(ctx context.Context, id uuid.UUID, fn transitionFunc) (_ *models.Request, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanDSRTransit, tracer.String(tracer.AttrRequestID, id.String()))
	defer func() { span.End(err) }()

	var (
		updated *models.Request
		event   *models.Event
	)
	err = s.tx.RunInTx(ctx, func(ctx context.Context, store Store, events outbox.Store) error {
		req, err := store.FindByID(ctx, id)
		if err != nil {
			return err
		}
		ev, err := fn(req, s.now())
		if err != nil {
			return err
		}
		if err := store.Update(ctx, req); err != nil {
			return err
		}
		if err := s.record(ctx, store, events, req, ev); err != nil {
			return err
		}
		updated, event = req, ev
		return nil
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, models.NotFoundMessage)
		}
		return nil, s.translate(ctx, id, "failed to update request", err)
	}

	span.SetAttributes(
		tracer.String(tracer.AttrFromStatus, string(event.From)),
		tracer.String(tracer.AttrToStatus, string(event.To)),
	)
	if s.metrics != nil && event.From != event.To {
		s.metrics.IncTransition(string(event.To))
	}
	s.logger.InfoContext(ctx, "dsr transitioned",
		"request_id", id,
		"from", event.From,
		"to", event.To,
		"actor", event.Actor,
	)
	return updated, nil
}

// record appends the event and its outbox entry inside the caller's transaction.
func (s *Service) record(ctx context.Context, store Store, events outbox.Store, req *models.Request, ev *models.Event) error {
	if err := store.AppendEvent(ctx, ev); err != nil {
		return err
	}
	entry, err := outbox.NewEntry("dsr_request", req.ID.String(), eventType(ev), lifecyclePayload{
		RequestID:   req.ID.String(),
		RequestType: string(req.RequestType),
		Regulation:  string(req.Regulation),
		From:        string(ev.From),
		To:          string(ev.To),
		Actor:       ev.Actor,
		Reason:      ev.Reason,
		DueDate:     req.DueDate,
		OccurredAt:  ev.CreatedAt,
	}, ev.CreatedAt)
	if err != nil {
		return err
	}
	return events.Append(ctx, entry)
}

// lifecyclePayload is the outbox body. It carries no contact details.
type lifecyclePayload struct {
	RequestID   string    `json:"request_id"`
	RequestType string    `json:"request_type"`
	Regulation  string    `json:"regulation"`
	From        string    `json:"from,omitempty"`
	To          string    `json:"to"`
	Actor       string    `json:"actor"`
	Reason      string    `json:"reason,omitempty"`
	DueDate     time.Time `json:"due_date"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func eventType(ev *models.Event) string {
	switch {
	case ev.From == "":
		return "dsr.submitted"
	case ev.From == ev.To:
		return "dsr.due_date_recomputed"
	default:
		return "dsr." + string(ev.To)
	}
}

func (s *Service) notify(ctx context.Context, req *models.Request, reason string) {
	if s.mailer == nil {
		return
	}
	err := s.mailer.SendStatusUpdate(ctx, &models.StatusMail{
		RequestID:   req.ID,
		To:          req.Email,
		Name:        req.Name,
		RequestType: req.RequestType,
		Status:      req.Status,
		NextSteps:   models.NextSteps(req.Status, req.RequestType),
		Reason:      reason,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to send status email",
			"request_id", req.ID,
			"status", req.Status,
			"error", err,
		)
		if s.metrics != nil {
			s.metrics.IncMailFailure()
		}
	}
}

// translate keeps domain errors and turns everything else into a persistence error.
func (s *Service) translate(ctx context.Context, id uuid.UUID, msg string, err error) error {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		return err
	}
	s.logger.ErrorContext(ctx, msg,
		"request_id", id,
		"error", err,
	)
	if s.metrics != nil {
		s.metrics.IncPersistenceFailure()
	}
	return dErrors.Wrap(err, dErrors.CodePersistence, msg)
}

// GetStatus resolves a tracking token to the requester's view. It never mutates
// the request. Bad, expired and unknown tokens share one not_found error.
func (s *Service) GetStatus(ctx context.Context, trackingToken string) (_ *models.StatusView, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanDSRStatus)
	defer func() { span.End(err) }()

	notFound := dErrors.New(dErrors.CodeNotFound, models.NotFoundMessage)
	id, err := s.tracking.Parse(trackingToken, s.now())
	if err != nil {
		s.countLookup(false)
		return nil, notFound
	}
	req, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.countLookup(false)
			return nil, notFound
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read request")
	}
	s.countLookup(true)
	return models.ViewOf(req), nil
}

func (s *Service) countLookup(found bool) {
	if s.metrics != nil {
		s.metrics.IncStatusLookup(found)
	}
}

// Detail is a request with its full event trail, for operators.
type Detail struct {
	Request *models.Request
	Events  []*models.Event
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Detail, error) {
	req, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, models.NotFoundMessage)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read request")
	}
	events, err := s.store.ListEvents(ctx, id)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read request events")
	}
	return &Detail{Request: req, Events: events}, nil
}

// Page is one page of the operator queue.
type Page struct {
	Requests []*models.Request
	Total    int
	Limit    int
	Offset   int
}

// List returns requests ordered by due date. An overdue filter is evaluated at the
// service clock.
func (s *Service) List(ctx context.Context, filter models.ListFilter) (*Page, error) {
	filter = filter.Normalize()
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid status %q", filter.Status))
	}
	filter.Now = s.now()
	requests, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list requests")
	}
	return &Page{Requests: requests, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// SweepOverdue counts open requests past their due date, logs each one and
// publishes the count as a gauge.
func (s *Service) SweepOverdue(ctx context.Context) (int, error) {
	filter := models.ListFilter{Overdue: true, Now: s.now(), Limit: models.MaxListLimit}
	count := 0
	for {
		page, total, err := s.store.List(ctx, filter)
		if err != nil {
			return count, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list overdue requests")
		}
		for _, req := range page {
			s.logger.WarnContext(ctx, "dsr overdue",
				"request_id", req.ID,
				"status", req.Status,
				"regulation", req.Regulation,
				"due_date", req.DueDate,
				"overdue_by", filter.Now.Sub(req.DueDate).Round(time.Minute).String(),
			)
		}
		count += len(page)
		filter.Offset += len(page)
		if len(page) == 0 || filter.Offset >= total {
			break
		}
	}
	if s.metrics != nil {
		s.metrics.SetOverdue(count)
	}
	return count, nil
}
