package service

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"privacyhub/internal/dsr/models"
	"privacyhub/internal/dsr/service/mocks"
	"privacyhub/internal/dsr/store"
	"privacyhub/internal/dsr/tokens"
	"privacyhub/internal/platform/outbox"
	dErrors "privacyhub/pkg/domain-errors"
	"privacyhub/pkg/testutil"
)

type ServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	mailer   *mocks.MockMailer
	throttle *mocks.MockThrottle
	store    *store.InMemoryStore
	outbox   *outbox.InMemoryStore
	tracking *tokens.TrackingIssuer
	clock    time.Time
	mails    []*models.VerificationMail
	service  *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mailer = mocks.NewMockMailer(s.ctrl)
	s.throttle = mocks.NewMockThrottle(s.ctrl)
	s.store = store.NewInMemory()
	s.outbox = outbox.NewInMemoryStore()
	s.tracking = tokens.NewTrackingIssuer("test-secret", 365*24*time.Hour)
	s.clock = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	s.mails = nil
	s.service = s.newService()
}

func (s *ServiceSuite) newService(opts ...Option) *Service {
	base := []Option{
		WithTx(NewLockedTx(s.store, s.outbox)),
		WithMailer(s.mailer),
		WithThrottle(s.throttle),
		WithVerifyBaseURL("https://privacy.example.com/dsr/verify"),
		WithClock(func() time.Time { return s.clock }),
	}
	return New(s.store, s.tracking, append(base, opts...)...)
}

func (s *ServiceSuite) expectMail() {
	s.mailer.EXPECT().SendVerification(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, m *models.VerificationMail) error {
			s.mails = append(s.mails, m)
			return nil
		})
}

func (s *ServiceSuite) lastToken() string {
	s.Require().NotEmpty(s.mails)
	u, err := url.Parse(s.mails[len(s.mails)-1].VerifyURL)
	s.Require().NoError(err)
	token := u.Query().Get("token")
	s.Require().NotEmpty(token)
	return token
}

func validInput() SubmitInput {
	return SubmitInput{
		Email:       "a@b.com",
		Name:        "Ada Lovelace",
		RequestType: models.TypeErasure,
		Regulation:  "GDPR",
		Attestation: true,
		Client:      ClientMeta{IP: "203.0.113.7", UserAgent: "Mozilla/5.0"},
	}
}

func (s *ServiceSuite) submit(in SubmitInput) *SubmitResult {
	s.throttle.EXPECT().CheckSubmission(gomock.Any(), in.Email, gomock.Any()).Return(nil)
	s.expectMail()
	res, err := s.service.Submit(context.Background(), in)
	s.Require().NoError(err)
	return res
}

func (s *ServiceSuite) load(id uuid.UUID) *models.Request {
	req, err := s.store.FindByID(context.Background(), id)
	s.Require().NoError(err)
	return req
}

// Invariant: a submission starts in new with dueDate = submittedAt + SLA, and its
// verification token redeems exactly once.
func (s *ServiceSuite) TestSubmitVerifyScenario() {
	ctx := context.Background()
	t0 := s.clock
	res := s.submit(validInput())

	s.Equal(models.StatusNew, res.Status)
	s.Equal(t0.Add(30*24*time.Hour), res.DueDate)
	s.NotEmpty(res.TrackingToken)

	stored := s.load(res.RequestID)
	s.Equal(models.StatusNew, stored.Status)
	s.Equal(tokens.Digest(s.lastToken()), stored.VerificationHash)
	s.NotEmpty(stored.IPAddressHash)
	s.NotEqual("203.0.113.7", stored.IPAddressHash)

	s.clock = t0.Add(time.Hour)
	id, err := s.service.Verify(ctx, s.lastToken())
	s.Require().NoError(err)
	s.Equal(res.RequestID, id)
	s.Equal(models.StatusVerified, s.load(id).Status)

	_, err = s.service.Verify(ctx, s.lastToken())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
	s.Equal(models.StatusVerified, s.load(id).Status)

	s.Equal(t0.Add(30*24*time.Hour), s.load(id).DueDate)
}

func (s *ServiceSuite) TestSubmitValidation() {
	cases := map[string]func(*SubmitInput){
		"missing name":           func(in *SubmitInput) { in.Name = "  " },
		"bad email":              func(in *SubmitInput) { in.Email = "not-an-email" },
		"no attestation":         func(in *SubmitInput) { in.Attestation = false },
		"unknown request type":   func(in *SubmitInput) { in.RequestType = "delete_all" },
		"unsupported regulation": func(in *SubmitInput) { in.Regulation = "HIPAA" },
		"details too long":       func(in *SubmitInput) { in.Details = string(make([]byte, 5001)) },
	}
	for name, mutate := range cases {
		s.Run(name, func() {
			in := validInput()
			mutate(&in)
			_, err := s.service.Submit(context.Background(), in)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation), err.Error())
		})
	}
	page, err := s.service.List(context.Background(), models.ListFilter{})
	s.Require().NoError(err)
	s.Zero(page.Total)
}

func (s *ServiceSuite) TestSubmitDefaultsRegulationAndNormalizesEmail() {
	in := validInput()
	in.Regulation = ""
	in.Email = "  A@B.com "
	in.RequestType = "Access"
	s.throttle.EXPECT().CheckSubmission(gomock.Any(), "a@b.com", gomock.Any()).Return(nil)
	s.expectMail()

	res, err := s.service.Submit(context.Background(), in)
	s.Require().NoError(err)
	req := s.load(res.RequestID)
	s.Equal(models.RegulationGDPR, req.Regulation)
	s.Equal("a@b.com", req.Email)
	s.Equal(models.TypeAccess, req.RequestType)
	s.Equal("a@b.com", s.mails[0].To)
}

func (s *ServiceSuite) TestSubmitThrottled() {
	s.throttle.EXPECT().CheckSubmission(gomock.Any(), "a@b.com", gomock.Any()).
		Return(dErrors.NewRateLimited("too many requests, please wait before submitting again", 240))

	_, err := s.service.Submit(context.Background(), validInput())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeRateLimited))
	var rl *dErrors.RateLimitError
	s.Require().ErrorAs(err, &rl)
	s.Equal(240, rl.RetryAfter)

	page, err := s.service.List(context.Background(), models.ListFilter{})
	s.Require().NoError(err)
	s.Zero(page.Total)
}

func (s *ServiceSuite) TestMailFailureKeepsRequest() {
	s.throttle.EXPECT().CheckSubmission(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	s.mailer.EXPECT().SendVerification(gomock.Any(), gomock.Any()).Return(errors.New("smtp down"))

	res, err := s.service.Submit(context.Background(), validInput())
	s.Require().NoError(err)
	s.Equal(models.StatusNew, s.load(res.RequestID).Status)
}

func (s *ServiceSuite) TestManualReviewHoldsAfterMail() {
	s.service = s.newService(WithManualReview(true))
	res := s.submit(validInput())
	s.Equal(models.StatusPendingVerification, res.Status)

	_, err := s.service.Verify(context.Background(), s.lastToken())
	s.Require().NoError(err)

	detail, err := s.service.Get(context.Background(), res.RequestID)
	s.Require().NoError(err)
	s.Equal(models.StatusVerified, detail.Request.Status)
	s.Require().Len(detail.Events, 3)
	s.Equal(models.StatusPendingVerification, detail.Events[1].To)
	s.Equal(models.ActorSystem, detail.Events[1].Actor)
}

// Invariant: concurrent redemption of one token yields exactly one success.
func (s *ServiceSuite) TestConcurrentVerifyExactlyOnce() {
	s.submit(validInput())
	token := s.lastToken()

	result := testutil.RunConcurrent(25, func(int) error {
		_, err := s.service.Verify(context.Background(), token)
		return err
	})

	s.Equal(int32(1), result.Successes)
	s.Equal(int32(24), result.InvalidTokens)
	s.Zero(result.Errors)
}

func (s *ServiceSuite) TestVerifyRejectsBadTokens() {
	res := s.submit(validInput())
	token := s.lastToken()

	for _, bad := range []string{"", "   ", "never-issued"} {
		_, err := s.service.Verify(context.Background(), bad)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
	}

	s.clock = s.clock.Add(48 * time.Hour)
	_, err := s.service.Verify(context.Background(), token)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))

	var unknownErr, expiredErr *dErrors.Error
	_, e1 := s.service.Verify(context.Background(), "never-issued")
	s.Require().ErrorAs(e1, &unknownErr)
	s.Require().ErrorAs(err, &expiredErr)
	s.Equal(unknownErr.Message, expiredErr.Message)
	s.Equal(models.StatusNew, s.load(res.RequestID).Status)
}

func (s *ServiceSuite) TestOperatorLifecycle() {
	ctx := context.Background()
	res := s.submit(validInput())
	id := res.RequestID

	_, err := s.service.Complete(ctx, id, "op-1", models.Completion{AnonymizationConfirmed: true})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition), "new -> completed must be rejected")

	_, err = s.service.StartProcessing(ctx, id, "op-1")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition), "new -> in_progress must be rejected")

	_, err = s.service.Verify(ctx, s.lastToken())
	s.Require().NoError(err)

	_, err = s.service.StartProcessing(ctx, id, "")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	req, err := s.service.StartProcessing(ctx, id, "op-1")
	s.Require().NoError(err)
	s.Equal(models.StatusInProgress, req.Status)

	_, err = s.service.Complete(ctx, id, "op-1", models.Completion{})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	s.mailer.EXPECT().SendStatusUpdate(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, m *models.StatusMail) error {
			s.Equal(models.StatusCompleted, m.Status)
			s.Equal("a@b.com", m.To)
			s.NotEmpty(m.NextSteps)
			return nil
		})
	s.clock = s.clock.Add(72 * time.Hour)
	req, err = s.service.Complete(ctx, id, "op-1", models.Completion{AnonymizationConfirmed: true, Notes: "crm + billing purged"})
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, req.Status)
	s.Require().NotNil(req.CompletedAt)
	s.Equal(s.clock, *req.CompletedAt)

	_, err = s.service.Reject(ctx, id, "op-1", "too late")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	detail, err := s.service.Get(ctx, id)
	s.Require().NoError(err)
	var trail []models.Status
	for _, ev := range detail.Events {
		trail = append(trail, ev.To)
	}
	s.Equal([]models.Status{models.StatusNew, models.StatusVerified, models.StatusInProgress, models.StatusCompleted}, trail)

	pending, err := s.outbox.FetchUnprocessed(ctx, 10)
	s.Require().NoError(err)
	var types []string
	for _, e := range pending {
		s.Equal("dsr_request", e.AggregateType)
		s.Equal(id.String(), e.AggregateID)
		s.NotContains(string(e.Payload), "a@b.com")
		types = append(types, e.EventType)
	}
	s.ElementsMatch([]string{"dsr.submitted", "dsr.verified", "dsr.in_progress", "dsr.completed"}, types)
}

func (s *ServiceSuite) TestReject() {
	ctx := context.Background()
	res := s.submit(validInput())

	_, err := s.service.Reject(ctx, res.RequestID, "op-2", "")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	s.mailer.EXPECT().SendStatusUpdate(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, m *models.StatusMail) error {
			s.Equal("identity could not be confirmed", m.Reason)
			return nil
		})
	req, err := s.service.Reject(ctx, res.RequestID, "op-2", "identity could not be confirmed")
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, req.Status)

	_, err = s.service.Verify(ctx, s.lastToken())
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))

	_, err = s.service.Reject(ctx, uuid.New(), "op-2", "unknown")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestRecomputeDueDate() {
	ctx := context.Background()
	t0 := s.clock
	res := s.submit(validInput())

	s.clock = t0.Add(10 * 24 * time.Hour)
	req, err := s.service.RecomputeDueDate(ctx, res.RequestID, "op-1", "ccpa")
	s.Require().NoError(err)
	s.Equal(models.RegulationCCPA, req.Regulation)
	s.Equal(t0.Add(45*24*time.Hour), req.DueDate)

	_, err = s.service.RecomputeDueDate(ctx, res.RequestID, "op-1", "HIPAA")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Equal(t0.Add(45*24*time.Hour), s.load(res.RequestID).DueDate)
}

func (s *ServiceSuite) TestGetStatus() {
	ctx := context.Background()
	res := s.submit(validInput())
	before := s.load(res.RequestID)

	view, err := s.service.GetStatus(ctx, res.TrackingToken)
	s.Require().NoError(err)
	s.Equal(models.StatusNew, view.Status)
	s.Equal(models.TypeErasure, view.RequestType)
	s.Equal(models.RegulationGDPR, view.Regulation)
	s.Equal(before.DueDate, view.DueDate)
	s.Nil(view.CompletedAt)
	s.Equal(models.NextSteps(models.StatusNew, models.TypeErasure), view.NextSteps)

	s.Equal(before, s.load(res.RequestID), "status lookup must not mutate the request")

	_, err = s.service.GetStatus(ctx, res.TrackingToken)
	s.Require().NoError(err, "tracking tokens are reusable")
}

// Invariant: unknown and expired tracking tokens are indistinguishable.
func (s *ServiceSuite) TestGetStatusNotFoundIsGeneric() {
	ctx := context.Background()
	res := s.submit(validInput())

	forged, err := s.tracking.Issue(uuid.New(), s.clock)
	s.Require().NoError(err)

	_, neverIssued := s.service.GetStatus(ctx, "never-issued")
	_, unknownID := s.service.GetStatus(ctx, forged)
	s.clock = s.clock.Add(366 * 24 * time.Hour)
	_, expired := s.service.GetStatus(ctx, res.TrackingToken)

	for _, err := range []error{neverIssued, unknownID, expired} {
		var de *dErrors.Error
		s.Require().ErrorAs(err, &de)
		s.Equal(dErrors.CodeNotFound, de.Code)
		s.Equal(models.NotFoundMessage, de.Message)
	}
}

func (s *ServiceSuite) TestResendVerification() {
	ctx := context.Background()
	res := s.submit(validInput())
	oldToken := s.lastToken()

	s.throttle.EXPECT().CheckSubmission(gomock.Any(), "a@b.com", gomock.Any()).Return(nil)
	s.expectMail()
	s.Require().NoError(s.service.ResendVerification(ctx, res.TrackingToken, ClientMeta{IP: "203.0.113.7"}))
	newToken := s.lastToken()
	s.NotEqual(oldToken, newToken)

	_, err := s.service.Verify(ctx, oldToken)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
	_, err = s.service.Verify(ctx, newToken)
	s.Require().NoError(err)

	s.throttle.EXPECT().CheckSubmission(gomock.Any(), "a@b.com", gomock.Any()).Return(nil)
	err = s.service.ResendVerification(ctx, res.TrackingToken, ClientMeta{})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	err = s.service.ResendVerification(ctx, "garbage", ClientMeta{})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestSweepOverdue() {
	ctx := context.Background()
	for range 3 {
		in := validInput()
		in.Email = uuid.NewString() + "@example.com"
		s.submit(in)
	}
	closed := s.submit(validInput())
	s.mailer.EXPECT().SendStatusUpdate(gomock.Any(), gomock.Any()).Return(nil)
	_, err := s.service.Reject(ctx, closed.RequestID, "op", "duplicate")
	s.Require().NoError(err)

	n, err := s.service.SweepOverdue(ctx)
	s.Require().NoError(err)
	s.Zero(n)

	s.clock = s.clock.Add(31 * 24 * time.Hour)
	n, err = s.service.SweepOverdue(ctx)
	s.Require().NoError(err)
	s.Equal(3, n)

	page, err := s.service.List(ctx, models.ListFilter{Overdue: true})
	s.Require().NoError(err)
	s.Equal(3, page.Total)

	_, err = s.service.List(ctx, models.ListFilter{Status: "archived"})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestSubmitPersistenceFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	mailer := mocks.NewMockMailer(ctrl)
	st.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("connection reset"))

	svc := New(st, tokens.NewTrackingIssuer("k", time.Hour), WithMailer(mailer))
	_, err := svc.Submit(context.Background(), validInput())

	if !dErrors.HasCode(err, dErrors.CodePersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
}

func TestVerifyPersistenceFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	req, _, err := models.NewRequest(models.NewRequestParams{
		Email:            "a@b.com",
		Name:             "Ada",
		RequestType:      models.TypeAccess,
		Regulation:       models.RegulationGDPR,
		VerificationHash: tokens.Digest("tok"),
		VerificationTTL:  time.Hour,
	}, models.DefaultSLA(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	st.EXPECT().FindByVerificationHash(gomock.Any(), tokens.Digest("tok")).Return(req, nil)
	st.EXPECT().Update(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

	svc := New(st, tokens.NewTrackingIssuer("k", time.Hour))
	_, err = svc.Verify(context.Background(), "tok")
	if !dErrors.HasCode(err, dErrors.CodePersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
}
