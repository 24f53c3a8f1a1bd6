package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"privacyhub/internal/blocking"
	"privacyhub/internal/consent/models"
	"privacyhub/internal/consent/service"
	"privacyhub/internal/consent/store"
)

type BlockingHandlerSuite struct {
	suite.Suite
	consent  *service.Service
	registry *blocking.Registry
	router   chi.Router
}

func TestBlockingHandlerSuite(t *testing.T) {
	suite.Run(t, new(BlockingHandlerSuite))
}

func (s *BlockingHandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := blocking.New([]blocking.Rule{
		{ID: "ga", Pattern: "google-analytics.com", Category: models.CategoryAnalytics},
		{ID: "yt", Pattern: "youtube.com/embed", Category: models.CategoryMarketing, Action: blocking.ActionPlaceholder},
	}, blocking.WithLogger(logger))
	s.registry = blocking.NewRegistry(engine, nil)
	s.consent = service.New(store.New(), service.WithLogger(logger))

	s.router = chi.NewRouter()
	New(s.registry, s.consent, logger).Register(s.router)
}

func (s *BlockingHandlerSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func (s *BlockingHandlerSuite) TestRules() {
	rec := s.do(http.MethodGet, "/blocking/rules", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var body RulesResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Require().Len(body.Rules, 2)
	s.Equal("ga", body.Rules[0].ID)
	s.Equal(blocking.ActionBlock, body.Rules[0].Action)
	s.Equal(blocking.ActionPlaceholder, body.Rules[1].Action)
}

func (s *BlockingHandlerSuite) TestEvaluateBlocksUntilConsent() {
	rec := s.do(http.MethodPost, "/blocking/evaluate", map[string]string{
		"session_id": "s-1", "kind": "script", "url": "https://www.google-analytics.com/analytics.js",
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var res EvaluateResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &res))
	s.False(res.Allowed)
	s.Equal("remove", res.Effect)
	s.Equal("ga", res.RuleID)
	s.NotEmpty(res.QueueID)

	rec = s.do(http.MethodGet, "/blocking/queue?session_id=s-1", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var queue QueueResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &queue))
	s.Require().Len(queue.Pending, 1)
	s.Equal(res.QueueID, queue.Pending[0].ID)
	s.Equal([]string{"analytics"}, queue.Pending[0].Categories)

	s.registry.Replay(s.T().Context(), &models.Record{
		SubjectKey: "session:s-1",
		Categories: models.Categories{models.CategoryNecessary: true, models.CategoryAnalytics: true},
	})

	rec = s.do(http.MethodGet, "/blocking/queue?session_id=s-1", nil)
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &queue))
	s.Empty(queue.Pending)
}

func (s *BlockingHandlerSuite) TestEvaluateUsesStoredConsent() {
	key, err := models.NewSubjectKey("u-1", "")
	s.Require().NoError(err)
	_, err = s.consent.Grant(s.T().Context(), key, models.CategoryAnalytics, service.ClientMeta{})
	s.Require().NoError(err)

	rec := s.do(http.MethodPost, "/blocking/evaluate", map[string]string{
		"user_id": "u-1", "kind": "fetch", "url": "https://www.google-analytics.com/collect",
	})
	s.Require().Equal(http.StatusOK, rec.Code)

	var res EvaluateResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &res))
	s.True(res.Allowed)
	s.Equal("allow", res.Effect)
}

func (s *BlockingHandlerSuite) TestEvaluateValidation() {
	cases := map[string]map[string]string{
		"unknown kind": {"session_id": "s", "kind": "websocket", "url": "https://a.example"},
		"missing url":  {"session_id": "s", "kind": "fetch"},
		"no identity":  {"kind": "fetch", "url": "https://a.example"},
		"bad category": {"session_id": "s", "kind": "script", "url": "https://a.example", "category": "Not Valid"},
	}
	for name, body := range cases {
		s.Run(name, func() {
			rec := s.do(http.MethodPost, "/blocking/evaluate", body)
			s.Equal(http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func (s *BlockingHandlerSuite) TestQueueWithoutPage() {
	rec := s.do(http.MethodGet, "/blocking/queue?session_id=never", nil)
	s.Equal(http.StatusNotFound, rec.Code)
}
