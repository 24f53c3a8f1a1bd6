package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"privacyhub/internal/blocking"
	"privacyhub/internal/consent/models"
	"privacyhub/internal/consent/service"
	dErrors "privacyhub/pkg/domain-errors"
	"privacyhub/pkg/platform/httputil"
	s "privacyhub/pkg/string"
)

// ConsentChecker resolves the effective consent of a subject.
type ConsentChecker interface {
	Check(ctx context.Context, key models.SubjectKey) (*service.CheckResult, error)
}

// Handler serves the rule set and the server-side interception endpoints.
type Handler struct {
	registry *blocking.Registry
	consent  ConsentChecker
	logger   *slog.Logger
}

func New(registry *blocking.Registry, consent ConsentChecker, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, consent: consent, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/blocking/rules", h.HandleRules)
	r.Post("/blocking/evaluate", h.HandleEvaluate)
	r.Get("/blocking/queue", h.HandleQueue)
}

type RulesResponse struct {
	Rules []blocking.Rule `json:"rules"`
}

// HandleRules returns the rule set clients load before any other script.
func (h *Handler) HandleRules(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	httputil.WriteJSON(w, http.StatusOK, RulesResponse{Rules: h.registry.Engine().Rules()})
}

type EvaluateRequest struct {
	UserID    string `json:"user_id" validate:"max=191"`
	SessionID string `json:"session_id" validate:"max=191"`
	Kind      string `json:"kind" validate:"required,oneof=fetch xhr beacon image script iframe"`
	URL       string `json:"url" validate:"required,max=4096"`
	Category  string `json:"category" validate:"omitempty,category"`
	ElementID string `json:"element_id" validate:"max=256"`

	key models.SubjectKey
}

func (r *EvaluateRequest) Sanitize() {
	s.TrimStrings(&r.UserID, &r.SessionID, &r.Kind, &r.URL, &r.Category, &r.ElementID)
}

func (r *EvaluateRequest) Normalize() {
	r.Kind = strings.ToLower(r.Kind)
	r.Category = strings.ToLower(r.Category)
}

func (r *EvaluateRequest) Validate() error {
	key, err := models.NewSubjectKey(r.UserID, r.SessionID)
	if err != nil {
		return err
	}
	r.key = key
	return nil
}

type EvaluateResponse struct {
	Allowed  bool   `json:"allowed"`
	Effect   string `json:"effect"`
	Category string `json:"category,omitempty"`
	RuleID   string `json:"rule_id,omitempty"`
	QueueID  string `json:"queue_id,omitempty"`
}

// HandleEvaluate runs one activity through the subject's page. A blocked activity
// is queued and released when the subject's consent changes.
func (h *Handler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[EvaluateRequest](w, r, h.logger)
	if !ok {
		return
	}

	page, ok := h.registry.Get(req.key)
	if !ok {
		res, err := h.consent.Check(ctx, req.key)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		page = h.registry.Open(req.key, res.Categories)
	}

	d, err := page.Intercept(ctx, blocking.Activity{
		Kind:         blocking.Kind(req.Kind),
		URL:          req.URL,
		CategoryHint: models.Category(req.Category),
		ElementID:    req.ElementID,
	})
	if err != nil && !errors.Is(err, blocking.ErrBlocked) {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "evaluation failed"))
		return
	}

	res := EvaluateResponse{
		Allowed:  d.Allowed,
		Effect:   string(d.Effect),
		Category: string(d.Category),
		QueueID:  d.QueueID,
	}
	if d.Rule != nil {
		res.RuleID = d.Rule.ID
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

type QueuedResponse struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	URL      string    `json:"url"`
	Category   string    `json:"category"`
	Categories []string  `json:"categories"`
	RuleID     string    `json:"rule_id,omitempty"`
	QueuedAt   time.Time `json:"queued_at"`
}

type QueueResponse struct {
	Pending []QueuedResponse `json:"pending"`
}

func (h *Handler) HandleQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key, err := models.NewSubjectKey(q.Get("user_id"), q.Get("session_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	page, ok := h.registry.Get(key)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "no open page for subject"))
		return
	}

	pending := page.Pending()
	out := make([]QueuedResponse, 0, len(pending))
	for _, p := range pending {
		cats := make([]string, 0, len(p.Categories))
		for _, c := range p.Categories {
			cats = append(cats, string(c))
		}
		out = append(out, QueuedResponse{
			ID:         p.ID,
			Kind:       string(p.Activity.Kind),
			URL:        p.Activity.URL,
			Category:   string(p.Category),
			Categories: cats,
			RuleID:     p.RuleID,
			QueuedAt:   p.QueuedAt,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, QueueResponse{Pending: out})
}
