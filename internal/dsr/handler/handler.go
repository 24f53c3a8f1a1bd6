package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"privacyhub/internal/dsr/models"
	"privacyhub/internal/dsr/service"
	dErrors "privacyhub/pkg/domain-errors"
	"privacyhub/pkg/platform/httputil"
	"privacyhub/pkg/platform/middleware/admin"
	"privacyhub/pkg/requestcontext"
)

// Service defines the request lifecycle operations the handler exposes.
type Service interface {
	Submit(ctx context.Context, in service.SubmitInput) (*service.SubmitResult, error)
	ResendVerification(ctx context.Context, trackingToken string, client service.ClientMeta) error
	Verify(ctx context.Context, token string) (uuid.UUID, error)
	GetStatus(ctx context.Context, trackingToken string) (*models.StatusView, error)

	Get(ctx context.Context, id uuid.UUID) (*service.Detail, error)
	List(ctx context.Context, filter models.ListFilter) (*service.Page, error)
	StartProcessing(ctx context.Context, id uuid.UUID, actor string) (*models.Request, error)
	Complete(ctx context.Context, id uuid.UUID, actor string, c models.Completion) (*models.Request, error)
	Reject(ctx context.Context, id uuid.UUID, actor, reason string) (*models.Request, error)
	RecomputeDueDate(ctx context.Context, id uuid.UUID, actor, regulation string) (*models.Request, error)
}

// ThrottleResetter clears a submitter's intake throttle.
type ThrottleResetter interface {
	ResetEmail(ctx context.Context, email string) error
}

// Handler serves request intake, verification and tracking, plus the operator queue.
type Handler struct {
	dsr      Service
	throttle ThrottleResetter
	logger   *slog.Logger
}

type Option func(*Handler)

// WithThrottleReset exposes the operator route that lifts an email's submission throttle.
func WithThrottleReset(t ThrottleResetter) Option {
	return func(h *Handler) {
		h.throttle = t
	}
}

func New(dsr Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{dsr: dsr, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the public routes. Their errors use the {code, message} envelope.
func (h *Handler) Register(r chi.Router) {
	r.Post("/dsr/submit", h.HandleSubmit)
	r.Post("/dsr/resend", h.HandleResend)
	r.Get("/dsr/verify", h.HandleVerify)
	r.Get("/dsr/status", h.HandleStatus)
}

// RegisterAdmin registers operator routes. The caller applies the admin gate.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/dsr", h.HandleList)
	r.Get("/dsr/{id}", h.HandleGet)
	r.Post("/dsr/{id}/start", h.HandleStart)
	r.Post("/dsr/{id}/complete", h.HandleComplete)
	r.Post("/dsr/{id}/reject", h.HandleReject)
	r.Post("/dsr/{id}/recompute", h.HandleRecompute)
	if h.throttle != nil {
		r.Post("/dsr/throttle/reset", h.HandleThrottleReset)
	}
}

func clientMeta(ctx context.Context) service.ClientMeta {
	return service.ClientMeta{
		IP:        requestcontext.ClientIP(ctx),
		UserAgent: requestcontext.UserAgent(ctx),
	}
}

// HandleSubmit files a new request. The verification link is only sent by email.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepareWith[SubmitRequest](w, r, h.logger, httputil.WriteCodeMessage)
	if !ok {
		return
	}

	res, err := h.dsr.Submit(ctx, req.toInput(clientMeta(ctx)))
	if err != nil {
		h.logFailure(ctx, "failed to submit request", err)
		httputil.WriteCodeMessage(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, SubmitResponse{
		Success:       true,
		RequestID:     res.RequestID.String(),
		TrackingToken: res.TrackingToken,
		Status:        string(res.Status),
		DueDate:       res.DueDate,
	})
}

func (h *Handler) HandleResend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepareWith[ResendRequest](w, r, h.logger, httputil.WriteCodeMessage)
	if !ok {
		return
	}
	if err := h.dsr.ResendVerification(ctx, req.TrackingToken, clientMeta(ctx)); err != nil {
		h.logFailure(ctx, "failed to resend verification", err)
		httputil.WriteCodeMessage(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleVerify redeems the emailed token. Every failure looks the same to the caller.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := h.dsr.Verify(ctx, r.URL.Query().Get("token"))
	if err != nil {
		h.logFailure(ctx, "verification failed", err)
		httputil.WriteCodeMessage(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, VerifyResponse{RequestID: id.String()})
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.dsr.GetStatus(ctx, r.URL.Query().Get("token"))
	if err != nil {
		h.logFailure(ctx, "status lookup failed", err)
		httputil.WriteCodeMessage(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toStatusResponse(view))
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := parseListFilter(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	page, err := h.dsr.List(ctx, filter)
	if err != nil {
		h.logFailure(ctx, "failed to list requests", err)
		httputil.WriteError(w, err)
		return
	}
	items := make([]RequestResponse, 0, len(page.Requests))
	for _, req := range page.Requests {
		items = append(items, toRequestResponse(req))
	}
	httputil.WriteJSON(w, http.StatusOK, ListResponse{
		Requests: items,
		Total:    page.Total,
		Limit:    page.Limit,
		Offset:   page.Offset,
	})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := requestID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	detail, err := h.dsr.Get(ctx, id)
	if err != nil {
		h.logFailure(ctx, "failed to read request", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDetailResponse(detail))
}

func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	h.operatorAction(w, r, "start", func(ctx context.Context, id uuid.UUID, actor string) (*models.Request, error) {
		return h.dsr.StartProcessing(ctx, id, actor)
	})
}

func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[CompleteRequest](w, r, h.logger)
	if !ok {
		return
	}
	h.operatorAction(w, r, "complete", func(ctx context.Context, id uuid.UUID, actor string) (*models.Request, error) {
		return h.dsr.Complete(ctx, id, actor, models.Completion{
			ExportRef:              req.ExportRef,
			AnonymizationConfirmed: req.AnonymizationConfirmed,
			Notes:                  req.Notes,
		})
	})
}

func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[RejectRequest](w, r, h.logger)
	if !ok {
		return
	}
	h.operatorAction(w, r, "reject", func(ctx context.Context, id uuid.UUID, actor string) (*models.Request, error) {
		return h.dsr.Reject(ctx, id, actor, req.Reason)
	})
}

// HandleRecompute recalculates the due date, optionally under a new regulation.
func (h *Handler) HandleRecompute(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[RecomputeRequest](w, r, h.logger)
	if !ok {
		return
	}
	h.operatorAction(w, r, "recompute", func(ctx context.Context, id uuid.UUID, actor string) (*models.Request, error) {
		return h.dsr.RecomputeDueDate(ctx, id, actor, req.Regulation)
	})
}

// HandleThrottleReset clears the submission throttle for one email address, for a
// submitter who was throttled while legitimately retrying.
func (h *Handler) HandleThrottleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[ThrottleResetRequest](w, r, h.logger)
	if !ok {
		return
	}
	if err := h.throttle.ResetEmail(ctx, req.Email); err != nil {
		err = dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset throttle")
		h.logFailure(ctx, "throttle reset failed", err)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "submission throttle reset",
		"request_id", requestcontext.RequestID(ctx),
		"operator", admin.Operator(ctx),
	)
	w.WriteHeader(http.StatusNoContent)
}

type operatorFunc func(ctx context.Context, id uuid.UUID, actor string) (*models.Request, error)

func (h *Handler) operatorAction(w http.ResponseWriter, r *http.Request, action string, fn operatorFunc) {
	ctx := r.Context()
	id, err := requestID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	operator := admin.Operator(ctx)
	req, err := fn(ctx, id, operator)
	if err != nil {
		h.logFailure(ctx, "operator action failed", err)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "operator action applied",
		"request_id", requestcontext.RequestID(ctx),
		"dsr_id", id,
		"operator", operator,
		"action", action,
		"status", req.Status,
	)
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(req))
}

func requestID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "invalid request id")
	}
	return id, nil
}

func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	level := slog.LevelWarn
	if dErrors.HasCode(err, dErrors.CodeInternal) || dErrors.HasCode(err, dErrors.CodePersistence) {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
}
