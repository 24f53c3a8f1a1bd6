package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"privacyhub/internal/consent/metrics"
	"privacyhub/internal/consent/models"
	"privacyhub/internal/consent/service"
	dErrors "privacyhub/pkg/domain-errors"
	"privacyhub/pkg/platform/httputil"
	"privacyhub/pkg/platform/middleware/admin"
	"privacyhub/pkg/platform/privacy"
	"privacyhub/pkg/requestcontext"
)

// Service defines the consent operations the handler exposes.
type Service interface {
	SetConsent(ctx context.Context, in service.SetConsentInput) (*models.Record, error)
	Grant(ctx context.Context, key models.SubjectKey, purpose models.Category, client service.ClientMeta) (*models.Record, error)
	Withdraw(ctx context.Context, key models.SubjectKey, purpose models.Category, client service.ClientMeta) (*models.Record, error)
	GetConsent(ctx context.Context, key models.SubjectKey) (*models.Record, error)
	Check(ctx context.Context, key models.SubjectKey) (*service.CheckResult, error)
	ListLogs(ctx context.Context, filter models.LogFilter) (*models.LogPage, error)
	Export(ctx context.Context, key models.SubjectKey, client service.ClientMeta) (*service.ExportBundle, error)
	Import(ctx context.Context, items []service.ImportItem, client service.ClientMeta) *service.ImportResult
}

// ReportStore persists cookie inventory reports.
type ReportStore interface {
	SaveReport(ctx context.Context, report *models.CookieReport) error
}

// Handler serves consent preferences, the consent log and cookie reports.
type Handler struct {
	consent Service
	reports ReportStore
	hasher  *privacy.Hasher
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a consent Handler. metrics may be nil.
func New(consent Service, reports ReportStore, hasher *privacy.Hasher, logger *slog.Logger, m *metrics.Metrics) *Handler {
	if hasher == nil {
		hasher = privacy.NewHasher("")
	}
	return &Handler{
		consent: consent,
		reports: reports,
		hasher:  hasher,
		logger:  logger,
		metrics: m,
	}
}

// Register registers the public consent routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/consents", h.HandleToggle)
	r.Put("/consents/preferences", h.HandlePreferences)
	r.Get("/consents/user/{id}", h.HandleGetUser)
	r.Get("/consents/check", h.HandleCheck)
}

// RegisterReports registers the cookie report route. The caller applies throttling.
func (h *Handler) RegisterReports(r chi.Router) {
	r.Post("/cookies/report", h.HandleCookieReport)
}

// RegisterAdmin registers operator routes. The caller applies the admin gate.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/consents/logs", h.HandleListLogs)
	r.Get("/consents/export", h.HandleExport)
	r.Post("/consents/import", h.HandleImport)
}

func clientMeta(ctx context.Context) service.ClientMeta {
	return service.ClientMeta{
		IP:        requestcontext.ClientIP(ctx),
		UserAgent: requestcontext.UserAgent(ctx),
	}
}

// HandleToggle grants or withdraws one purpose for a user or session.
func (h *Handler) HandleToggle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[ToggleRequest](w, r, h.logger)
	if !ok {
		return
	}

	var (
		rec *models.Record
		err error
	)
	purpose := models.Category(req.Purpose)
	if req.Action == "grant" {
		rec, err = h.consent.Grant(ctx, req.key, purpose, clientMeta(ctx))
	} else {
		rec, err = h.consent.Withdraw(ctx, req.key, purpose, clientMeta(ctx))
	}
	if err != nil {
		h.logFailure(ctx, "failed to update consent", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(rec))
}

// HandlePreferences records a full banner decision.
func (h *Handler) HandlePreferences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[PreferencesRequest](w, r, h.logger)
	if !ok {
		return
	}

	rec, err := h.consent.SetConsent(ctx, service.SetConsentInput{
		SubjectKey:    req.key,
		Categories:    req.categories(),
		Region:        req.Region,
		BannerVersion: req.BannerVersion,
		Method:        models.Method(req.Method),
		Client:        clientMeta(ctx),
	})
	if err != nil {
		h.logFailure(ctx, "failed to record consent decision", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, err := models.NewSubjectKey(chi.URLParam(r, "id"), "")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.consent.GetConsent(ctx, key)
	if err != nil {
		h.logFailure(ctx, "failed to read consent", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(rec))
}

// HandleCheck returns the effective consent. Unknown subjects get necessary only.
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, err := subjectFromQuery(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.consent.Check(ctx, key)
	if err != nil {
		h.logFailure(ctx, "failed to check consent", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCheckResponse(res))
}

func (h *Handler) HandleListLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := parseLogFilter(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	page, err := h.consent.ListLogs(ctx, filter)
	if err != nil {
		h.logFailure(ctx, "failed to list consent logs", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, LogPageResponse{
		Entries: toLogEntries(page.Entries),
		Total:   page.Total,
		Limit:   page.Limit,
		Offset:  page.Offset,
	})
}

func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, err := subjectFromQuery(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	bundle, err := h.consent.Export(ctx, key, clientMeta(ctx))
	if err != nil {
		h.logFailure(ctx, "failed to export consent", err)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "consent exported",
		"request_id", requestcontext.RequestID(ctx),
		"operator", admin.Operator(ctx),
		"subject_kind", key.Kind(),
	)
	httputil.WriteJSON(w, http.StatusOK, ExportResponse{
		Record:  toRecordResponse(bundle.Record),
		History: toLogEntries(bundle.History),
	})
}

// HandleImport records each item independently and reports per-item failures.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[ImportRequest](w, r, h.logger)
	if !ok {
		return
	}

	items := make([]service.ImportItem, 0, len(req.Items))
	failed := make(map[string]string)
	for _, item := range req.Items {
		key, err := models.ParseSubjectKey(item.SubjectKey)
		if err != nil {
			failed[item.SubjectKey] = err.Error()
			continue
		}
		items = append(items, service.ImportItem{
			SubjectKey:    key,
			Categories:    toCategories(item.Categories),
			Region:        item.Region,
			BannerVersion: item.BannerVersion,
		})
	}

	res := h.consent.Import(ctx, items, clientMeta(ctx))
	for key, msg := range res.Failed {
		failed[key.String()] = msg
	}
	h.logger.InfoContext(ctx, "consent import finished",
		"request_id", requestcontext.RequestID(ctx),
		"operator", admin.Operator(ctx),
		"imported", res.Imported,
		"failed", len(failed),
	)
	httputil.WriteJSON(w, http.StatusOK, ImportResponse{Imported: res.Imported, Failed: failed})
}

// HandleCookieReport stores a cookie inventory report and acknowledges it.
func (h *Handler) HandleCookieReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[CookieReportRequest](w, r, h.logger)
	if !ok {
		return
	}

	ua := req.UserAgent
	if ua == "" {
		ua = requestcontext.UserAgent(ctx)
	}
	report := models.NewCookieReport(
		req.URL,
		req.Cookies,
		req.LocalStorageKeys,
		req.SessionStorageKeys,
		privacy.SummarizeUserAgent(ua),
		h.hasher.HashIP(requestcontext.ClientIP(ctx)),
		requestcontext.Now(ctx).UTC().Truncate(time.Second),
	)
	if err := h.reports.SaveReport(ctx, report); err != nil {
		h.logger.ErrorContext(ctx, "failed to store cookie report",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodePersistence, "failed to store cookie report"))
		return
	}
	if h.metrics != nil {
		h.metrics.IncCookieReport()
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]bool{"received": true})
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
