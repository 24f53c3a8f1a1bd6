package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	dErrors "privacyhub/pkg/domain-errors"
	"privacyhub/pkg/requestcontext"
	"privacyhub/pkg/validation"
)

// ErrorWriter renders an error response. WriteError and WriteCodeMessage both qualify.
type ErrorWriter func(w http.ResponseWriter, err error)

// DecodeJSON decodes a JSON request body into the target type.
// On failure it writes a bad_request response and returns nil, false.
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*T, bool) {
	return decodeJSON[T](w, r, logger, WriteError)
}

func decodeJSON[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, writeErr ErrorWriter) (*T, bool) {
	ctx := r.Context()
	var req T
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		logger.WarnContext(ctx, "failed to decode request body",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErr(w, dErrors.New(dErrors.CodeBadRequest, "request body too large"))
			return nil, false
		}
		writeErr(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return nil, false
	}
	return &req, true
}

// Validatable is implemented by request types with cross-field rules.
type Validatable interface {
	Validate() error
}

// Normalizable is implemented by request types that apply defaults or canonical forms.
type Normalizable interface {
	Normalize()
}

// Sanitizable is implemented by request types that trim or strip input.
type Sanitizable interface {
	Sanitize()
}

// PrepareRequest runs Sanitize, Normalize, struct-tag validation and Validate, in that order.
func PrepareRequest(req any) error {
	if s, ok := req.(Sanitizable); ok {
		s.Sanitize()
	}
	if n, ok := req.(Normalizable); ok {
		n.Normalize()
	}
	if err := validation.Validate(req); err != nil {
		return err
	}
	if v, ok := req.(Validatable); ok {
		return v.Validate()
	}
	return nil
}

// DecodeAndPrepare decodes the JSON body and prepares it with PrepareRequest.
//
// Usage:
//
//	req, ok := httputil.DecodeAndPrepare[models.SetConsentRequest](w, r, h.logger)
//	if !ok {
//	    return
//	}
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*T, bool) {
	return DecodeAndPrepareWith[T](w, r, logger, WriteError)
}

// DecodeAndPrepareWith is DecodeAndPrepare with a caller-chosen error envelope.
func DecodeAndPrepareWith[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, writeErr ErrorWriter) (*T, bool) {
	req, ok := decodeJSON[T](w, r, logger, writeErr)
	if !ok {
		return nil, false
	}

	if err := PrepareRequest(req); err != nil {
		ctx := r.Context()
		logger.WarnContext(ctx, "invalid request",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		var domainErr *dErrors.Error
		if errors.As(err, &domainErr) {
			writeErr(w, err)
		} else {
			writeErr(w, dErrors.New(dErrors.CodeValidation, err.Error()))
		}
		return nil, false
	}

	return req, true
}
