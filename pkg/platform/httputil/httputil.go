package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	dErrors "privacyhub/pkg/domain-errors"
)

func WriteJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent, an encoding error cannot change the status.
	_ = json.NewEncoder(w).Encode(response)
}

// WriteError centralizes domain error translation to HTTP responses using the
// {"error": code, "error_description": message} envelope.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		setRetryAfter(w, err)
		response := map[string]string{
			"error": DomainCodeToHTTPCode(domainErr.Code),
		}
		if domainErr.Message != "" {
			response["error_description"] = publicMessage(domainErr)
		}
		WriteJSON(w, DomainCodeToHTTPStatus(domainErr.Code), response)
		return
	}

	WriteJSON(w, http.StatusInternalServerError, map[string]string{
		"error": DomainCodeToHTTPCode(dErrors.CodeInternal),
	})
}

// ErrorBody is the {code, message} envelope used by the public request-intake endpoints.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteCodeMessage writes err using the {code, message} envelope.
func WriteCodeMessage(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if !errors.As(err, &domainErr) {
		domainErr = &dErrors.Error{Code: dErrors.CodeInternal, Message: "internal error"}
	}
	setRetryAfter(w, err)
	WriteJSON(w, DomainCodeToHTTPStatus(domainErr.Code), ErrorBody{
		Code:    DomainCodeToHTTPCode(domainErr.Code),
		Message: publicMessage(domainErr),
	})
}

func setRetryAfter(w http.ResponseWriter, err error) {
	var rl *dErrors.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter))
	}
}

// publicMessage hides infrastructure detail behind persistence and internal errors.
func publicMessage(e *dErrors.Error) string {
	switch e.Code {
	case dErrors.CodeInternal:
		return "internal error"
	case dErrors.CodePersistence:
		return "the operation could not be recorded, please try again"
	default:
		return e.Message
	}
}

// DomainCodeToHTTPStatus translates domain error codes to HTTP status codes.
func DomainCodeToHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeBadRequest, dErrors.CodeValidation, dErrors.CodeInvariantViolation, dErrors.CodeInvalidToken:
		return http.StatusBadRequest
	case dErrors.CodeConflict, dErrors.CodeInvalidTransition:
		return http.StatusConflict
	case dErrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case dErrors.CodeInternal, dErrors.CodePersistence:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// DomainCodeToHTTPCode translates domain error codes to the wire error string.
func DomainCodeToHTTPCode(code dErrors.Code) string {
	switch code {
	case dErrors.CodeNotFound:
		return "not_found"
	case dErrors.CodeBadRequest:
		return "bad_request"
	case dErrors.CodeValidation, dErrors.CodeInvariantViolation:
		return "validation_error"
	case dErrors.CodeConflict:
		return "conflict"
	case dErrors.CodeInvalidTransition:
		return "invalid_transition"
	case dErrors.CodeRateLimited:
		return "rate_limit_exceeded"
	case dErrors.CodeInvalidToken:
		return "invalid_token"
	case dErrors.CodePersistence:
		return "persistence_error"
	case dErrors.CodeTimeout:
		return "timeout"
	default:
		return "internal_error"
	}
}
