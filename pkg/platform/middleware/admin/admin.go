// Package admin guards operator-only routes (privacy request transitions, log export).
package admin

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	dErrors "privacyhub/pkg/domain-errors"
	"privacyhub/pkg/platform/httputil"
	"privacyhub/pkg/requestcontext"
)

type operatorKey struct{}

// DefaultOperator is recorded when a valid token arrives without X-Operator-ID.
const DefaultOperator = "operator"

// Operator returns the operator identity attached by RequireToken, or "".
func Operator(ctx context.Context) string {
	v, _ := ctx.Value(operatorKey{}).(string)
	return v
}

// WithOperator attaches an operator identity; used by the CLI and tests.
func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorKey{}, operator)
}

// RequireToken rejects requests whose X-Admin-Token does not match expected.
// An empty expected token closes the routes entirely.
func RequireToken(expected string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := r.Header.Get("X-Admin-Token")
			if expected == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteJSON(w, http.StatusUnauthorized, map[string]string{
					"error":             "unauthorized",
					"error_description": "admin token required",
				})
				return
			}

			operator := strings.TrimSpace(r.Header.Get("X-Operator-ID"))
			if operator == "" {
				operator = DefaultOperator
			}
			if len(operator) > 128 {
				httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "operator id too long"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOperator(ctx, operator)))
		})
	}
}
