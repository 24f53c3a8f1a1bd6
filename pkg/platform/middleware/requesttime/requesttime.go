// Package requesttime pins one "now" per request so every timestamp written while
// serving it (consent log entries, due dates, transition events) agrees.
package requesttime

import (
	"net/http"
	"time"

	"privacyhub/pkg/requestcontext"
)

// Middleware stores the request start time via requestcontext.WithTime.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
