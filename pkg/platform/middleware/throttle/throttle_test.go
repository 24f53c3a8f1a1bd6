package throttle

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"privacyhub/pkg/requestcontext"
)

func TestLimiter_BurstThenReject(t *testing.T) {
	l := New(Config{PerMinute: 1, Burst: 2})

	assert.True(t, l.Allow("203.0.113.1"))
	assert.True(t, l.Allow("203.0.113.1"))
	assert.False(t, l.Allow("203.0.113.1"))
	assert.True(t, l.Allow("203.0.113.2"), "other clients have their own bucket")
}

func TestLimiter_Evict(t *testing.T) {
	l := New(Config{IdleTTL: time.Minute})
	l.Allow("a")
	l.Allow("b")

	assert.Equal(t, 0, l.Evict(time.Now()))
	assert.Equal(t, 2, l.Evict(time.Now().Add(2*time.Minute)))
}

func TestLimiter_Middleware(t *testing.T) {
	l := New(Config{PerMinute: 1, Burst: 1})
	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/cookies/report", nil)
		req = req.WithContext(requestcontext.WithClientMetadata(req.Context(), "198.51.100.4", ""))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusAccepted, send().Code)
	w := send()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}
