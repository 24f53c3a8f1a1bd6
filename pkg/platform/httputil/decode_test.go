package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "privacyhub/pkg/domain-errors"
)

// toggleRequest mirrors the shape of a consent toggle body.
type toggleRequest struct {
	SessionID string `json:"session_id" validate:"required,max=128"`
	Purpose   string `json:"purpose" validate:"required"`
	Granted   bool   `json:"granted"`

	steps []string
}

func (r *toggleRequest) Sanitize() {
	r.steps = append(r.steps, "sanitize")
	r.SessionID = strings.TrimSpace(r.SessionID)
}

func (r *toggleRequest) Normalize() {
	r.steps = append(r.steps, "normalize")
	r.Purpose = strings.ToLower(r.Purpose)
}

func (r *toggleRequest) Validate() error {
	r.steps = append(r.steps, "validate")
	if r.Purpose == "necessary" && !r.Granted {
		return dErrors.New(dErrors.CodeValidation, "necessary cannot be withdrawn")
	}
	return nil
}

// rejectRequest fails cross-field validation with a plain error.
type rejectRequest struct {
	Reason string `json:"reason"`
}

func (r *rejectRequest) Validate() error {
	if r.Reason == "" {
		return errors.New("reason is required")
	}
	return nil
}

type submitRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func post(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestDecodeJSON(t *testing.T) {
	t.Run("decodes body", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, ok := DecodeJSON[toggleRequest](w, post(`{"session_id":"s1","purpose":"analytics","granted":true}`), discardLogger())
		require.True(t, ok)
		assert.Equal(t, "s1", req.SessionID)
		assert.True(t, req.Granted)
	})

	t.Run("malformed body is a bad request", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, ok := DecodeJSON[toggleRequest](w, post(`{"session_id":`), discardLogger())
		assert.False(t, ok)
		assert.Nil(t, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid request body", decodeEnvelope(t, w)["error_description"])
	})

	t.Run("oversized body is reported as such", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := post(`{"session_id":"` + strings.Repeat("x", 64) + `"}`)
		r.Body = http.MaxBytesReader(w, r.Body, 16)
		_, ok := DecodeJSON[toggleRequest](w, r, discardLogger())
		assert.False(t, ok)
		assert.Equal(t, "request body too large", decodeEnvelope(t, w)["error_description"])
	})
}

func TestPrepareRequestOrder(t *testing.T) {
	req := &toggleRequest{SessionID: "  s1 ", Purpose: "ANALYTICS", Granted: true}
	require.NoError(t, PrepareRequest(req))
	assert.Equal(t, []string{"sanitize", "normalize", "validate"}, req.steps)
	assert.Equal(t, "s1", req.SessionID)
	assert.Equal(t, "analytics", req.Purpose)
}

func TestPrepareRequestStopsAtStructTags(t *testing.T) {
	req := &toggleRequest{SessionID: "   ", Purpose: "analytics"}
	err := PrepareRequest(req)
	require.Error(t, err)
	assert.NotContains(t, req.steps, "validate")
}

func TestDecodeAndPrepare(t *testing.T) {
	tests := []struct {
		name        string
		decode      func(w http.ResponseWriter, r *http.Request) bool
		body        string
		wantCode    string
		wantMessage string
	}{
		{
			name: "domain error keeps its code",
			decode: func(w http.ResponseWriter, r *http.Request) bool {
				_, ok := DecodeAndPrepare[toggleRequest](w, r, discardLogger())
				return ok
			},
			body:        `{"session_id":"s1","purpose":"Necessary","granted":false}`,
			wantCode:    "validation_error",
			wantMessage: "necessary cannot be withdrawn",
		},
		{
			name: "plain error becomes a validation error",
			decode: func(w http.ResponseWriter, r *http.Request) bool {
				_, ok := DecodeAndPrepare[rejectRequest](w, r, discardLogger())
				return ok
			},
			body:        `{"reason":""}`,
			wantCode:    "validation_error",
			wantMessage: "reason is required",
		},
		{
			name: "struct tags are enforced",
			decode: func(w http.ResponseWriter, r *http.Request) bool {
				_, ok := DecodeAndPrepare[submitRequest](w, r, discardLogger())
				return ok
			},
			body:        `{"email":"not-an-email"}`,
			wantCode:    "validation_error",
			wantMessage: "email must be a valid email",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			assert.False(t, tt.decode(w, post(tt.body)))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			body := decodeEnvelope(t, w)
			assert.Equal(t, tt.wantCode, body["error"])
			assert.Equal(t, tt.wantMessage, body["error_description"])
		})
	}
}

func TestDecodeAndPrepareWithCodeMessage(t *testing.T) {
	w := httptest.NewRecorder()
	req, ok := DecodeAndPrepareWith[rejectRequest](w, post(`{"reason":""}`), discardLogger(), WriteCodeMessage)
	assert.False(t, ok)
	assert.Nil(t, req)

	var body ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "validation_error", body.Code)
	assert.Equal(t, "reason is required", body.Message)
}
