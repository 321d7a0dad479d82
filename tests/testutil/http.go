package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/konozy/ordersync/internal/interfaces/http/dto"
)

// Envelope is the decoded API response with typed data
type Envelope[T any] struct {
	Success bool          `json:"success"`
	Data    T             `json:"data"`
	Error   *dto.ErrorInfo `json:"error"`
}

// PerformRequest sends a request through handler. A non-nil body is JSON
// encoded; token, when set, is sent as a bearer token.
func PerformRequest(t *testing.T, handler http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

// DecodeEnvelope decodes a recorded response into an Envelope
func DecodeEnvelope[T any](t *testing.T, w *httptest.ResponseRecorder) Envelope[T] {
	t.Helper()
	var env Envelope[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "body: %s", w.Body.String())
	return env
}
