package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func handle(t *testing.T, debug bool, err error) (*httptest.ResponseRecorder, ErrorResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/threads/t-1/approve", nil)
	req.Header.Set("X-Request-ID", "req-1")
	NewErrorHandler(zap.NewNop(), debug).Handle(rec, req, err)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestErrorHandler_Shapes(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		retryAfter string
		retryable  bool
	}{
		{name: "busy thread", err: NewBusyError("t-1"), status: http.StatusConflict, retryAfter: "1", retryable: true},
		{name: "wrapped busy", err: fmt.Errorf("approve: %w", NewBusyError("t-1")), status: http.StatusConflict, retryAfter: "1", retryable: true},
		{name: "conflict", err: NewConflictError("already approved"), status: http.StatusConflict},
		{name: "capacity", err: NewCapacityExhaustedError("monthly limit reached"), status: http.StatusForbidden},
		{name: "bad signature", err: NewSignatureInvalidError("did:wba:x", errors.New("bad")), status: http.StatusUnauthorized},
		{name: "generation", err: NewGenerationFailedError("t-1", errors.New("timeout")), status: http.StatusBadGateway, retryAfter: "5", retryable: true},
		{name: "rate limit", err: NewRateLimitError(10, "1m0s"), status: http.StatusTooManyRequests, retryAfter: "60", retryable: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Act
			rec, body := handle(t, false, tt.err)

			// Assert
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.retryAfter, rec.Header().Get("Retry-After"))
			assert.Equal(t, tt.retryable, body.Retryable)
			assert.Equal(t, "req-1", body.RequestID)
			assert.True(t, body.Error)
		})
	}
}

func TestErrorHandler_HidesStoragePathsOutsideDebug(t *testing.T) {
	// Arrange
	err := NewStorageWriteFailedError("/var/lib/esence/threads/t-1.json", errors.New("disk full"))

	// Act
	rec, body := handle(t, false, err)
	_, debugBody := handle(t, true, err)

	// Assert
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, string(ErrorTypeStorageWriteFailed), body.Type)
	assert.NotContains(t, body.Details, "file")
	assert.Equal(t, "/var/lib/esence/threads/t-1.json", debugBody.Details["file"])
}

func TestErrorHandler_PlainErrorIsInternal(t *testing.T) {
	rec, body := handle(t, false, errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, string(ErrorTypeInternal), body.Type)
	assert.Equal(t, "An internal error occurred", body.Message)
	assert.False(t, body.Retryable)
}

func TestErrorHandler_MiddlewareRecoversPanics(t *testing.T) {
	// Arrange
	h := NewErrorHandler(zap.NewNop(), false)
	panicky := h.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("nil map")
	}))
	rec := httptest.NewRecorder()

	// Act
	panicky.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))

	// Assert
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), string(ErrorTypeInternal))
}
