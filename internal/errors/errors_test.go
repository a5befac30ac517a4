package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestAppError_Constructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		category ErrorCategory
		status   int
		message  string
	}{
		{
			name:     "validation",
			err:      NewValidationError("formId is required", "formId"),
			category: CategoryValidation,
			status:   http.StatusBadRequest,
			message:  "[VALIDATION_ERROR] formId is required",
		},
		{
			name:     "not found",
			err:      NewNotFoundError("Submission", "42"),
			category: CategoryNotFound,
			status:   http.StatusNotFound,
			message:  "[NOT_FOUND] Submission not found",
		},
		{
			name:     "conflict",
			err:      NewConflictError("Review already decided", nil),
			category: CategoryConflict,
			status:   http.StatusConflict,
			message:  "[CONFLICT] Review already decided",
		},
		{
			name:     "unauthorized",
			err:      NewUnauthorizedError("Missing bearer token"),
			category: CategoryAuth,
			status:   http.StatusUnauthorized,
			message:  "[UNAUTHORIZED] Missing bearer token",
		},
		{
			name:     "configuration",
			err:      NewConfigurationError("Authentication is not configured", nil),
			category: CategoryConfiguration,
			status:   http.StatusServiceUnavailable,
			message:  "[CONFIGURATION_ERROR] Authentication is not configured",
		},
		{
			name:     "internal hides its message",
			err:      NewInternalError("insert failed", fmt.Errorf("disk full")),
			category: CategoryInternal,
			status:   http.StatusInternalServerError,
			message:  "[INTERNAL_ERROR] Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.category, tt.err.Category)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
			assert.Equal(t, tt.message, tt.err.Error())
		})
	}
}

func TestToAppError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category ErrorCategory
	}{
		{name: "wrapped app error", err: fmt.Errorf("handler: %w", NewNotFoundError("Form", "1")), category: CategoryNotFound},
		{name: "connection refused", err: fmt.Errorf("dial tcp: connection refused"), category: CategoryNetwork},
		{name: "deadline", err: context.DeadlineExceeded, category: CategoryTimeout},
		{name: "cancelled", err: fmt.Errorf("query: %w", context.Canceled), category: CategoryTimeout},
		{name: "oversized body", err: &http.MaxBytesError{Limit: 5}, category: CategoryValidation},
		{name: "anything else", err: fmt.Errorf("boom"), category: CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.category, ToAppError(tt.err).Category)
		})
	}

	assert.Nil(t, ToAppError(nil))
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(NewNetworkError("connection failed", nil)))
	assert.True(t, IsRetryableError(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.True(t, IsRetryableError(context.DeadlineExceeded))
	assert.False(t, IsRetryableError(NewValidationError("bad input")))
	assert.False(t, IsRetryableError(NewNotFoundError("Form", "9")))
}

func TestErrorHandler(t *testing.T) {
	router := gin.New()
	router.Use(ErrorHandler())
	router.GET("/missing", func(c *gin.Context) {
		c.Set("request_id", "req-1")
		_ = c.Error(NewNotFoundError("Submission", "7"))
	})
	router.GET("/written", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		_ = c.Error(fmt.Errorf("late failure"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Submission not found", body["error"])
	assert.Equal(t, "NOT_FOUND", body["code"])
	assert.Equal(t, "req-1", body["request_id"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/written", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecoveryHandler(t *testing.T) {
	router := gin.New()
	router.Use(RecoveryHandler())
	router.GET("/panic", func(c *gin.Context) {
		panic("unexpected nil form")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Internal server error")
	assert.NotContains(t, w.Body.String(), "unexpected nil form")
}

func TestValidationErrorWithMap_ListsFields(t *testing.T) {
	router := gin.New()
	router.Use(ErrorHandler())
	router.POST("/submissions", func(c *gin.Context) {
		_ = c.Error(NewValidationErrorWithMap(map[string]string{"Condition": "is required"}))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/submissions", nil))

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Submission has invalid fields", body.Error)
	assert.Equal(t, map[string]string{"Condition": "is required"}, body.Fields)
}
