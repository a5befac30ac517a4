// Package errors turns failures into the JSON error bodies of the triage API.
// Every AppError carries an errbuilder error for its code, message, cause and
// details, plus the category that picks the HTTP status.
package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gin-gonic/gin"
)

// ErrorCategory groups errors by how clients should react to them
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryAuth          ErrorCategory = "auth"
	CategoryNetwork       ErrorCategory = "network"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryInternal      ErrorCategory = "internal"
	CategoryConfiguration ErrorCategory = "configuration"
)

type kind struct {
	status int
	label  string
}

var kinds = map[ErrorCategory]kind{
	CategoryValidation:    {http.StatusBadRequest, "VALIDATION_ERROR"},
	CategoryNotFound:      {http.StatusNotFound, "NOT_FOUND"},
	CategoryConflict:      {http.StatusConflict, "CONFLICT"},
	CategoryAuth:          {http.StatusUnauthorized, "UNAUTHORIZED"},
	CategoryNetwork:       {http.StatusBadGateway, "NETWORK_ERROR"},
	CategoryTimeout:       {http.StatusGatewayTimeout, "TIMEOUT_ERROR"},
	CategoryInternal:      {http.StatusInternalServerError, "INTERNAL_ERROR"},
	CategoryConfiguration: {http.StatusServiceUnavailable, "CONFIGURATION_ERROR"},
}

func builderFor(category ErrorCategory) *errbuilder.ErrBuilder {
	b := errbuilder.New()
	switch category {
	case CategoryValidation:
		return b.WithCode(errbuilder.CodeInvalidArgument)
	case CategoryNotFound:
		return b.WithCode(errbuilder.CodeNotFound)
	case CategoryConflict, CategoryConfiguration:
		return b.WithCode(errbuilder.CodeFailedPrecondition)
	case CategoryAuth:
		return b.WithCode(errbuilder.CodeUnauthenticated)
	case CategoryNetwork:
		return b.WithCode(errbuilder.CodeUnavailable)
	case CategoryTimeout:
		return b.WithCode(errbuilder.CodeDeadlineExceeded)
	default:
		return b.WithCode(errbuilder.CodeInternal)
	}
}

// AppError is an errbuilder error with the HTTP context the API needs
type AppError struct {
	*errbuilder.ErrBuilder
	Category   ErrorCategory `json:"category"`
	HTTPStatus int           `json:"http_status"`
	Timestamp  time.Time     `json:"timestamp"`
	RequestID  string        `json:"request_id,omitempty"`
	StackTrace string        `json:"stack_trace,omitempty"`

	fields map[string]string
}

func newAppError(category ErrorCategory, msg string, cause error, details map[string]string) *AppError {
	builder := builderFor(category).WithMsg(msg)
	if cause != nil {
		builder = builder.WithCause(cause)
	}
	if len(details) > 0 {
		errMap := errbuilder.ErrorMap{}
		for key, value := range details {
			errMap.Set(key, errors.New(value))
		}
		builder = builder.WithDetails(errbuilder.NewErrDetails(errMap))
	}

	return &AppError{
		ErrBuilder: builder,
		Category:   category,
		HTTPStatus: kinds[category].status,
		Timestamp:  time.Now(),
	}
}

// Code returns the short machine-readable code shown to API clients
func (e *AppError) Code() string {
	if k, ok := kinds[e.Category]; ok {
		return k.label
	}
	return "UNKNOWN_ERROR"
}

func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code(), e.ErrBuilder.Msg)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.ErrBuilder.Unwrap()
}

// Response is the JSON body written for a failed request
func (e *AppError) Response() gin.H {
	body := gin.H{
		"error":    e.ErrBuilder.Msg,
		"code":     e.Code(),
		"category": e.Category,
	}
	if len(e.fields) > 0 {
		body["fields"] = e.fields
	}
	if e.RequestID != "" {
		body["request_id"] = e.RequestID
	}
	return body
}

// NewValidationError reports a bad request. An optional detail is logged
// under "validation_details".
func NewValidationError(message string, details ...interface{}) *AppError {
	var extra map[string]string
	if len(details) > 0 {
		extra = map[string]string{"validation_details": fmt.Sprint(details[0])}
	}
	return newAppError(CategoryValidation, message, nil, extra)
}

// NewValidationErrorWithMap reports one message per submitted field
func NewValidationErrorWithMap(fieldErrors map[string]string) *AppError {
	e := newAppError(CategoryValidation, "Submission has invalid fields", nil, fieldErrors)
	e.fields = fieldErrors
	return e
}

// NewNotFoundError reports a missing form, submission or recommendation
func NewNotFoundError(resource, id string) *AppError {
	return newAppError(CategoryNotFound, resource+" not found", nil, map[string]string{"id": id})
}

// NewConflictError reports a request the current review state does not allow
func NewConflictError(message string, cause error) *AppError {
	return newAppError(CategoryConflict, message, cause, nil)
}

// NewUnauthorizedError reports a missing or invalid admin token
func NewUnauthorizedError(message string) *AppError {
	return newAppError(CategoryAuth, message, nil, nil)
}

// NewNetworkError reports an unreachable backend
func NewNetworkError(message string, cause error) *AppError {
	return newAppError(CategoryNetwork, message, cause, nil)
}

// NewTimeoutError reports a cancelled or expired request
func NewTimeoutError(message string, cause error) *AppError {
	return newAppError(CategoryTimeout, message, cause, nil)
}

// NewInternalError hides message from clients; it is only logged
func NewInternalError(message string, cause error) *AppError {
	e := newAppError(CategoryInternal, "Internal server error", cause, map[string]string{"internal_details": message})
	if gin.Mode() != gin.ReleaseMode {
		e.StackTrace = captureStackTrace()
	}
	return e
}

// NewConfigurationError reports a feature the server was started without
func NewConfigurationError(message string, cause error) *AppError {
	return newAppError(CategoryConfiguration, message, cause, nil)
}

func captureStackTrace() string {
	buf := make([]byte, 4096)
	return string(buf[:runtime.Stack(buf, false)])
}

// ToAppError classifies any error. Unknown errors become internal errors.
func ToAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var maxBytes *http.MaxBytesError
	var netErr net.Error
	switch {
	case errors.As(err, &maxBytes):
		return NewValidationError("Request body too large", fmt.Sprintf("limit %d bytes", maxBytes.Limit))
	case errors.Is(err, context.Canceled):
		return NewTimeoutError("Request cancelled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewTimeoutError("Request deadline exceeded", err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return NewTimeoutError("Request timeout", err)
	case errors.As(err, &netErr), isConnectionFailure(err.Error()):
		return NewNetworkError("Network connection failed", err)
	}

	var ebErr *errbuilder.ErrBuilder
	if errors.As(err, &ebErr) {
		return &AppError{ErrBuilder: ebErr, Category: CategoryInternal, HTTPStatus: http.StatusInternalServerError, Timestamp: time.Now()}
	}
	return NewInternalError("An unexpected error occurred", err)
}

func isConnectionFailure(msg string) bool {
	for _, s := range []string{"connection refused", "no such host", "network is unreachable", "connection reset"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsRetryableError reports whether a later attempt could succeed
func IsRetryableError(err error) bool {
	switch ToAppError(err).Category {
	case CategoryNetwork, CategoryTimeout:
		return true
	default:
		return false
	}
}

// ErrorHandler renders the last error attached to the context, unless the
// handler already wrote a response
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		appErr := ToAppError(c.Errors.Last().Err)
		if appErr.RequestID == "" {
			appErr.RequestID = c.GetString("request_id")
		}
		LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr.Response())
	}
}

// RecoveryHandler turns a panic into a 500 without leaking the panic value
func RecoveryHandler() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		appErr := NewInternalError(fmt.Sprintf("panic: %v", recovered), fmt.Errorf("%v", recovered))
		appErr.StackTrace = captureStackTrace()
		appErr.RequestID = c.GetString("request_id")

		LogError(c, appErr)
		c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Response())
	})
}

// LogError logs client mistakes at warn, backend trouble at info and
// everything else at error
func LogError(c *gin.Context, err *AppError) {
	log := slog.With(
		"error_category", err.Category,
		"error_code", err.Code(),
		"http_status", err.HTTPStatus,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"request_id", err.RequestID,
	)

	switch err.Category {
	case CategoryValidation, CategoryNotFound, CategoryConflict, CategoryAuth:
		if len(err.fields) > 0 {
			log.Warn(err.ErrBuilder.Msg, "fields", err.fields)
		} else {
			log.Warn(err.ErrBuilder.Msg)
		}
	case CategoryNetwork, CategoryTimeout:
		log.Info(err.ErrBuilder.Msg, "cause", err.Unwrap())
	default:
		log.Error(err.ErrBuilder.Msg, "cause", err.Unwrap())
	}

	if err.StackTrace != "" {
		log.Debug("stack_trace", "trace", err.StackTrace)
	}
}
