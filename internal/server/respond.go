package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	apperrors "github.com/ZanzyTHEbar/disposal-triage/internal/errors"
	"github.com/ZanzyTHEbar/disposal-triage/internal/store"
	"github.com/ZanzyTHEbar/disposal-triage/internal/uploads"
	"github.com/gin-gonic/gin"
)

// fail maps domain errors to API errors; the ErrorHandler middleware renders them
func (s *Server) fail(c *gin.Context, err error, resource, id string) {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
	case errors.Is(err, store.ErrNotFound):
		appErr = apperrors.NewNotFoundError(resource, id)
	case errors.Is(err, store.ErrInvalidTransition):
		appErr = apperrors.NewConflictError(fmt.Sprintf("%s %s has already been reviewed", resource, id), err)
	case errors.Is(err, store.ErrDecisionRequired):
		appErr = apperrors.NewValidationError("adminDecision is required to override the recommendation")
	case errors.Is(err, uploads.ErrTooLarge), errors.Is(err, uploads.ErrNotImage):
		appErr = apperrors.NewValidationError(err.Error())
	default:
		appErr = apperrors.ToAppError(err)
	}

	_ = c.Error(appErr)
	c.Abort()
}

func (s *Server) invalid(c *gin.Context, message string) {
	_ = c.Error(apperrors.NewValidationError(message))
	c.Abort()
}

func (s *Server) invalidFields(c *gin.Context, fieldErrors map[string]string) {
	_ = c.Error(apperrors.NewValidationErrorWithMap(fieldErrors))
	c.Abort()
}

// stringValue renders a decoded JSON value the way it is stored: strings as-is,
// scalars in their JSON form, objects and arrays as compact JSON
func stringValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
