package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/makkenzo/redeem-key-service/internal/handler/dto"
	"github.com/makkenzo/redeem-key-service/internal/ierr"
	"go.uber.org/zap"
)

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// Lifecycle messages are fixed strings; wrapped error text never reaches clients.
var errorMappings = []errorMapping{
	{ierr.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "Key not found."},
	{ierr.ErrAlreadyBound, http.StatusConflict, "ALREADY_BOUND", "Key is already bound."},
	{ierr.ErrNotBound, http.StatusConflict, "NOT_BOUND", "Key is not bound."},
	{ierr.ErrNotWildcard, http.StatusConflict, "NOT_WILDCARD", "Key is not a wildcard key."},
	{ierr.ErrWildcardUnbindDenied, http.StatusConflict, "WILDCARD_UNBIND_DENIED", "Wildcard keys cannot be unbound."},
	{ierr.ErrKeyExists, http.StatusConflict, "KEY_EXISTS", "Key already exists."},
	{ierr.ErrNotBoundToIdentity, http.StatusForbidden, "NOT_BOUND_TO_PLAYER", "Key is not bound to this player."},
	{ierr.ErrExpired, http.StatusGone, "EXPIRED", "Key has expired."},
	{ierr.ErrStoreUnavailable, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Key store is temporarily unavailable."},
	{ierr.ErrInvalidArgument, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request."},
	{ierr.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHENTICATED", "Authentication required or failed."},
	{ierr.ErrInvalidToken, http.StatusUnauthorized, "UNAUTHENTICATED", "Authentication required or failed."},
	{ierr.ErrForbidden, http.StatusForbidden, "FORBIDDEN", "Access denied."},
	{ierr.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests."},
}

func ErrorHandlerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("ErrorHandler")
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status, errResponse := mapError(err)

		if status >= http.StatusInternalServerError {
			log.Error("Request failed", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
		} else {
			log.Debug("Request rejected", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
		}

		c.AbortWithStatusJSON(status, errResponse)
	}
}

func mapError(err error) (int, dto.APIErrorResponse) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return http.StatusBadRequest, dto.APIErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Input validation failed.",
			Details: buildValidationErrors(ve),
		}
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, dto.APIErrorResponse{Code: m.code, Message: m.message}
		}
	}

	return http.StatusInternalServerError, dto.APIErrorResponse{
		Code:    "INTERNAL_ERROR",
		Message: "An unexpected error occurred.",
	}
}

func buildValidationErrors(ve validator.ValidationErrors) []dto.FieldError {
	details := make([]dto.FieldError, len(ve))
	for i, fe := range ve {
		details[i] = dto.FieldError{
			Field:   fe.Field(),
			Message: getValidationErrorMsg(fe),
		}
	}
	return details
}

func getValidationErrorMsg(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("Field '%s' is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("Field '%s' must be one of [%s]", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("Field '%s' failed validation on the '%s' tag", fe.Field(), fe.Tag())
	}
}
