package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/repository"
	"dispatch/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	c.JSON(code, ErrorResponse{Error: err.Error(), Code: errorCode(err)})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	// Validation errors
	case errors.Is(err, service.ErrInvalidPayload):
		return http.StatusBadRequest

	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden

	// Conflict errors
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrNotOnDuty),
		errors.Is(err, service.ErrConflict):
		return http.StatusConflict

	case errors.Is(err, service.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// errorCode maps an error to the stable code shared by REST and realtime
// clients.
func errorCode(err error) string {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return "not_found"
	case errors.Is(err, service.ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, service.ErrForbidden):
		return "forbidden"
	case errors.Is(err, service.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, service.ErrNotOnDuty):
		return "not_on_duty"
	case errors.Is(err, service.ErrConflict):
		return "conflict"
	case errors.Is(err, service.ErrUpstreamUnavailable):
		return "upstream_unavailable"
	default:
		return "internal"
	}
}
