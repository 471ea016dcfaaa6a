package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ecard/internal/service"
)

// ErrorBody is the structured error returned by every endpoint.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	kind := service.KindOf(err)
	code := mapKindToHTTPStatus(kind)
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(code, ErrorResponse{Error: ErrorBody{Kind: string(kind), Message: err.Error()}})
}

// respondBadRequest rejects a request whose body or parameters could not be read.
func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrorBody{Kind: string(service.KindInvalidArgument), Message: message}})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapKindToHTTPStatus maps error kinds to HTTP status codes.
func mapKindToHTTPStatus(kind service.Kind) int {
	switch kind {
	case service.KindNotFound:
		return http.StatusNotFound

	case service.KindInvalidArgument,
		service.KindInvalidAmount,
		service.KindInvalidMethod:
		return http.StatusBadRequest

	case service.KindInvalidTransition,
		service.KindConflictingConfirmation,
		service.KindAlreadyExists,
		service.KindConflict:
		return http.StatusConflict

	case service.KindStorageUnavailable,
		service.KindGatewayUnavailable:
		return http.StatusServiceUnavailable

	case service.KindTimeout:
		return http.StatusGatewayTimeout

	default:
		return http.StatusInternalServerError
	}
}
