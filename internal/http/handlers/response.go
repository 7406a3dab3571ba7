// Package handlers implements the file-store service's HTTP endpoints.
//
// This file defines the response utilities every endpoint shares: a stable
// error envelope {request_id, code, message} and thin success helpers, so
// both outcomes stay uniform and machine-friendly across the API.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/storefront-labs/go-catalog-sync/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// RequestID correlates server logs with client-side errors.
	RequestID string `json:"request_id,omitempty"`
	// Code is a stable machine-readable string (see errors.go).
	Code string `json:"code"`
	// Message is human-readable and safe to show to users.
	Message string `json:"message"`
}

// fail aborts the request with the standard envelope. Server-side errors
// (>= 500) are logged with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail for router-level fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
