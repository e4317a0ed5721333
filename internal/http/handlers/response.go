// Package handlers implements the webhook and admin HTTP endpoints.
//
// This file holds the response helpers every endpoint shares. Failures always
// serialize as an ErrorResponse with a stable machine-readable code, so
// provider retry logic and operator scripts can branch on `code` without
// parsing messages. Webhook providers only need the status line, but the
// envelope makes rejected deliveries diagnosable from their dashboards:
//
//	HTTP/1.1 400 Bad Request
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "missing_family_routing",
//	  "message": "missing family routing"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hearthkeep/hearth/internal/http/middleware"
)

// ErrorResponse is the error envelope returned by every endpoint. RequestID
// echoes the X-Request-ID header so a provider-side delivery record can be
// matched to server logs; Code is one of the errors.go constants.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Code      string `json:"code" example:"bad_request"`
	Message   string `json:"message" example:"missing From/To"`
}

// fail aborts the request with a structured error. Server-side failures
// (>= 500) are logged with the request-scoped logger; client errors are not,
// the access log already records them.
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

// Fail is the exported variant of fail, used by the router's NoRoute and
// NoMethod fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
