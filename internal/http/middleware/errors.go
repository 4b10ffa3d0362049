// README: Maps apperr kinds to HTTP statuses and writes the JSON error envelope.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"dispatch/internal/apperr"
)

var statusByKind = map[apperr.Kind]int{
	apperr.Unauthenticated:    http.StatusUnauthorized,
	apperr.Forbidden:          http.StatusForbidden,
	apperr.NotFound:           http.StatusNotFound,
	apperr.PartnerNotFound:    http.StatusNotFound,
	apperr.InvalidInput:       http.StatusBadRequest,
	apperr.InvalidState:       http.StatusConflict,
	apperr.InvalidTransition:  http.StatusConflict,
	apperr.AlreadyAssigned:    http.StatusConflict,
	apperr.InvalidRole:        http.StatusUnprocessableEntity,
	apperr.PartnerUnavailable: http.StatusConflict,
	apperr.PartnerBusy:        http.StatusConflict,
	apperr.PrepTimeRequired:   http.StatusUnprocessableEntity,
	apperr.HasActiveOrder:     http.StatusConflict,
	apperr.Conflict:           http.StatusConflict,
	apperr.AssignmentFailed:   http.StatusInternalServerError,
	apperr.Internal:           http.StatusInternalServerError,
}

// ErrorBody is the error payload. Allowed is omitted for errors that carry no
// state guidance and is an explicit empty list for terminal orders.
type ErrorBody struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
	Allowed *[]string   `json:"allowed,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// StatusOf returns the HTTP status for err.
func StatusOf(err error) int {
	if s, ok := statusByKind[apperr.KindOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// AbortWithError writes the error envelope for err and stops the handler chain.
// Errors without a kind are logged here and reported as a generic internal error.
func AbortWithError(c *gin.Context, err error) {
	status := StatusOf(err)
	body := ErrorBody{Kind: apperr.Internal, Message: "internal server error"}
	if e, ok := apperr.As(err); ok {
		body = ErrorBody{Kind: e.Kind, Message: e.Message}
		if e.Allowed != nil {
			allowed := e.Allowed
			body.Allowed = &allowed
		}
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Msg("request failed")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: body})
}
