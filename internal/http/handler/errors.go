package handler

import (
	"errors"
	"net/http"

	"github.com/edirooss/zmux-relay/internal/relay"
	"github.com/edirooss/zmux-relay/internal/stream"
	"github.com/edirooss/zmux-relay/pkg/jsonx"
	"github.com/gin-gonic/gin"
)

// errBadRequest marks errors in the request itself rather than its content.
var errBadRequest = errors.New("bad request")

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, jsonx.ErrEmptyBody),
		errors.Is(err, jsonx.ErrTrailingJSON):
		return http.StatusBadRequest
	case errors.Is(err, relay.ErrInvalidConfig),
		errors.Is(err, relay.ErrRoleMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, relay.ErrStreamNotFound),
		errors.Is(err, relay.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, relay.ErrStreamBusy),
		errors.Is(err, stream.ErrStopped),
		errors.Is(err, stream.ErrReconnectExhausted),
		errors.Is(err, stream.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, relay.ErrShutdown):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail records err on the context for the access log and writes it out.
func fail(c *gin.Context, err error) {
	c.Error(err)
	c.JSON(statusOf(err), gin.H{"message": err.Error()})
}
