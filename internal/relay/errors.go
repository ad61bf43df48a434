package relay

import (
	"errors"

	"github.com/edirooss/zmux-relay/internal/domain/media"
)

var (
	ErrInvalidConfig  = media.ErrInvalidConfig
	ErrStreamNotFound = errors.New("stream not found")
	ErrTaskNotFound   = errors.New("task not found")
	// ErrStreamBusy: a recovery job for the stream is still pending or running.
	ErrStreamBusy = errors.New("stream busy")
	// ErrRoleMismatch: a task endpoint does not have the required role.
	ErrRoleMismatch = errors.New("stream role mismatch")
	ErrShutdown     = errors.New("manager shut down")
)
