package handler

import (
	"fmt"
	"net/http"

	"github.com/edirooss/zmux-relay/internal/relay"
	"github.com/edirooss/zmux-relay/pkg/avurl"
	"github.com/edirooss/zmux-relay/pkg/jsonx"
	"github.com/gin-gonic/gin"
)

// ParseURL handles POST /url/parse: it shows how the relay reads a stream
// location before one is created with it.
func ParseURL(c *gin.Context) {
	var req struct {
		URL string `json:"url"`
	}
	if err := jsonx.ParseStrictJSONBody(c.Request, &req); err != nil {
		fail(c, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	u, err := avurl.Parse(req.URL)
	if err != nil {
		fail(c, fmt.Errorf("%w: %w", relay.ErrInvalidConfig, err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"scheme":   u.Scheme,
		"host":     u.Host,
		"port":     u.Port,
		"path":     u.Path,
		"redacted": u.Redacted(),
		"live":     u.Live(),
		"format":   u.MuxerFormat(),
	})
}
