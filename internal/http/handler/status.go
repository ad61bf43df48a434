package handler

import (
	"net/http"
	"time"

	"github.com/edirooss/zmux-relay/internal/service"
	"github.com/gin-gonic/gin"
)

// Status handles GET /status. ?force=1 bypasses the cache.
//
// Headers:
//   - X-Cache: HIT or MISS
//   - X-Status-Generated-At: RFC 3339 time the report was built
func Status(svc *service.StatusService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Query("force") == "1" {
			svc.Invalidate()
		}
		res := svc.Get()

		c.Header("Cache-Control", "no-store")
		if res.CacheHit {
			c.Header("X-Cache", "HIT")
		} else {
			c.Header("X-Cache", "MISS")
		}
		c.Header("X-Status-Generated-At", res.GeneratedAt.UTC().Format(time.RFC3339Nano))
		c.JSON(http.StatusOK, res.Report)
	}
}
