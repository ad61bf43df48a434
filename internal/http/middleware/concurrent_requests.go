package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"
)

// LimitConcurrentRequests rejects requests with 429 while maxConcurrent
// others are in flight. Stream and task mutations join stream goroutines,
// so a burst of them could otherwise pile up.
//
//	router.Use(LimitConcurrentRequests(64))
func LimitConcurrentRequests(maxConcurrent int) gin.HandlerFunc {
	sem := semaphore.NewWeighted(int64(maxConcurrent))

	return func(c *gin.Context) {
		if !sem.TryAcquire(1) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"message": "too many concurrent requests",
			})
			return
		}
		defer sem.Release(1)
		c.Next()
	}
}
