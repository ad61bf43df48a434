package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// RequireValidTaskID ensures the path param ":id" is an int > 0.
func RequireValidTaskID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid task id"})
			return
		}
		c.Next()
	}
}

// RequireValidStreamID ensures the path param ":id" is a usable stream id.
func RequireValidStreamID() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.Param("id"); id == "" || len(id) > 128 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid stream id"})
			return
		}
		c.Next()
	}
}
