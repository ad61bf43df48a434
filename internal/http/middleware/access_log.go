package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AccessLog writes one entry per request once it is handled. Successful
// requests log at debug so status polling stays quiet; 4xx warn, 5xx error.
func AccessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		lvl := zapcore.DebugLevel
		if status >= 500 {
			lvl = zapcore.ErrorLevel
		} else if status >= 400 {
			lvl = zapcore.WarnLevel
		}

		ce := log.Check(lvl, "request")
		if ce == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "<unmatched>"
		}
		fields := []zap.Field{
			zap.String("request_id", GetRequestID(c)),
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("took", time.Since(start)),
			zap.String("remote", c.ClientIP()),
		}
		if errs := c.Errors.ByType(gin.ErrorTypeAny); len(errs) > 0 {
			fields = append(fields, zap.Strings("errors", errs.Errors()))
		}
		ce.Write(fields...)
	}
}
