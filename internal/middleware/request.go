package middleware

import (
	"time"

	"tunnel-keeper/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const HeaderRequestID = "X-Request-ID"

// RequestID 为每个请求设置X-Request-ID，客户端已经带了就沿用
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set(HeaderRequestID, id)
		c.Next()
	}
}

/**
 * Access log middleware writing one structured line per request
 * @param {logger.Logger} log - structured logger, usually logger.Named("http")
 * @returns {gin.HandlerFunc} gin middleware
 * @description
 * - 5xx responses are logged at error level, 4xx at warn, others at debug
 * - Health checks and metrics scrapes are only logged when they fail
 */
func AccessLog(log logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.Request.URL.Path
		if status < 400 && (path == "/healthz" || path == "/metrics") {
			return
		}
		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", path),
			logger.Int("status", status),
			logger.Duration("latency", time.Since(start)),
			logger.String("client", c.ClientIP()),
			logger.String("request_id", c.GetString("request_id")),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logger.String("errors", c.Errors.String()))
		}
		switch {
		case status >= 500:
			log.Error("http request", fields...)
		case status >= 400:
			log.Warn("http request", fields...)
		default:
			log.Debug("http request", fields...)
		}
	}
}
