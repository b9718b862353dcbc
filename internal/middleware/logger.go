package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dkurbatov/freightgate/internal/logging"
)

func Logger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		logger.Info("request",
			logging.String("request_id", c.GetString(requestIDKey)),
			logging.String("method", method),
			logging.String("path", path),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("latency", time.Since(start)),
			logging.String("client_ip", c.ClientIP()),
		)
	}
}
