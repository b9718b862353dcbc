package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dkurbatov/freightgate/internal/logging"
)

func Recovery(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					logging.String("request_id", c.GetString(requestIDKey)),
					logging.Any("panic", err),
				)

				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Internal Server Error",
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}
