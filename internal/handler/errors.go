package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dkurbatov/freightgate/internal/circuitbreaker"
	"github.com/dkurbatov/freightgate/internal/gateway"
	"github.com/dkurbatov/freightgate/internal/ratelimit"
	"github.com/dkurbatov/freightgate/internal/retry"
)

// respondUpstreamError maps outbound-call failures to client responses.
// Breaker and limiter rejections are recoverable by the caller: 429 says
// retry later, 503 says the downstream is temporarily unavailable.
func respondUpstreamError(c *gin.Context, err error) {
	var rateErr *ratelimit.RateLimitError
	if errors.As(err, &rateErr) {
		c.Header("Retry-After", "1")
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": "too many requests, retry later",
		})
		return
	}

	var openErr *circuitbreaker.CircuitOpenError
	if errors.As(err, &openErr) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "service temporarily unavailable",
		})
		return
	}

	var exhaustedErr *retry.ExhaustedError
	if errors.As(err, &exhaustedErr) {
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "upstream service failed",
		})
		return
	}

	var upstreamErr *gateway.UpstreamError
	if errors.As(err, &upstreamErr) {
		if upstreamErr.Status == http.StatusNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "upstream service failed",
		})
		return
	}

	c.JSON(http.StatusBadGateway, gin.H{
		"error": "upstream service failed",
	})
}
