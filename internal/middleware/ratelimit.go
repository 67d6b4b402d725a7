package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/sma-commerce-api/pkg/errors"
	"github.com/noah-isme/sma-commerce-api/pkg/ratelimit"
	"github.com/noah-isme/sma-commerce-api/pkg/response"
)

// RateLimit bounds polling per caller. Authenticated callers are keyed by user id, others by client IP.
// Store failures let the request through.
func RateLimit(limiter *ratelimit.Limiter, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		identity := "ip:" + c.ClientIP()
		if claims, ok := Claims(c); ok {
			identity = "user:" + strconv.FormatInt(claims.UserID, 10)
		}

		decision, err := limiter.Allow(c.Request.Context(), identity)
		if err != nil {
			log.Warn("rate limiter unavailable", zap.String("identity", identity), zap.Error(err))
			c.Next()
			return
		}
		if decision.Remaining >= 0 {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		}
		if !decision.Allowed {
			retry := time.Until(decision.ResetAt)
			if retry < time.Second {
				retry = time.Second
			}
			c.Header("Retry-After", strconv.Itoa(int(retry.Round(time.Second)/time.Second)))
			response.Error(c, appErrors.ErrTooManyRequests)
			c.Abort()
			return
		}
		c.Next()
	}
}
