package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultRateLimitCeiling is the per-address submission ceiling per window.
	DefaultRateLimitCeiling = 5
	// DefaultRateLimitWindow is the expiry window for the per-address counter.
	DefaultRateLimitWindow = time.Hour

	rateLimitKeyPrefix            = "contact_rate:"
	errorMessageTooManyRequests   = "Too many requests"
	logEventRateLimitCheckFailed  = "rate_limit_check_failed"
	logEventRateLimited           = "rate_limited"
	logFieldRateLimitedClientAddr = "client_ip"
)

// RateLimitMiddleware enforces a fixed-window per-client-address submission
// ceiling backed by Redis. A nil client disables enforcement, and Redis
// errors fail open: a broken counter store never blocks submissions.
func RateLimitMiddleware(redisClient *redis.Client, ceiling int, window time.Duration, logger *zap.Logger) gin.HandlerFunc {
	if ceiling <= 0 {
		ceiling = DefaultRateLimitCeiling
	}
	if window <= 0 {
		window = DefaultRateLimitWindow
	}

	return func(ginContext *gin.Context) {
		if redisClient == nil {
			ginContext.Next()
			return
		}

		requestContext := ginContext.Request.Context()
		counterKey := rateLimitKeyPrefix + ginContext.ClientIP()

		pipeline := redisClient.Pipeline()
		incrementCommand := pipeline.Incr(requestContext, counterKey)
		pipeline.Expire(requestContext, counterKey, window)
		if _, execErr := pipeline.Exec(requestContext); execErr != nil {
			logger.Warn(logEventRateLimitCheckFailed, zap.Error(execErr))
			ginContext.Next()
			return
		}

		if incrementCommand.Val() > int64(ceiling) {
			logger.Warn(logEventRateLimited, zap.String(logFieldRateLimitedClientAddr, ginContext.ClientIP()))
			ginContext.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"success": false, "error": errorMessageTooManyRequests})
			return
		}

		ginContext.Next()
	}
}
