package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/beanbrew/coffeeshop-api/internal/service"
	"github.com/beanbrew/coffeeshop-api/pkg/config"
	appErrors "github.com/beanbrew/coffeeshop-api/pkg/errors"
	"github.com/beanbrew/coffeeshop-api/pkg/response"
)

// RateLimit throttles requests per client IP with a fixed one-minute
// window counted in Redis. It fails open: when Redis is unreachable the
// request proceeds, because the credential checks behind it are the real
// line of defense.
func RateLimit(client *redis.Client, cfg config.RateLimitConfig, metricsSvc *service.MetricsService, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if !cfg.Enabled || client == nil {
			c.Next()
			return
		}

		window := time.Now().UTC().Unix() / 60
		key := fmt.Sprintf("ratelimit:%s:%d", c.ClientIP(), window)

		pipe := client.TxPipeline()
		count := pipe.Incr(c.Request.Context(), key)
		pipe.Expire(c.Request.Context(), key, 2*time.Minute)
		if _, err := pipe.Exec(c.Request.Context()); err != nil {
			logger.Warn("rate limit check failed", zap.Error(err))
			c.Next()
			return
		}

		if count.Val() > int64(cfg.PerMinute) {
			metricsSvc.ObserveRateLimitDenied()
			response.Error(c, appErrors.ErrRateLimited)
			c.Abort()
			return
		}

		c.Next()
	}
}
