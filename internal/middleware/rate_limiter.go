package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Baaaki/teamchat/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const bannedIPsKey = "banned_ips"

// RateLimiterConfig defines rate limiting rules
type RateLimiterConfig struct {
	MaxRequests int           // Maximum requests allowed in the window
	Window      time.Duration // Time window (e.g., 1 minute)
	BlockTime   time.Duration // Extra lockout after exceeding the limit; 0 disables it
}

// RateLimiter counts requests per authenticated user, or per IP for anonymous
// requests, in fixed Redis windows.
type RateLimiter struct {
	redis  *redis.Client
	config RateLimiterConfig
}

func NewRateLimiter(redisClient *redis.Client, config RateLimiterConfig) *RateLimiter {
	return &RateLimiter{redis: redisClient, config: config}
}

// Middleware returns a Gin middleware function for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		clientIP := c.ClientIP()

		if banned, err := rl.IsIPBanned(ctx, clientIP); err == nil && banned {
			abort(c, http.StatusForbidden, "forbidden",
				"Your IP address has been banned", "تم حظر عنوان IP الخاص بك")
			return
		}

		subject := "ip:" + clientIP
		if userID, ok := GetUserID(c); ok {
			subject = "user:" + userID.String()
		}

		allowed, retryAfter, err := rl.CheckLimit(ctx, subject)
		if err != nil {
			// fail open
			logger.Log.Warn("Rate limiter unavailable", zap.String("subject", subject), zap.Error(err))
			c.Next()
			return
		}

		if !allowed {
			seconds := int(retryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", fmt.Sprintf("%d", seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests. Please try again later.",
				"error_ar":    "طلبات كثيرة جداً. يرجى المحاولة لاحقاً.",
				"code":        "rate_limited",
				"retry_after": seconds,
			})
			return
		}

		c.Next()
	}
}

// CheckLimit counts one request for subject.
// Returns: (allowed bool, retryAfter duration, error)
func (rl *RateLimiter) CheckLimit(ctx context.Context, subject string) (bool, time.Duration, error) {
	blockKey := "ratelimit:block:" + subject
	if rl.config.BlockTime > 0 {
		ttl, err := rl.redis.TTL(ctx, blockKey).Result()
		if err != nil {
			return false, 0, err
		}
		if ttl > 0 {
			return false, ttl, nil
		}
	}

	key := "ratelimit:" + subject
	count, err := rl.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		if err := rl.redis.Expire(ctx, key, rl.config.Window).Err(); err != nil {
			return false, 0, err
		}
	}

	if count <= int64(rl.config.MaxRequests) {
		return true, 0, nil
	}

	if rl.config.BlockTime > 0 {
		if err := rl.redis.Set(ctx, blockKey, 1, rl.config.BlockTime).Err(); err != nil {
			return false, 0, err
		}
		return false, rl.config.BlockTime, nil
	}

	ttl, err := rl.redis.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		ttl = rl.config.Window
	}
	return false, ttl, nil
}

func (rl *RateLimiter) IsIPBanned(ctx context.Context, ip string) (bool, error) {
	return rl.redis.SIsMember(ctx, bannedIPsKey, ip).Result()
}

func (rl *RateLimiter) BanIP(ctx context.Context, ip string) error {
	return rl.redis.SAdd(ctx, bannedIPsKey, ip).Err()
}

func (rl *RateLimiter) UnbanIP(ctx context.Context, ip string) error {
	return rl.redis.SRem(ctx, bannedIPsKey, ip).Err()
}

// BannedIPs lists the ban set.
func (rl *RateLimiter) BannedIPs(ctx context.Context) ([]string, error) {
	return rl.redis.SMembers(ctx, bannedIPsKey).Result()
}
