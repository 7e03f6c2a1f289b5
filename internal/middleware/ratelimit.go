package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/park285/deck-orchestrator-go/internal/cache"
	"github.com/park285/deck-orchestrator-go/internal/config"
	"github.com/park285/deck-orchestrator-go/internal/httperror"
)

// RateLimit 는 호출자별 토큰 버킷 요청 제한 미들웨어다.
// 버킷은 TTL 캐시에 두어 오래 쓰지 않은 호출자는 잊는다.
func RateLimit(cfg config.HTTPRateLimitConfig) gin.HandlerFunc {
	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	buckets := cache.NewTTLCache[string, *rate.Limiter](cfg.CacheSize, ttl)
	every := rate.Every(time.Minute / time.Duration(perMinute))

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions || !isAPIPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		identity := rateLimitIdentity(c)
		limiter, _ := buckets.Modify(identity, func(current *rate.Limiter, exists bool) *rate.Limiter {
			if exists && current != nil {
				return current
			}
			return rate.NewLimiter(every, perMinute)
		})

		reservation := limiter.Reserve()
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			details := map[string]any{
				"path":             c.Request.URL.Path,
				"identity":         identity,
				"limit_per_minute": perMinute,
			}
			abortWithError(c, httperror.NewRateLimitExceeded(details, delay))
			return
		}
		c.Next()
	}
}

func rateLimitIdentity(c *gin.Context) string {
	if key := extractAPIKey(c); key != "" {
		return "key:" + hashKey(key)
	}

	forwarded := strings.TrimSpace(c.GetHeader("X-Forwarded-For"))
	if forwarded != "" {
		if ip := strings.TrimSpace(strings.Split(forwarded, ",")[0]); ip != "" {
			return "ip:" + ip
		}
	}
	if ip := c.ClientIP(); ip != "" {
		return "ip:" + ip
	}
	return "ip:unknown"
}

func hashKey(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:8])
}
