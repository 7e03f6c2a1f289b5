package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/park285/deck-orchestrator-go/internal/config"
	"github.com/park285/deck-orchestrator-go/internal/httperror"
)

// APIKeyAuth 는 /api/ 경로를 공유 API 키로 보호한다. 키가 비어 있으면 통과시킨다.
func APIKeyAuth(cfg config.HTTPAuthConfig) gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(cfg.APIKey))

	return func(c *gin.Context) {
		if len(expected) == 0 || !isAPIPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		provided := extractAPIKey(c)
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
			abortWithError(c, httperror.NewUnauthorized(map[string]any{"path": c.Request.URL.Path}))
			return
		}
		c.Next()
	}
}

func extractAPIKey(c *gin.Context) string {
	if value := strings.TrimSpace(c.GetHeader("X-API-Key")); value != "" {
		return value
	}
	authValue := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(authValue) > 7 && strings.EqualFold(authValue[:7], "bearer ") {
		return strings.TrimSpace(authValue[7:])
	}
	return ""
}

func isAPIPath(path string) bool {
	return strings.HasPrefix(path, "/api/")
}
