package handler

import (
	"log/slog"
	"strings"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/park285/deck-orchestrator-go/internal/config"
	"github.com/park285/deck-orchestrator-go/internal/middleware"
)

// NewRouter 는 HTTP 라우터를 구성한다.
func NewRouter(
	cfg *config.Config,
	logger *slog.Logger,
	deckHandler *DeckHandler,
	usageHandler *UsageHandler,
	healthHandler *HealthHandler,
) *gin.Engine {
	setGinMode(cfg.Logging.Level)

	router := gin.New()
	if cfg.Telemetry.Enabled {
		router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	}
	router.Use(
		middleware.RequestID(),
		middleware.RequestLogger(logger),
		gin.Recovery(),
		newGzipMiddleware(),
		middleware.APIKeyAuth(cfg.HTTPAuth),
		middleware.RateLimit(cfg.HTTPRateLimit),
	)

	healthHandler.RegisterRoutes(router)
	deckHandler.RegisterRoutes(router)
	usageHandler.RegisterRoutes(router)

	return router
}

func newGzipMiddleware() gin.HandlerFunc {
	return gzip.Gzip(gzip.DefaultCompression, gzip.WithCustomShouldCompressFn(func(c *gin.Context) bool {
		// 프로브/스크레이프 응답은 압축 제외
		path := c.Request.URL.Path
		if path == "/metrics" || path == "/health" || strings.HasPrefix(path, "/health/") {
			return false
		}
		return true
	}))
}

func setGinMode(level string) {
	if strings.EqualFold(strings.TrimSpace(level), "debug") {
		gin.SetMode(gin.DebugMode)
		return
	}
	gin.SetMode(gin.ReleaseMode)
}
