package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/park285/deck-orchestrator-go/internal/config"
	"github.com/park285/deck-orchestrator-go/internal/health"
)

// ModelConfigResponse: 모델 설정 응답입니다.
type ModelConfigResponse struct {
	ModelDefault          string  `json:"model_default"`
	ModelModify           string  `json:"model_modify"`
	Temperature           float64 `json:"temperature"`
	ConfiguredTemperature float64 `json:"configured_temperature"`
	MaxOutputTokens       int     `json:"max_output_tokens"`
	TimeoutSeconds        int     `json:"timeout_seconds"`
	QueueMaxRetries       int     `json:"queue_max_retries"`
	QueueMinIntervalMS    int     `json:"queue_min_interval_ms"`
	HTTP2Enabled          bool    `json:"http2_enabled"`
	TransportMode         string  `json:"transport_mode"`
}

// HealthHandler: 상태 확인 핸들러입니다.
type HealthHandler struct {
	cfg     *config.Config
	probes  []health.Probe
	metrics http.Handler
}

// NewHealthHandler: readiness probe 와 /metrics 핸들러로 상태 핸들러를 생성합니다.
func NewHealthHandler(cfg *config.Config, metrics http.Handler, probes ...health.Probe) *HealthHandler {
	return &HealthHandler{cfg: cfg, probes: probes, metrics: metrics}
}

// RegisterRoutes: 상태 확인 라우트를 등록합니다.
func (h *HealthHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		// Liveness: 외부 의존성 상태로 다운 판정되지 않도록 shallow로 유지합니다.
		c.JSON(http.StatusOK, health.Collect(c.Request.Context(), h.cfg, false))
	})

	router.GET("/health/ready", func(c *gin.Context) {
		payload := health.Collect(c.Request.Context(), h.cfg, true, h.probes...)
		status := http.StatusOK
		if payload.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, payload)
	})

	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}

	router.GET("/health/models", func(c *gin.Context) {
		c.JSON(http.StatusOK, h.modelConfig())
	})
}

func (h *HealthHandler) modelConfig() ModelConfigResponse {
	cfg := h.cfg
	defaultModel := cfg.Gemini.ModelFor(false)

	transportMode := "h1"
	if cfg.HTTP.HTTP2Enabled {
		transportMode = "h2c"
	}

	return ModelConfigResponse{
		ModelDefault:          defaultModel,
		ModelModify:           cfg.Gemini.ModelFor(true),
		Temperature:           cfg.Gemini.TemperatureForModel(defaultModel),
		ConfiguredTemperature: cfg.Gemini.Temperature,
		MaxOutputTokens:       cfg.Gemini.MaxOutputTokens,
		TimeoutSeconds:        cfg.Gemini.TimeoutSeconds,
		QueueMaxRetries:       cfg.Queue.MaxRetries,
		QueueMinIntervalMS:    cfg.Queue.MinIntervalMS,
		HTTP2Enabled:          cfg.HTTP.HTTP2Enabled,
		TransportMode:         transportMode,
	}
}
