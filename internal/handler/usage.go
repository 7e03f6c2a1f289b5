package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/park285/deck-orchestrator-go/internal/httperror"
	"github.com/park285/deck-orchestrator-go/internal/usage"
)

const usageDateLayout = "2006-01-02"

// UsageSource: 메모리 집계 조회 인터페이스입니다.
type UsageSource interface {
	Aggregate(action string) (usage.ActionSummary, bool)
	Actions() []usage.ActionSummary
	Records(action string) []usage.UsageRecord
}

// DailyUsageSource: 영속 일자별 집계 조회 인터페이스입니다.
type DailyUsageSource interface {
	GetDailyUsage(ctx context.Context, usageDate time.Time) ([]usage.DailyActionUsage, error)
}

// MetricsSource: 호출 통계 스냅샷 인터페이스입니다.
type MetricsSource interface {
	Snapshot() map[string]float64
}

// ActionListResponse: 액션 목록 응답입니다.
type ActionListResponse struct {
	Actions      []usage.ActionSummary `json:"actions"`
	TotalCalls   int64                 `json:"total_calls"`
	TotalCostUSD float64               `json:"total_cost_usd"`
}

// ActionDetailResponse: 단일 액션 응답입니다. records 는 ?records=true 일 때만 채웁니다.
type ActionDetailResponse struct {
	usage.ActionSummary
	Records []usage.UsageRecord `json:"records,omitempty"`
}

// DailyUsageResponse: 일자별 사용량 응답입니다.
type DailyUsageResponse struct {
	UsageDate    string                   `json:"usage_date"`
	Usages       []usage.DailyActionUsage `json:"usages"`
	TotalTokens  int64                    `json:"total_tokens"`
	TotalCostUSD float64                  `json:"total_cost_usd"`
	RequestCount int64                    `json:"request_count"`
}

// UsageHandler: 사용량 API 핸들러입니다.
type UsageHandler struct {
	meter   UsageSource
	daily   DailyUsageSource
	metrics MetricsSource
	logger  *slog.Logger
}

// NewUsageHandler: 사용량 핸들러를 생성합니다. daily 는 nil 일 수 있습니다.
func NewUsageHandler(meter UsageSource, daily DailyUsageSource, metrics MetricsSource, logger *slog.Logger) *UsageHandler {
	return &UsageHandler{
		meter:   meter,
		daily:   daily,
		metrics: metrics,
		logger:  logger,
	}
}

// RegisterRoutes: 사용량 라우트를 등록합니다.
func (h *UsageHandler) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api/usage")
	group.GET("/actions", h.handleActions)
	group.GET("/actions/:action", h.handleAction)
	group.GET("/metrics", h.handleMetrics)
	group.GET("/daily", h.handleDaily)
}

func (h *UsageHandler) handleActions(c *gin.Context) {
	summaries := h.meter.Actions()
	response := ActionListResponse{Actions: summaries}
	for _, summary := range summaries {
		response.TotalCalls += summary.Calls
		response.TotalCostUSD += summary.Cost
	}
	c.JSON(http.StatusOK, response)
}

func (h *UsageHandler) handleAction(c *gin.Context) {
	action := c.Param("action")
	summary, ok := h.meter.Aggregate(action)
	if !ok {
		writeError(c, httperror.NewNotFound("action", action))
		return
	}

	response := ActionDetailResponse{ActionSummary: summary}
	if withRecords, _ := strconv.ParseBool(c.Query("records")); withRecords {
		response.Records = h.meter.Records(action)
	}
	c.JSON(http.StatusOK, response)
}

func (h *UsageHandler) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

func (h *UsageHandler) handleDaily(c *gin.Context) {
	if h.daily == nil {
		writeError(c, httperror.NewUnavailable("usage persistence is disabled"))
		return
	}
	usageDate, ok := parseUsageDate(c)
	if !ok {
		return
	}

	rows, err := h.daily.GetDailyUsage(c.Request.Context(), usageDate)
	if err != nil {
		h.logError(err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, buildDailyResponse(usageDate, rows))
}

func buildDailyResponse(usageDate time.Time, rows []usage.DailyActionUsage) DailyUsageResponse {
	response := DailyUsageResponse{
		UsageDate: usageDate.Format(usageDateLayout),
		Usages:    make([]usage.DailyActionUsage, 0, len(rows)),
	}
	for _, row := range rows {
		response.Usages = append(response.Usages, row)
		response.TotalTokens += row.TotalTokens()
		response.TotalCostUSD += row.CostUSD
		response.RequestCount += row.RequestCount
	}
	return response
}

// parseUsageDate: date 쿼리를 UTC 일자로 파싱합니다. 비어 있으면 오늘입니다.
func parseUsageDate(c *gin.Context) (time.Time, bool) {
	raw := c.Query("date")
	if raw == "" {
		return usage.UsageDay(time.Now()), true
	}
	parsed, err := time.ParseInLocation(usageDateLayout, raw, time.UTC)
	if err != nil {
		writeError(c, httperror.NewInvalidInput("date must be formatted as YYYY-MM-DD"))
		return time.Time{}, false
	}
	return parsed, true
}

func (h *UsageHandler) logError(err error) {
	if err == nil {
		return
	}
	h.logger.Warn("usage_request_failed", "err", err)
}
