// Package metrics 는 업스트림 호출, 큐, 복구 단계 통계를 보관하고 Prometheus 로 노출한다.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/park285/deck-orchestrator-go/internal/llm"
)

const namespace = "deck_orchestrator"

// 업스트림 호출 결과 라벨
const (
	OutcomeSuccess     = "success"
	OutcomeRetryable   = "retryable"
	OutcomeRateLimited = "rate_limited"
	OutcomeFatal       = "fatal"
	OutcomeTimeout     = "timeout"
)

// 큐 이벤트 라벨
const (
	QueueEnqueued   = "enqueued"
	QueueDispatched = "dispatched"
	QueueRetried    = "retried"
	QueueCacheHit   = "cache_hit"
	QueueCoalesced  = "coalesced"
	QueueSucceeded  = "succeeded"
	QueueFailed     = "failed"
)

// Store 는 LLM 호출 통계를 저장한다.
// 원자 카운터는 JSON 스냅샷용이고, 같은 값을 전용 레지스트리의 Prometheus 수집기에도 기록한다.
type Store struct {
	totalCalls           int64
	totalErrors          int64
	totalRateLimited     int64
	totalTimeouts        int64
	totalInputTokens     int64
	totalOutputTokens    int64
	totalReasoningTokens int64
	totalCacheReadTokens int64
	totalDurationMs      int64

	registry        *prometheus.Registry
	upstreamCalls   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	tokens          *prometheus.CounterVec
	queueEvents     *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	repairTiers     *prometheus.CounterVec
}

// NewStore 는 통계 저장소와 전용 Prometheus 레지스트리를 생성한다.
func NewStore() *Store {
	s := &Store{
		registry: prometheus.NewRegistry(),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_calls_total",
			Help:      "Upstream generation attempts by model and outcome.",
		}, []string{"model", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_call_duration_seconds",
			Help:      "Latency of upstream generation attempts.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60},
		}, []string{"model"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens consumed by type.",
		}, []string{"type"}),
		queueEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_events_total",
			Help:      "Request queue lifecycle events.",
		}, []string{"event"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Items waiting in the request queue.",
		}),
		repairTiers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repair_tier_total",
			Help:      "Response repair outcomes by tier.",
		}, []string{"tier"}),
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		s.upstreamCalls,
		s.upstreamLatency,
		s.tokens,
		s.queueEvents,
		s.queueDepth,
		s.repairTiers,
	)
	return s
}

// RecordSuccess 는 성공 호출 통계를 기록한다.
func (s *Store) RecordSuccess(model string, duration time.Duration, usage llm.Usage) {
	atomic.AddInt64(&s.totalCalls, 1)
	atomic.AddInt64(&s.totalInputTokens, int64(usage.InputTokens))
	atomic.AddInt64(&s.totalOutputTokens, int64(usage.OutputTokens))
	atomic.AddInt64(&s.totalReasoningTokens, int64(usage.ReasoningTokens))
	atomic.AddInt64(&s.totalCacheReadTokens, int64(usage.CacheReadTokens))
	atomic.AddInt64(&s.totalDurationMs, duration.Milliseconds())

	s.upstreamCalls.WithLabelValues(model, OutcomeSuccess).Inc()
	s.upstreamLatency.WithLabelValues(model).Observe(duration.Seconds())
	s.tokens.WithLabelValues("input").Add(float64(usage.InputTokens))
	s.tokens.WithLabelValues("output").Add(float64(usage.OutputTokens))
	s.tokens.WithLabelValues("reasoning").Add(float64(usage.ReasoningTokens))
	s.tokens.WithLabelValues("cache_read").Add(float64(usage.CacheReadTokens))
}

// RecordError 는 실패 호출 통계를 outcome 라벨과 함께 기록한다.
func (s *Store) RecordError(model string, duration time.Duration, outcome string) {
	atomic.AddInt64(&s.totalCalls, 1)
	atomic.AddInt64(&s.totalErrors, 1)
	atomic.AddInt64(&s.totalDurationMs, duration.Milliseconds())
	switch outcome {
	case OutcomeRateLimited:
		atomic.AddInt64(&s.totalRateLimited, 1)
	case OutcomeTimeout:
		atomic.AddInt64(&s.totalTimeouts, 1)
	}

	s.upstreamCalls.WithLabelValues(model, outcome).Inc()
	s.upstreamLatency.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordQueueEvent 는 큐 이벤트를 센다.
func (s *Store) RecordQueueEvent(event string) {
	s.queueEvents.WithLabelValues(event).Inc()
}

// SetQueueDepth 는 대기 항목 수를 갱신한다.
func (s *Store) SetQueueDepth(depth int) {
	s.queueDepth.Set(float64(depth))
}

// RecordRepairTier 는 복구 단계 결과를 센다.
func (s *Store) RecordRepairTier(tier string) {
	s.repairTiers.WithLabelValues(tier).Inc()
}

// Handler 는 /metrics 노출용 핸들러다.
func (s *Store) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

// Registry 는 전용 레지스트리를 반환한다.
func (s *Store) Registry() *prometheus.Registry {
	return s.registry
}

// UsageTotals 는 누적 사용량을 반환한다.
func (s *Store) UsageTotals() llm.Usage {
	return llm.Usage{
		InputTokens:     int(atomic.LoadInt64(&s.totalInputTokens)),
		OutputTokens:    int(atomic.LoadInt64(&s.totalOutputTokens)),
		ReasoningTokens: int(atomic.LoadInt64(&s.totalReasoningTokens)),
		CacheReadTokens: int(atomic.LoadInt64(&s.totalCacheReadTokens)),
	}
}

// Snapshot 는 통계 스냅샷을 반환한다.
func (s *Store) Snapshot() map[string]float64 {
	totalCalls := atomic.LoadInt64(&s.totalCalls)
	totalErrors := atomic.LoadInt64(&s.totalErrors)
	input := atomic.LoadInt64(&s.totalInputTokens)
	output := atomic.LoadInt64(&s.totalOutputTokens)
	reasoning := atomic.LoadInt64(&s.totalReasoningTokens)
	cacheRead := atomic.LoadInt64(&s.totalCacheReadTokens)
	durationMs := atomic.LoadInt64(&s.totalDurationMs)

	avgDuration := 0.0
	if totalCalls > 0 {
		avgDuration = float64(durationMs) / float64(totalCalls)
	}

	return map[string]float64{
		"total_calls":             float64(totalCalls),
		"total_errors":            float64(totalErrors),
		"total_rate_limited":      float64(atomic.LoadInt64(&s.totalRateLimited)),
		"total_timeouts":          float64(atomic.LoadInt64(&s.totalTimeouts)),
		"total_input_tokens":      float64(input),
		"total_output_tokens":     float64(output),
		"total_reasoning_tokens":  float64(reasoning),
		"total_cache_read_tokens": float64(cacheRead),
		"total_tokens":            float64(input + output),
		"total_duration_ms":       float64(durationMs),
		"avg_duration_ms":         avgDuration,
	}
}
