// Package usage 는 생성 호출의 토큰, 지연, 비용을 기록하고 액션별로 집계한다.
package usage

import (
	"time"

	"github.com/park285/deck-orchestrator-go/internal/llm"
)

// UsageRecord 는 업스트림 호출 1회(시도 단위)의 기록이다. 실패한 시도도 토큰 0으로 남긴다.
type UsageRecord struct {
	ID               string        `json:"id"`
	Model            string        `json:"model"`
	Kind             string        `json:"kind"`
	Action           string        `json:"action"`
	CorrelationID    string        `json:"correlation_id,omitempty"`
	Attempt          int           `json:"attempt"`
	InputTokens      int64         `json:"input_tokens"`
	OutputTokens     int64         `json:"output_tokens"`
	ReasoningTokens  int64         `json:"reasoning_tokens"`
	CacheWriteTokens int64         `json:"cache_write_tokens"`
	CacheReadTokens  int64         `json:"cache_read_tokens"`
	Latency          time.Duration `json:"latency_ns"`
	Cost             float64       `json:"cost_usd"`
	Success          bool          `json:"success"`
	Error            string        `json:"error,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// NewRecord 는 요청 정보로 기록 뼈대를 만든다.
func NewRecord(req llm.Request, model string, attempt int) UsageRecord {
	return UsageRecord{
		Model:         model,
		Kind:          req.Kind(),
		Action:        req.ActionName(),
		CorrelationID: req.CorrelationID,
		Attempt:       attempt,
	}
}

// WithUsage 는 응답 토큰 수를 채운다.
func (r UsageRecord) WithUsage(u llm.Usage) UsageRecord {
	r.InputTokens = int64(u.InputTokens)
	r.OutputTokens = int64(u.OutputTokens)
	r.ReasoningTokens = int64(u.ReasoningTokens)
	r.CacheWriteTokens = int64(u.CacheWriteTokens)
	r.CacheReadTokens = int64(u.CacheReadTokens)
	return r
}

// TotalTokens 는 입력+출력 토큰 합계를 반환한다.
func (r UsageRecord) TotalTokens() int64 {
	return r.InputTokens + r.OutputTokens
}

// ActionSummary 는 논리 액션 하나의 누적 집계다.
type ActionSummary struct {
	Action           string  `json:"action"`
	Calls            int64   `json:"calls"`
	Failures         int64   `json:"failures"`
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	ReasoningTokens  int64   `json:"reasoning_tokens"`
	CacheWriteTokens int64   `json:"cache_write_tokens"`
	CacheReadTokens  int64   `json:"cache_read_tokens"`
	Cost             float64 `json:"cost_usd"`
	TotalLatencyMS   int64   `json:"total_latency_ms"`
	AvgLatencyMS     float64 `json:"avg_latency_ms"`
}

func (s *ActionSummary) add(rec UsageRecord) {
	s.Calls++
	if !rec.Success {
		s.Failures++
	}
	s.InputTokens += rec.InputTokens
	s.OutputTokens += rec.OutputTokens
	s.ReasoningTokens += rec.ReasoningTokens
	s.CacheWriteTokens += rec.CacheWriteTokens
	s.CacheReadTokens += rec.CacheReadTokens
	s.Cost += rec.Cost
	s.TotalLatencyMS += rec.Latency.Milliseconds()
	s.AvgLatencyMS = float64(s.TotalLatencyMS) / float64(s.Calls)
}
