package usage

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultMaxRecords = 10000

// Sink 는 기록을 외부로 내보내는 선택적 관찰 계층이다. 미터는 Sink 결과를 읽지 않는다.
type Sink interface {
	Record(ctx context.Context, rec UsageRecord)
	Close()
}

// Meter 는 UsageRecord 를 추가 전용으로 보관하고 액션별 집계를 유지한다.
// 보관 한도를 넘으면 오래된 기록부터 버리지만 집계는 추가 시점에 누적되므로 정확하다.
type Meter struct {
	prices     *PriceTable
	logger     *slog.Logger
	maxRecords int
	sinks      []Sink
	now        func() time.Time

	mu sync.RWMutex
	// records 는 maxRecords 크기의 링 버퍼다. head 가 가장 오래된 기록이다.
	records   []UsageRecord
	head      int
	summaries map[string]*ActionSummary
}

// MeterOption 은 Meter 설정 함수다.
type MeterOption func(*Meter)

// WithSinks 는 기록을 전달할 Sink 를 추가한다.
func WithSinks(sinks ...Sink) MeterOption {
	return func(m *Meter) {
		for _, s := range sinks {
			if s != nil {
				m.sinks = append(m.sinks, s)
			}
		}
	}
}

// WithMaxRecords 는 메모리에 보관할 기록 수를 정한다.
func WithMaxRecords(n int) MeterOption {
	return func(m *Meter) {
		if n > 0 {
			m.maxRecords = n
		}
	}
}

// NewMeter 는 단가표를 사용하는 Meter 를 생성한다.
func NewMeter(prices *PriceTable, logger *slog.Logger, opts ...MeterOption) *Meter {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Meter{
		prices:     prices,
		logger:     logger,
		maxRecords: defaultMaxRecords,
		now:        time.Now,
		summaries:  make(map[string]*ActionSummary),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record 는 기록을 추가한다. ID, 시각, 비용이 비어 있으면 채워서 반환한다.
func (m *Meter) Record(ctx context.Context, rec UsageRecord) UsageRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	if rec.Cost == 0 && m.prices != nil {
		rec.Cost = m.prices.Cost(rec)
	}

	m.mu.Lock()
	m.keepLocked(rec)
	summary := m.summaries[rec.Action]
	if summary == nil {
		summary = &ActionSummary{Action: rec.Action}
		m.summaries[rec.Action] = summary
	}
	summary.add(rec)
	m.mu.Unlock()

	for _, sink := range m.sinks {
		sink.Record(ctx, rec)
	}
	return rec
}

// Aggregate 는 액션 하나의 집계를 반환한다.
func (m *Meter) Aggregate(action string) (ActionSummary, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summary, ok := m.summaries[action]
	if !ok {
		return ActionSummary{Action: action}, false
	}
	return *summary, true
}

// Actions 는 모든 액션 집계를 이름순으로 반환한다.
func (m *Meter) Actions() []ActionSummary {
	m.mu.RLock()
	out := make([]ActionSummary, 0, len(m.summaries))
	for _, s := range m.summaries {
		out = append(out, *s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out
}

// Records 는 보관 중인 액션의 기록을 오래된 순으로 반환한다. action 이 비어 있으면 전체다.
func (m *Meter) Records(action string) []UsageRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]UsageRecord, 0)
	for i := range m.records {
		rec := m.records[(m.head+i)%len(m.records)]
		if action == "" || rec.Action == action {
			out = append(out, rec)
		}
	}
	return out
}

// keepLocked 는 한도까지는 뒤에 붙이고, 가득 차면 가장 오래된 칸을 덮어쓴다.
func (m *Meter) keepLocked(rec UsageRecord) {
	if len(m.records) < m.maxRecords {
		m.records = append(m.records, rec)
		return
	}
	m.records[m.head] = rec
	m.head = (m.head + 1) % len(m.records)
}

// Close 는 Sink 를 닫는다.
func (m *Meter) Close() {
	if m == nil {
		return
	}
	for _, sink := range m.sinks {
		sink.Close()
	}
}
