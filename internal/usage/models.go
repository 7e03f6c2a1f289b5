package usage

import "time"

// ActionUsage 는 일자별, 액션별 토큰/비용 누계 행이다.
type ActionUsage struct {
	ID               int64     `gorm:"column:id;primaryKey"`
	UsageDate        time.Time `gorm:"column:usage_date;type:date;not null;uniqueIndex:idx_deck_action_usage_day_action,priority:1"`
	Action           string    `gorm:"column:action;not null;uniqueIndex:idx_deck_action_usage_day_action,priority:2"`
	InputTokens      int64     `gorm:"column:input_tokens;not null;default:0"`
	OutputTokens     int64     `gorm:"column:output_tokens;not null;default:0"`
	CacheWriteTokens int64     `gorm:"column:cache_write_tokens;not null;default:0"`
	CacheReadTokens  int64     `gorm:"column:cache_read_tokens;not null;default:0"`
	CostUSD          float64   `gorm:"column:cost_usd;not null;default:0"`
	RequestCount     int64     `gorm:"column:request_count;not null;default:0"`
	FailureCount     int64     `gorm:"column:failure_count;not null;default:0"`
	Version          int64     `gorm:"column:version;not null;default:0"`
}

// TableName 은 GORM 테이블명이다.
func (ActionUsage) TableName() string {
	return "deck_action_usage"
}

func (a ActionUsage) view() DailyActionUsage {
	return DailyActionUsage{
		UsageDate:        a.UsageDate,
		Action:           a.Action,
		InputTokens:      a.InputTokens,
		OutputTokens:     a.OutputTokens,
		CacheWriteTokens: a.CacheWriteTokens,
		CacheReadTokens:  a.CacheReadTokens,
		CostUSD:          a.CostUSD,
		RequestCount:     a.RequestCount,
		FailureCount:     a.FailureCount,
	}
}

// usageDelta 는 (일자, 액션) 행에 더할 증분이다.
type usageDelta struct {
	inputTokens      int64
	outputTokens     int64
	cacheWriteTokens int64
	cacheReadTokens  int64
	cost             float64
	requestCount     int64
	failureCount     int64
}

func deltaOf(rec UsageRecord) usageDelta {
	d := usageDelta{
		inputTokens:      rec.InputTokens,
		outputTokens:     rec.OutputTokens,
		cacheWriteTokens: rec.CacheWriteTokens,
		cacheReadTokens:  rec.CacheReadTokens,
		cost:             rec.Cost,
		requestCount:     1,
	}
	if !rec.Success {
		d.failureCount = 1
	}
	return d
}

func (d *usageDelta) merge(other usageDelta) {
	d.inputTokens += other.inputTokens
	d.outputTokens += other.outputTokens
	d.cacheWriteTokens += other.cacheWriteTokens
	d.cacheReadTokens += other.cacheReadTokens
	d.cost += other.cost
	d.requestCount += other.requestCount
	d.failureCount += other.failureCount
}

func (d usageDelta) row(day time.Time, action string) ActionUsage {
	return ActionUsage{
		UsageDate:        day,
		Action:           action,
		InputTokens:      d.inputTokens,
		OutputTokens:     d.outputTokens,
		CacheWriteTokens: d.cacheWriteTokens,
		CacheReadTokens:  d.cacheReadTokens,
		CostUSD:          d.cost,
		RequestCount:     d.requestCount,
		FailureCount:     d.failureCount,
	}
}

// DailyActionUsage 는 일자별 액션 사용량 조회 결과다.
type DailyActionUsage struct {
	UsageDate        time.Time `json:"usage_date"`
	Action           string    `json:"action"`
	InputTokens      int64     `json:"input_tokens"`
	OutputTokens     int64     `json:"output_tokens"`
	CacheWriteTokens int64     `json:"cache_write_tokens"`
	CacheReadTokens  int64     `json:"cache_read_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	RequestCount     int64     `json:"request_count"`
	FailureCount     int64     `json:"failure_count"`
}

// TotalTokens 는 입력+출력 토큰 합계다.
func (d DailyActionUsage) TotalTokens() int64 {
	return d.InputTokens + d.OutputTokens
}
