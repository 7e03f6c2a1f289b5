package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/park285/deck-orchestrator-go/internal/config"
)

// Recorder 는 UsageRecord 를 일자/액션 단위로 DB 에 누적하는 Sink 다.
type Recorder struct {
	store   Store
	batcher *batcher
	logger  *slog.Logger
}

// NewRecorder 는 설정에 따라 배치 사용 여부를 결정해 Recorder를 생성한다.
func NewRecorder(cfg config.DatabaseConfig, store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	recorder := &Recorder{
		store:  store,
		logger: logger,
	}

	if cfg.UsageBatchFlushIntervalSeconds > 0 {
		recorder.batcher = newBatcher(cfg, store, logger)
		recorder.batcher.start()
		logger.Info(
			"usage_db_batch_enabled",
			"flush_interval_seconds", cfg.UsageBatchFlushIntervalSeconds,
			"flush_timeout_seconds", cfg.UsageBatchFlushTimeoutSeconds,
			"max_pending_requests", cfg.UsageBatchMaxPendingRequests,
			"max_backoff_seconds", cfg.UsageBatchMaxBackoffSeconds,
			"error_log_max_interval_seconds", cfg.UsageBatchErrorLogMaxIntervalSeconds,
		)
	}

	return recorder
}

// Record 는 시도 1회의 사용량을 누적한다.
func (r *Recorder) Record(ctx context.Context, rec UsageRecord) {
	if r == nil || r.store == nil {
		return
	}

	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	key := dayAction{day: UsageDay(created), action: rec.Action}
	delta := deltaOf(rec)
	if r.batcher != nil {
		r.batcher.add(key, delta)
		return
	}

	if err := r.store.RecordUsage(ctx, key.day, key.action, delta); err != nil {
		r.logger.Warn("usage_db_save_failed", "action", rec.Action, "err", err)
	}
}

// Close 는 배치 플러셔를 중지하고 저장소를 닫는다.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	if r.batcher != nil {
		r.batcher.stop()
	}
	if r.store != nil {
		r.store.Close()
	}
}

var _ Sink = (*Recorder)(nil)
