package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/park285/deck-orchestrator-go/internal/config"
)

// dayAction 은 DB 행 하나에 대응하는 누적 단위다.
type dayAction struct {
	day    time.Time
	action string
}

const (
	defaultFlushTimeout = 5 * time.Second
	// 로그 간격이 설정되지 않았을 때 실패 로그를 남기는 주기(회)
	defaultFailureLogEvery = 10
)

// batchTotals 는 플러시 결과 누계다.
type batchTotals struct {
	flushed  int
	requeued int
	dropped  int
}

// batcher 는 UsageRecord 델타를 (일자, 액션) 단위로 모았다가 주기적으로 저장소에 쓴다.
// 실패한 델타는 다시 대기열에 합쳐지고, 다음 플러시는 지수 백오프만큼 미뤄진다.
type batcher struct {
	store        Store
	logger       *slog.Logger
	interval     time.Duration
	flushTimeout time.Duration
	highWater    int

	mu       sync.Mutex
	pending  map[dayAction]*usageDelta
	requests int

	// 아래 필드는 loop 고루틴에서만 접근한다
	retry      *backoff.ExponentialBackOff
	failures   int
	holdUntil  time.Time
	failureLog *rate.Sometimes
	totals     batchTotals

	wakeup chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

func newBatcher(cfg config.DatabaseConfig, store Store, logger *slog.Logger) *batcher {
	if logger == nil {
		logger = slog.Default()
	}
	interval := secondsOr(cfg.UsageBatchFlushIntervalSeconds, time.Second)
	flushTimeout := secondsOr(cfg.UsageBatchFlushTimeoutSeconds, defaultFlushTimeout)

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = interval
	retry.Multiplier = 2
	retry.RandomizationFactor = 0
	retry.MaxInterval = secondsOr(cfg.UsageBatchMaxBackoffSeconds, interval)
	retry.MaxElapsedTime = 0
	retry.Reset()

	failureLog := &rate.Sometimes{First: 1, Every: defaultFailureLogEvery}
	if cfg.UsageBatchErrorLogMaxIntervalSeconds > 0 {
		failureLog = &rate.Sometimes{First: 1, Interval: time.Duration(cfg.UsageBatchErrorLogMaxIntervalSeconds) * time.Second}
	}

	return &batcher{
		store:        store,
		logger:       logger,
		interval:     interval,
		flushTimeout: flushTimeout,
		highWater:    max(cfg.UsageBatchMaxPendingRequests, 1),
		pending:      make(map[dayAction]*usageDelta),
		retry:        retry,
		failureLog:   failureLog,
		wakeup:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

func secondsOr(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func (b *batcher) start() {
	go b.loop()
}

// stop 은 남은 델타를 한 번 더 쓰고 루프를 끝낸다.
func (b *batcher) stop() {
	close(b.stopCh)
	<-b.doneCh
}

func (b *batcher) add(key dayAction, delta usageDelta) {
	if delta.requestCount <= 0 {
		return
	}
	if b.merge(key, delta) >= b.highWater {
		select {
		case b.wakeup <- struct{}{}:
		default:
		}
	}
}

// merge 는 델타를 합치고 대기 중인 요청 수를 반환한다.
func (b *batcher) merge(key dayAction, delta usageDelta) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	current := b.pending[key]
	if current == nil {
		current = &usageDelta{}
		b.pending[key] = current
	}
	current.merge(delta)
	b.requests += int(delta.requestCount)
	return b.requests
}

func (b *batcher) drain() map[dayAction]usageDelta {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[dayAction]usageDelta, len(b.pending))
	for key, delta := range b.pending {
		out[key] = *delta
	}
	b.pending = make(map[dayAction]*usageDelta)
	b.requests = 0
	return out
}

func (b *batcher) pendingRequests() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests
}

func (b *batcher) loop() {
	ticker := time.NewTicker(b.interval)
	defer func() {
		ticker.Stop()
		close(b.doneCh)
	}()

	for {
		select {
		case <-ticker.C:
			b.flush(false)
		case <-b.wakeup:
			b.flush(false)
		case <-b.stopCh:
			b.flush(true)
			b.logger.Info("usage_db_batch_stopped",
				"flushed", b.totals.flushed,
				"requeued", b.totals.requeued,
				"dropped", b.totals.dropped,
			)
			return
		}
	}
}

// flush 는 대기 델타를 저장한다. 종료 중에는 백오프를 무시하고 실패분을 버린다.
func (b *batcher) flush(final bool) {
	if !final && time.Now().Before(b.holdUntil) {
		return
	}

	batch := b.drain()
	if len(batch) == 0 {
		return
	}

	var firstErr error
	for key, delta := range batch {
		if err := b.write(key, delta); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if final {
				b.totals.dropped++
				continue
			}
			b.merge(key, delta)
			b.totals.requeued++
			continue
		}
		b.totals.flushed++
	}

	if firstErr == nil {
		b.failures = 0
		b.holdUntil = time.Time{}
		b.retry.Reset()
		return
	}
	b.failures++
	delay := b.retry.NextBackOff()
	b.holdUntil = time.Now().Add(delay)
	b.failureLog.Do(func() {
		b.logger.Warn("usage_db_batch_flush_failed",
			"failures", b.failures,
			"backoff", delay,
			"pending_requests", b.pendingRequests(),
			"err", firstErr,
		)
	})
}

func (b *batcher) write(key dayAction, delta usageDelta) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.flushTimeout)
	defer cancel()
	return b.store.RecordUsage(ctx, key.day, key.action, delta)
}
