// Package queue 는 업스트림 호출을 단일 소비자로 직렬화하고 rate limit 재시도를 담당한다.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/park285/deck-orchestrator-go/internal/apperr"
	"github.com/park285/deck-orchestrator-go/internal/config"
	"github.com/park285/deck-orchestrator-go/internal/deck"
	"github.com/park285/deck-orchestrator-go/internal/llm"
	"github.com/park285/deck-orchestrator-go/internal/metrics"
	"github.com/park285/deck-orchestrator-go/internal/retry"
)

const (
	defaultMinInterval  = 2 * time.Second
	defaultShutdownWait = 10 * time.Second
)

// ErrClosed 는 종료된 큐에 제출했거나 종료 시 남아 있던 항목의 오류다.
var ErrClosed = apperr.Fatal(http.StatusServiceUnavailable, "queue closed", nil)

// Dispatcher 는 항목 1건을 문서로 만드는 작업이다.
type Dispatcher interface {
	Generate(ctx context.Context, req llm.Request) (deck.Document, error)
}

// ResponseCache 는 큐가 쓰는 응답 캐시 계약이다.
type ResponseCache interface {
	KeyFor(req llm.Request) string
	Get(ctx context.Context, key string) (deck.Document, bool)
	Set(ctx context.Context, key string, doc deck.Document)
}

// Stats 는 큐 상태 스냅샷이다.
type Stats struct {
	Depth          int   `json:"depth"`
	InFlight       bool  `json:"in_flight"`
	PendingRetries int   `json:"pending_retries"`
	Running        bool  `json:"running"`
	Closed         bool  `json:"closed"`
	Enqueued       int64 `json:"enqueued"`
	Dispatched     int64 `json:"dispatched"`
	Retried        int64 `json:"retried"`
	CacheHits      int64 `json:"cache_hits"`
	Coalesced      int64 `json:"coalesced"`
	Succeeded      int64 `json:"succeeded"`
	Failed         int64 `json:"failed"`
}

// Queue 는 RequestQueue 구현이다.
type Queue struct {
	dispatcher   Dispatcher
	cache        ResponseCache
	policy       retry.RateLimitPolicy
	limiter      *rate.Limiter
	minInterval  time.Duration
	metrics      *metrics.Store
	logger       *slog.Logger
	shutdownWait time.Duration
	group        singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc

	// lastDispatch 는 소비자 goroutine 만 읽고 쓴다.
	lastDispatch time.Time

	mu       sync.Mutex
	items    []*QueuedItem
	retries  map[*QueuedItem]*time.Timer
	running  bool
	inFlight bool
	closed   bool
	idle     chan struct{}

	enqueued   atomic.Int64
	dispatched atomic.Int64
	retried    atomic.Int64
	cacheHits  atomic.Int64
	coalesced  atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
}

// Option 은 Queue 설정 함수다.
type Option func(*Queue)

// WithPolicy 는 rate limit 재시도 정책을 교체한다.
func WithPolicy(policy retry.RateLimitPolicy) Option {
	return func(q *Queue) {
		q.policy = policy
	}
}

// WithMinInterval 은 디스패치 간 최소 간격을 바꾼다.
func WithMinInterval(interval time.Duration) Option {
	return func(q *Queue) {
		q.minInterval = orDefaultInterval(interval)
		q.limiter = newLimiter(q.minInterval)
	}
}

// WithMetrics 는 큐 이벤트를 기록할 통계 저장소를 지정한다.
func WithMetrics(store *metrics.Store) Option {
	return func(q *Queue) {
		q.metrics = store
	}
}

// New 는 큐를 생성한다. 소비자 goroutine 은 첫 항목이 들어올 때 시작된다.
func New(dispatcher Dispatcher, cache ResponseCache, cfg config.QueueConfig, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		dispatcher:   dispatcher,
		cache:        cache,
		policy:       policyFromConfig(cfg),
		minInterval:  orDefaultInterval(cfg.MinInterval()),
		limiter:      newLimiter(cfg.MinInterval()),
		logger:       logger,
		shutdownWait: time.Duration(cfg.ShutdownWaitSecs) * time.Second,
		ctx:          ctx,
		cancel:       cancel,
		retries:      make(map[*QueuedItem]*time.Timer),
	}
	if q.shutdownWait <= 0 {
		q.shutdownWait = defaultShutdownWait
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func policyFromConfig(cfg config.QueueConfig) retry.RateLimitPolicy {
	policy := retry.DefaultRateLimitPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxRetries = cfg.MaxRetries
	}
	if schedule := cfg.RetrySchedule(); len(schedule) > 0 {
		policy.Schedule = schedule
	}
	return policy
}

func orDefaultInterval(interval time.Duration) time.Duration {
	if interval <= 0 {
		return defaultMinInterval
	}
	return interval
}

func newLimiter(interval time.Duration) *rate.Limiter {
	return rate.NewLimiter(rate.Every(orDefaultInterval(interval)), 1)
}

// Submit 은 요청이 성공, 캐시 적중, 최종 실패 중 하나로 끝날 때까지 기다린다.
// ctx 가 끝나면 기다림만 중단하고, 이미 들어간 항목은 계속 처리되어 캐시에 남는다.
func (q *Queue) Submit(ctx context.Context, req llm.Request) (deck.Document, error) {
	if q.isClosed() {
		return deck.Document{}, ErrClosed
	}

	key := q.cache.KeyFor(req)
	if doc, ok := q.cache.Get(ctx, key); ok {
		q.cacheHits.Add(1)
		q.event(metrics.QueueCacheHit)
		return doc, nil
	}

	resultCh := q.group.DoChan(key, func() (any, error) {
		// 앞선 항목이 방금 끝났을 수 있다
		if doc, ok := q.cache.Get(q.ctx, key); ok {
			q.cacheHits.Add(1)
			q.event(metrics.QueueCacheHit)
			return doc, nil
		}
		item, err := q.enqueue(req, key)
		if err != nil {
			return deck.Document{}, err
		}
		out := <-item.done
		return out.doc, out.err
	})

	select {
	case result := <-resultCh:
		if result.Shared {
			q.coalesced.Add(1)
			q.event(metrics.QueueCoalesced)
		}
		if result.Err != nil {
			return deck.Document{}, result.Err
		}
		doc, ok := result.Val.(deck.Document)
		if !ok {
			return deck.Document{}, fmt.Errorf("queue invalid singleflight result type: %T", result.Val)
		}
		return doc, nil
	case <-ctx.Done():
		return deck.Document{}, fmt.Errorf("queue submit: %w", ctx.Err())
	}
}

func (q *Queue) enqueue(req llm.Request, key string) (*QueuedItem, error) {
	item := newItem(req, key, time.Now())

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	q.items = append(q.items, item)
	q.enqueued.Add(1)
	q.event(metrics.QueueEnqueued)
	q.setDepthLocked()
	q.ensureConsumerLocked()

	q.logger.Debug("queue_item_enqueued", "item_id", item.ID, "correlation_id", req.CorrelationID, "depth", len(q.items))
	return item, nil
}

// requeueFront 는 재시도 항목을 맨 앞에 다시 넣는다.
func (q *Queue) requeueFront(item *QueuedItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.retries, item)
	if q.closed {
		q.failItem(item, ErrClosed)
		return
	}
	q.items = append([]*QueuedItem{item}, q.items...)
	q.setDepthLocked()
	q.ensureConsumerLocked()
}

func (q *Queue) ensureConsumerLocked() {
	if q.running {
		return
	}
	q.running = true
	q.idle = make(chan struct{})
	go q.consume(q.idle)
}

// consume 은 단일 소비자 루프다. 큐가 비면 종료하고 다음 제출 때 다시 시작된다.
func (q *Queue) consume(idle chan struct{}) {
	defer close(idle)
	for {
		item, ok := q.pop()
		if !ok {
			return
		}
		q.process(item)
	}
}

func (q *Queue) pop() (*QueuedItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.closed {
		q.running = false
		q.inFlight = false
		return nil, false
	}
	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.inFlight = true
	q.setDepthLocked()
	return item, true
}

func (q *Queue) process(item *QueuedItem) {
	defer q.setInFlight(false)

	if err := q.pace(); err != nil {
		q.failItem(item, ErrClosed)
		return
	}

	q.dispatched.Add(1)
	q.event(metrics.QueueDispatched)
	q.logger.Debug("queue_item_dispatched",
		"item_id", item.ID,
		"correlation_id", item.Request.CorrelationID,
		"retries", item.Retries,
		"waited", time.Since(item.EnqueuedAt),
	)

	q.lastDispatch = time.Now()
	doc, err := q.dispatcher.Generate(q.ctx, item.Request)
	if err == nil {
		// 캐시는 성공한 결과만 저장한다
		q.cache.Set(q.ctx, item.Key, doc)
		q.succeeded.Add(1)
		q.event(metrics.QueueSucceeded)
		item.resolve(doc, nil)
		return
	}

	class := retry.Classify(err)
	if class != retry.ClassRateLimited {
		q.failItem(item, err)
		return
	}

	again, delay := q.policy.Next(class, item.Retries)
	if !again {
		q.logger.Warn("queue_retries_exhausted",
			"item_id", item.ID,
			"correlation_id", item.Request.CorrelationID,
			"retries", item.Retries,
			"err", err,
		)
		q.failItem(item, apperr.RateLimitExceeded(item.Retries, err))
		return
	}

	item.Retries++
	q.retried.Add(1)
	q.event(metrics.QueueRetried)
	q.logger.Info("queue_retry_scheduled",
		"item_id", item.ID,
		"correlation_id", item.Request.CorrelationID,
		"retry", item.Retries,
		"delay", delay,
	)
	q.scheduleRetry(item, delay)
}

// pace 는 직전 디스패치 시각부터 minInterval 이 지날 때까지 기다린다.
// limiter 는 예약 시각 기준이라 타이머가 늦으면 간격이 줄어들 수 있어 실제 시각으로 다시 잰다.
func (q *Queue) pace() error {
	if err := q.limiter.Wait(q.ctx); err != nil {
		return err
	}
	if q.lastDispatch.IsZero() {
		return nil
	}
	wait := time.Until(q.lastDispatch.Add(q.minInterval))
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-q.ctx.Done():
		return q.ctx.Err()
	}
}

func (q *Queue) scheduleRetry(item *QueuedItem, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.failItem(item, ErrClosed)
		return
	}
	q.retries[item] = time.AfterFunc(delay, func() {
		q.requeueFront(item)
	})
}

func (q *Queue) failItem(item *QueuedItem, err error) {
	if item.resolve(deck.Document{}, err) {
		q.failed.Add(1)
		q.event(metrics.QueueFailed)
	}
}

func (q *Queue) setInFlight(v bool) {
	q.mu.Lock()
	q.inFlight = v
	q.mu.Unlock()
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Stats 는 현재 큐 상태를 반환한다.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	depth, inFlight, pending, running, closed := len(q.items), q.inFlight, len(q.retries), q.running, q.closed
	q.mu.Unlock()

	return Stats{
		Depth:          depth,
		InFlight:       inFlight,
		PendingRetries: pending,
		Running:        running,
		Closed:         closed,
		Enqueued:       q.enqueued.Load(),
		Dispatched:     q.dispatched.Load(),
		Retried:        q.retried.Load(),
		CacheHits:      q.cacheHits.Load(),
		Coalesced:      q.coalesced.Load(),
		Succeeded:      q.succeeded.Load(),
		Failed:         q.failed.Load(),
	}
}

// Ready 는 새 제출을 받을 수 있는지 여부다.
func (q *Queue) Ready() error {
	if q.isClosed() {
		return errors.New("queue closed")
	}
	return nil
}

// Close 는 새 제출을 막고 대기 중인 재시도와 항목을 종료 오류로 정리한다.
// 진행 중인 디스패치는 shutdownWait 동안 기다린 뒤 취소한다.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for item, timer := range q.retries {
		timer.Stop()
		q.failItem(item, ErrClosed)
		delete(q.retries, item)
	}
	for _, item := range q.items {
		q.failItem(item, ErrClosed)
	}
	q.items = nil
	q.setDepthLocked()
	idle, running := q.idle, q.running
	q.mu.Unlock()

	if running {
		timer := time.NewTimer(q.shutdownWait)
		select {
		case <-idle:
			timer.Stop()
		case <-timer.C:
			q.logger.Warn("queue_shutdown_timeout", "wait", q.shutdownWait)
			q.cancel()
			<-idle
		}
	}
	q.cancel()
}

func (q *Queue) event(name string) {
	if q.metrics != nil {
		q.metrics.RecordQueueEvent(name)
	}
}

func (q *Queue) setDepthLocked() {
	if q.metrics != nil {
		q.metrics.SetQueueDepth(len(q.items))
	}
}
