package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/park285/deck-orchestrator-go/internal/apperr"
	"github.com/park285/deck-orchestrator-go/internal/config"
	"github.com/park285/deck-orchestrator-go/internal/deck"
	"github.com/park285/deck-orchestrator-go/internal/llm"
	"github.com/park285/deck-orchestrator-go/internal/respcache"
	"github.com/park285/deck-orchestrator-go/internal/retry"
)

type statusError struct {
	code int
}

func (e statusError) Error() string   { return fmt.Sprintf("upstream returned %d", e.code) }
func (e statusError) HTTPStatus() int { return e.code }

type span struct {
	prompt     string
	start, end time.Time
}

// fakeDispatcher 는 프롬프트별로 준비된 오류를 순서대로 돌려주고 호출 구간을 기록한다.
type fakeDispatcher struct {
	mu      sync.Mutex
	delay   time.Duration
	errs    map[string][]error
	always  error
	release chan struct{}
	spans   []span
}

func (d *fakeDispatcher) Generate(ctx context.Context, req llm.Request) (deck.Document, error) {
	start := time.Now()
	if d.release != nil {
		<-d.release
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.spans = append(d.spans, span{prompt: req.Prompt, start: start, end: time.Now()})
	if d.always != nil {
		return deck.Document{}, d.always
	}
	if queued := d.errs[req.Prompt]; len(queued) > 0 {
		d.errs[req.Prompt] = queued[1:]
		return deck.Document{}, queued[0]
	}
	return deck.Document{
		Shape:  deck.ShapePresentation,
		Title:  req.Prompt,
		Slides: []deck.Slide{{ID: "s1", Blocks: []deck.Block{{Type: "Heading"}}}},
	}, nil
}

func (d *fakeDispatcher) calls() []span {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]span(nil), d.spans...)
}

// memoryCache 는 밀리초 단위 TTL 을 쓰는 테스트용 캐시다.
type memoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	doc        deck.Document
	insertedAt time.Time
}

func newMemoryCache(ttl time.Duration) *memoryCache {
	return &memoryCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

func (c *memoryCache) KeyFor(req llm.Request) string { return respcache.KeyFor(req) }

func (c *memoryCache) Get(_ context.Context, key string) (deck.Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || time.Since(entry.insertedAt) >= c.ttl {
		return deck.Document{}, false
	}
	return entry.doc, true
}

func (c *memoryCache) Set(_ context.Context, key string, doc deck.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{doc: doc, insertedAt: time.Now()}
}

func (c *memoryCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func newTestQueue(d Dispatcher, cache ResponseCache, interval time.Duration, schedule ...time.Duration) *Queue {
	if len(schedule) == 0 {
		schedule = []time.Duration{5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(d, cache, config.QueueConfig{ShutdownWaitSecs: 1}, logger,
		WithMinInterval(interval),
		WithPolicy(retry.RateLimitPolicy{MaxRetries: 3, Schedule: schedule}),
	)
}

func request(prompt string) llm.Request {
	return llm.Request{Prompt: prompt, Messages: []llm.Message{{Role: "user", Content: prompt}}}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSubmitCachesSuccessfulResult(t *testing.T) {
	d := &fakeDispatcher{}
	q := newTestQueue(d, newMemoryCache(time.Minute), time.Millisecond)
	defer q.Close()

	first, err := q.Submit(context.Background(), request("bees"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := q.Submit(context.Background(), request("bees"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.calls()) != 1 {
		t.Fatalf("expected exactly one upstream call, got %d", len(d.calls()))
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("cached result differs")
	}
	if stats := q.Stats(); stats.CacheHits != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestCacheExpiryTriggersFreshCall(t *testing.T) {
	d := &fakeDispatcher{}
	q := newTestQueue(d, newMemoryCache(30*time.Millisecond), time.Millisecond)
	defer q.Close()

	if _, err := q.Submit(context.Background(), request("bees")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := q.Submit(context.Background(), request("bees")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.calls()) != 2 {
		t.Fatalf("expected a fresh call after expiry, got %d", len(d.calls()))
	}
}

func TestDuplicateSubmissionsCoalesce(t *testing.T) {
	d := &fakeDispatcher{delay: 30 * time.Millisecond}
	q := newTestQueue(d, newMemoryCache(time.Minute), 20*time.Millisecond)
	defer q.Close()

	var wg sync.WaitGroup
	docs := make([]deck.Document, 2)
	errs := make([]error, 2)
	for i := range docs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			docs[i], errs[i] = q.Submit(context.Background(), request("same deck"))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(d.calls()) != 1 {
		t.Fatalf("expected one upstream call, got %d", len(d.calls()))
	}
	if !reflect.DeepEqual(docs[0], docs[1]) {
		t.Fatalf("callers received different documents")
	}
}

func TestDispatchesNeverOverlapAndArePaced(t *testing.T) {
	const interval = 25 * time.Millisecond
	d := &fakeDispatcher{delay: 5 * time.Millisecond}
	q := newTestQueue(d, newMemoryCache(time.Minute), interval)
	defer q.Close()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := q.Submit(context.Background(), request(fmt.Sprintf("deck-%d", i))); err != nil {
				t.Errorf("submit %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	calls := d.calls()
	if len(calls) != 5 {
		t.Fatalf("expected 5 calls, got %d", len(calls))
	}
	for i := 1; i < len(calls); i++ {
		if calls[i].start.Before(calls[i-1].end) {
			t.Fatalf("dispatch %d overlapped the previous one", i)
		}
		if gap := calls[i].start.Sub(calls[i-1].start); gap < interval {
			t.Fatalf("dispatch %d started %v after the previous one, want >= %v", i, gap, interval)
		}
	}
}

func TestPacingHoldsUnderTimerJitter(t *testing.T) {
	// 밀리초로 나누어떨어지지 않는 간격에서 연속 디스패치가 몰려도 간격이 줄지 않아야 한다
	const interval = 7333 * time.Microsecond
	d := &fakeDispatcher{}
	q := newTestQueue(d, newMemoryCache(time.Minute), interval)
	defer q.Close()

	const callers = 40
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := q.Submit(context.Background(), request(fmt.Sprintf("burst-%d", i))); err != nil {
				t.Errorf("submit %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	calls := d.calls()
	if len(calls) != callers {
		t.Fatalf("expected %d calls, got %d", callers, len(calls))
	}
	for i := 1; i < len(calls); i++ {
		if gap := calls[i].start.Sub(calls[i-1].start); gap < interval {
			t.Fatalf("dispatch %d started %v after the previous one, want >= %v", i, gap, interval)
		}
	}
}

func TestRateLimitedRetriesFollowSchedule(t *testing.T) {
	limited := statusError{code: http.StatusTooManyRequests}
	d := &fakeDispatcher{errs: map[string][]error{"bees": {limited, limited, limited}}}
	schedule := []time.Duration{30 * time.Millisecond, 60 * time.Millisecond, 120 * time.Millisecond}
	q := newTestQueue(d, newMemoryCache(time.Minute), time.Millisecond, schedule...)
	defer q.Close()

	start := time.Now()
	doc, err := q.Submit(context.Background(), request("bees"))
	elapsed := time.Since(start)
	if err != nil || doc.Title != "bees" {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if elapsed < 210*time.Millisecond {
		t.Fatalf("elapsed %v shorter than the retry schedule", elapsed)
	}

	calls := d.calls()
	if len(calls) != 4 {
		t.Fatalf("expected 4 dispatches, got %d", len(calls))
	}
	for i := 1; i < len(calls); i++ {
		gap := calls[i].start.Sub(calls[i-1].end)
		if gap < schedule[i-1] {
			t.Fatalf("retry %d waited %v, want >= %v", i, gap, schedule[i-1])
		}
	}
	if q.Stats().Retried != 3 {
		t.Fatalf("expected 3 retries, got %d", q.Stats().Retried)
	}
}

func TestRateLimitRetriesAreBounded(t *testing.T) {
	d := &fakeDispatcher{always: statusError{code: http.StatusTooManyRequests}}
	cache := newMemoryCache(time.Minute)
	q := newTestQueue(d, cache, time.Millisecond)
	defer q.Close()

	_, err := q.Submit(context.Background(), request("bees"))
	if !errors.Is(err, apperr.ErrRateLimitExceeded) {
		t.Fatalf("expected rate limit exceeded, got %v", err)
	}
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.UserMessage() == err.Error() {
		t.Fatalf("expected uniform user message instead of provider text")
	}
	if got := len(d.calls()); got != 4 {
		t.Fatalf("expected 1 attempt + 3 retries, got %d", got)
	}
	if cache.len() != 0 {
		t.Fatalf("failures must not be cached")
	}
}

func TestOtherFailuresAreNotRetried(t *testing.T) {
	bad := apperr.Fatal(http.StatusBadRequest, "bad request", nil)
	d := &fakeDispatcher{always: bad}
	q := newTestQueue(d, newMemoryCache(time.Minute), time.Millisecond)
	defer q.Close()

	_, err := q.Submit(context.Background(), request("bees"))
	if !errors.Is(err, bad) {
		t.Fatalf("expected original error, got %v", err)
	}
	if len(d.calls()) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(d.calls()))
	}
	if q.Stats().Failed != 1 {
		t.Fatalf("expected failed counter")
	}
}

func TestRetryIsServedBeforeNewerWork(t *testing.T) {
	limited := statusError{code: http.StatusTooManyRequests}
	d := &fakeDispatcher{delay: 40 * time.Millisecond, errs: map[string][]error{"a": {limited}}}
	q := newTestQueue(d, newMemoryCache(time.Minute), time.Millisecond, 10*time.Millisecond)
	defer q.Close()

	var wg sync.WaitGroup
	submit := func(prompt string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := q.Submit(context.Background(), request(prompt)); err != nil {
				t.Errorf("submit %s: %v", prompt, err)
			}
		}()
	}
	submit("a")
	waitFor(t, "a dispatched", func() bool { return q.Stats().Dispatched == 1 })
	for i, prompt := range []string{"b", "c", "d"} {
		submit(prompt)
		want := int64(i + 2)
		waitFor(t, prompt+" enqueued", func() bool { return q.Stats().Enqueued == want })
	}
	wg.Wait()

	var order []string
	for _, c := range d.calls() {
		order = append(order, c.prompt)
	}
	if !reflect.DeepEqual(order, []string{"a", "b", "a", "c", "d"}) {
		t.Fatalf("unexpected dispatch order: %v", order)
	}
}

func TestSubmitWaitRespectsCallerContext(t *testing.T) {
	release := make(chan struct{})
	d := &fakeDispatcher{release: release}
	cache := newMemoryCache(time.Minute)
	q := newTestQueue(d, cache, time.Millisecond)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Submit(ctx, request("bees")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected caller deadline, got %v", err)
	}

	close(release)
	waitFor(t, "abandoned item cached", func() bool { return cache.len() == 1 })
}

func TestCloseResolvesPendingItems(t *testing.T) {
	release := make(chan struct{})
	d := &fakeDispatcher{release: release}
	q := newTestQueue(d, newMemoryCache(time.Minute), time.Millisecond)

	results := make(chan error, 2)
	go func() {
		_, err := q.Submit(context.Background(), request("in flight"))
		results <- err
	}()
	waitFor(t, "first dispatch", func() bool { return q.Stats().InFlight })
	go func() {
		_, err := q.Submit(context.Background(), request("waiting"))
		results <- err
	}()
	waitFor(t, "second enqueued", func() bool { return q.Stats().Depth == 1 })

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()

	if err := <-results; !errors.Is(err, ErrClosed) {
		t.Fatalf("expected queued item closed, got %v", err)
	}
	close(release)
	if err := <-results; err != nil {
		t.Fatalf("in-flight item should finish, got %v", err)
	}
	<-closed

	if _, err := q.Submit(context.Background(), request("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed queue to reject, got %v", err)
	}
	if q.Ready() == nil {
		t.Fatalf("closed queue must not report ready")
	}
}

func TestCloseCancelsPendingRetries(t *testing.T) {
	d := &fakeDispatcher{always: statusError{code: http.StatusTooManyRequests}}
	q := newTestQueue(d, newMemoryCache(time.Minute), time.Millisecond, 10*time.Second)

	result := make(chan error, 1)
	go func() {
		_, err := q.Submit(context.Background(), request("bees"))
		result <- err
	}()
	waitFor(t, "retry scheduled", func() bool { return q.Stats().PendingRetries == 1 })

	q.Close()
	select {
	case err := <-result:
		if !errors.Is(err, apperr.ErrFatal) {
			t.Fatalf("expected fatal closed error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("pending retry was not resolved on close")
	}
	if q.Stats().PendingRetries != 0 {
		t.Fatalf("retry timers must be cleared")
	}
}

func TestPolicyFromConfig(t *testing.T) {
	policy := policyFromConfig(config.QueueConfig{MaxRetries: 5, RetryScheduleMS: []int{100, 200}})
	if policy.MaxRetries != 5 || !reflect.DeepEqual(policy.Schedule, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}) {
		t.Fatalf("unexpected policy: %+v", policy)
	}
	if def := policyFromConfig(config.QueueConfig{}); def.MaxRetries != 3 || len(def.Schedule) != 3 {
		t.Fatalf("unexpected default policy: %+v", def)
	}
}
