// Package generation 은 업스트림 생성 호출 1건을 데드라인과 전송 계층 재시도로 감싼다.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/park285/deck-orchestrator-go/internal/apperr"
	"github.com/park285/deck-orchestrator-go/internal/config"
	"github.com/park285/deck-orchestrator-go/internal/llm"
	"github.com/park285/deck-orchestrator-go/internal/metrics"
	"github.com/park285/deck-orchestrator-go/internal/retry"
	"github.com/park285/deck-orchestrator-go/internal/telemetry"
	"github.com/park285/deck-orchestrator-go/internal/usage"
)

// Provider 는 재시도 없이 요청 1회를 보내는 업스트림이다.
type Provider interface {
	Generate(ctx context.Context, model string, req llm.Request) (llm.Response, error)
}

// UsageRecorder 는 시도별 사용량 기록을 받는다.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.UsageRecord) usage.UsageRecord
}

const defaultTimeout = 60 * time.Second

// Client 는 GenerationClient 구현이다.
// 연결 오류와 5xx 는 내부에서 재시도하고, rate limit 계열은 바로 호출자에게 돌려준다.
type Client struct {
	provider       Provider
	recorder       UsageRecorder
	metrics        *metrics.Store
	policy         retry.TransportPolicy
	defaultModel   string
	modifyModel    string
	defaultTimeout time.Duration
	logger         *slog.Logger
	tracer         trace.Tracer
}

// Option 은 Client 설정 함수다.
type Option func(*Client)

// WithTransportPolicy 는 전송 계층 재시도 정책을 교체한다.
func WithTransportPolicy(policy retry.TransportPolicy) Option {
	return func(c *Client) {
		c.policy = policy
	}
}

// WithTracer 는 span 을 만들 tracer 를 교체한다.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		c.tracer = tracer
	}
}

// NewClient 는 GenerationClient 를 생성한다. recorder 와 metricsStore 는 nil 일 수 있다.
func NewClient(
	provider Provider,
	recorder UsageRecorder,
	metricsStore *metrics.Store,
	cfg config.GeminiConfig,
	logger *slog.Logger,
	opts ...Option,
) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		provider:       provider,
		recorder:       recorder,
		metrics:        metricsStore,
		policy:         policyFromConfig(cfg),
		defaultModel:   cfg.ModelFor(false),
		modifyModel:    cfg.ModelFor(true),
		defaultTimeout: cfg.Timeout(),
		logger:         logger,
		tracer:         telemetry.Tracer(),
	}
	if c.defaultTimeout <= 0 {
		c.defaultTimeout = defaultTimeout
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func policyFromConfig(cfg config.GeminiConfig) retry.TransportPolicy {
	policy := retry.DefaultTransportPolicy()
	if cfg.TransportMaxAttempts > 0 {
		policy.MaxAttempts = cfg.TransportMaxAttempts
	}
	if cfg.TransportInitialBackoffMS > 0 {
		policy.Initial = time.Duration(cfg.TransportInitialBackoffMS) * time.Millisecond
	}
	if cfg.TransportMaxBackoffMS > 0 {
		policy.Max = time.Duration(cfg.TransportMaxBackoffMS) * time.Millisecond
	}
	return policy
}

// ModelFor 는 요청에 쓸 모델을 결정한다. 요청의 Model 이 우선한다.
func (c *Client) ModelFor(req llm.Request) string {
	if req.Model != "" {
		return req.Model
	}
	if req.Modify {
		return c.modifyModel
	}
	return c.defaultModel
}

// Call 은 timeout 안에서 요청을 보내고 원문 텍스트와 성공한 시도의 사용량 기록을 반환한다.
// timeout 이 0 이하면 설정값을 쓴다. 모든 시도는 성공 여부와 관계없이 기록된다.
func (c *Client) Call(ctx context.Context, req llm.Request, timeout time.Duration) (string, usage.UsageRecord, error) {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	model := c.ModelFor(req)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	callCtx, span := c.tracer.Start(callCtx, "generation.call", trace.WithAttributes(
		attribute.String("llm.model", model),
		attribute.String("deck.kind", req.Kind()),
		attribute.String("deck.action", req.ActionName()),
		attribute.String("correlation_id", req.CorrelationID),
	))
	defer span.End()

	raw, rec, attempts, err := c.attemptLoop(callCtx, ctx, req, model, timeout)
	span.SetAttributes(attribute.Int("generation.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", rec, err
	}
	return raw, rec, nil
}

func (c *Client) attemptLoop(
	callCtx context.Context,
	parent context.Context,
	req llm.Request,
	model string,
	timeout time.Duration,
) (string, usage.UsageRecord, int, error) {
	retryBackoff := c.policy.BackOff()

	for attempt := 0; ; attempt++ {
		start := time.Now()
		resp, err := c.provider.Generate(callCtx, model, req)
		latency := time.Since(start)

		rec := usage.NewRecord(req, model, attempt)
		rec.Latency = latency
		if err == nil {
			rec = rec.WithUsage(resp.Usage)
			rec.Success = true
			rec = c.record(parent, rec)
			if c.metrics != nil {
				c.metrics.RecordSuccess(model, latency, resp.Usage)
			}
			return resp.Text, rec, attempt + 1, nil
		}

		rec.Error = err.Error()
		rec = c.record(parent, rec)

		// 데드라인은 분류보다 먼저 본다
		if ctxErr := callCtx.Err(); ctxErr != nil {
			return "", rec, attempt + 1, c.contextFailure(model, latency, timeout, ctxErr, err)
		}

		class := retry.Classify(err)
		switch class {
		case retry.ClassRateLimited:
			c.recordError(model, latency, metrics.OutcomeRateLimited)
			c.logger.Warn("generation_rate_limited", "model", model, "attempt", attempt, "err", err)
			return "", rec, attempt + 1, fmt.Errorf("generate: %w", err)

		case retry.ClassRetryable:
			c.recordError(model, latency, metrics.OutcomeRetryable)
			wait := retryBackoff.NextBackOff()
			if wait == backoff.Stop {
				c.logger.Warn("generation_transport_exhausted", "model", model, "attempts", attempt+1, "err", err)
				return "", rec, attempt + 1, apperr.UpstreamUnavailable(attempt+1, err)
			}
			c.logger.Warn("generation_attempt_failed",
				"model", model,
				"attempt", attempt,
				"retry_in", wait,
				"err", err,
			)
			timer := time.NewTimer(wait)
			select {
			case <-callCtx.Done():
				timer.Stop()
				return "", rec, attempt + 1, c.contextFailure(model, 0, timeout, callCtx.Err(), err)
			case <-timer.C:
			}

		default:
			c.recordError(model, latency, metrics.OutcomeFatal)
			return "", rec, attempt + 1, fatalFrom(err)
		}
	}
}

func (c *Client) contextFailure(model string, latency time.Duration, timeout time.Duration, ctxErr error, cause error) error {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		c.recordError(model, latency, metrics.OutcomeTimeout)
		c.logger.Warn("generation_deadline_exceeded", "model", model, "timeout", timeout, "err", cause)
		return apperr.Timeout(timeout, cause)
	}
	c.recordError(model, latency, metrics.OutcomeFatal)
	return apperr.Fatal(http.StatusInternalServerError, "generation canceled", ctxErr)
}

// fatalFrom 은 업스트림 4xx 상태 코드를 보존한 Fatal 오류를 만든다.
func fatalFrom(err error) error {
	status := retry.StatusOf(err)
	if status >= 400 && status < 500 {
		return apperr.Fatal(status, "upstream rejected the request", err)
	}
	return apperr.Fatal(http.StatusInternalServerError, "generation failed", err)
}

func (c *Client) record(ctx context.Context, rec usage.UsageRecord) usage.UsageRecord {
	if c.recorder == nil {
		return rec
	}
	return c.recorder.Record(context.WithoutCancel(ctx), rec)
}

func (c *Client) recordError(model string, latency time.Duration, outcome string) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordError(model, latency, outcome)
}
