// Package deckgen 은 생성 호출, 응답 복구, 구조 검증을 하나의 디스패치로 묶는다.
package deckgen

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/park285/deck-orchestrator-go/internal/apperr"
	"github.com/park285/deck-orchestrator-go/internal/deck"
	"github.com/park285/deck-orchestrator-go/internal/llm"
	"github.com/park285/deck-orchestrator-go/internal/metrics"
	"github.com/park285/deck-orchestrator-go/internal/repair"
	"github.com/park285/deck-orchestrator-go/internal/usage"
)

// Caller 는 GenerationClient 호출 계약이다.
type Caller interface {
	Call(ctx context.Context, req llm.Request, timeout time.Duration) (string, usage.UsageRecord, error)
}

// Generator 는 큐가 항목마다 호출하는 디스패처다.
type Generator struct {
	caller    Caller
	pipeline  *repair.Pipeline
	validator *deck.Validator
	prompts   *Prompts
	metrics   *metrics.Store
	logger    *slog.Logger
	timeout   time.Duration
}

// NewGenerator 는 Generator 를 생성한다. timeout 이 0 이면 Caller 기본값을 쓴다.
func NewGenerator(
	caller Caller,
	pipeline *repair.Pipeline,
	validator *deck.Validator,
	prompts *Prompts,
	metricsStore *metrics.Store,
	logger *slog.Logger,
	timeout time.Duration,
) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if validator == nil {
		validator = deck.NewValidator()
	}
	return &Generator{
		caller:    caller,
		pipeline:  pipeline,
		validator: validator,
		prompts:   prompts,
		metrics:   metricsStore,
		logger:    logger,
		timeout:   timeout,
	}
}

// Generate 는 요청 1건을 검증된 문서로 만든다. 오류는 분류된 apperr 그대로 반환한다.
func (g *Generator) Generate(ctx context.Context, req llm.Request) (deck.Document, error) {
	upstreamReq, err := g.prepare(req)
	if err != nil {
		return deck.Document{}, err
	}

	raw, rec, err := g.caller.Call(ctx, upstreamReq, g.timeout)
	if err != nil {
		return deck.Document{}, err
	}

	result, err := g.pipeline.ParseDetailed(raw)
	if err != nil {
		g.recordTier("failed")
		return deck.Document{}, err
	}
	g.recordTier(string(result.Tier))

	doc := result.Document
	if err := g.validate(req, doc); err != nil {
		g.logger.Warn("deck_validation_failed",
			"correlation_id", req.CorrelationID,
			"tier", result.Tier,
			"err", err,
		)
		return deck.Document{}, err
	}

	g.logger.Info("deck_generated",
		"correlation_id", req.CorrelationID,
		"action", req.ActionName(),
		"shape", doc.Shape,
		"slides", len(doc.Slides),
		"tier", result.Tier,
		"placeholder", result.Placeholder,
		"tokens", rec.TotalTokens(),
	)
	return doc, nil
}

// prepare 는 업스트림으로 보낼 요청을 만든다. 원본 요청은 바꾸지 않는다.
func (g *Generator) prepare(req llm.Request) (llm.Request, error) {
	out := req
	out.Messages = append([]llm.Message(nil), req.Messages...)

	if strings.TrimSpace(out.SystemPrompt) == "" && g.prompts != nil {
		system, err := g.prompts.System(req.Modify)
		if err != nil {
			return llm.Request{}, apperr.Fatal(http.StatusInternalServerError, "deck prompt unavailable", err)
		}
		out.SystemPrompt = system
	}

	if req.Modify {
		if strings.TrimSpace(req.ExistingDocument) == "" {
			return llm.Request{}, apperr.Fatal(http.StatusBadRequest, "existing document is required for modification", nil)
		}
		if g.prompts != nil {
			user, err := g.prompts.ModifyUser(req.ExistingDocument, req.Prompt)
			if err != nil {
				return llm.Request{}, apperr.Fatal(http.StatusInternalServerError, "deck prompt unavailable", err)
			}
			out.Prompt = user
		}
	}
	return out, nil
}

// validate 는 요청 종류에 맞는 모드로 검사한다.
// 수정 요청은 단일 슬라이드와 전체 문서 응답을 모두 받는다.
func (g *Generator) validate(req llm.Request, doc deck.Document) error {
	if !req.Modify && doc.IsSingleSlide() {
		return apperr.StructuralInvalid("expected a full presentation", map[string]any{
			"shape":    doc.Shape,
			"document": doc,
		})
	}
	if err := g.validator.Validate(doc); err != nil {
		return fmt.Errorf("validate %s: %w", doc.Shape, err)
	}
	return nil
}

func (g *Generator) recordTier(tier string) {
	if g.metrics != nil {
		g.metrics.RecordRepairTier(tier)
	}
}
