package di

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/park285/deck-orchestrator-go/internal/config"
	"github.com/park285/deck-orchestrator-go/internal/gemini"
	"github.com/park285/deck-orchestrator-go/internal/health"
	"github.com/park285/deck-orchestrator-go/internal/logging"
	"github.com/park285/deck-orchestrator-go/internal/queue"
	"github.com/park285/deck-orchestrator-go/internal/respcache"
	"github.com/park285/deck-orchestrator-go/internal/usage"
)

// ProvideLogger: 로거를 구성해 반환합니다.
// OTel이 활성화된 경우 로그에 trace_id/span_id가 자동으로 추가됩니다.
func ProvideLogger(cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.NewLoggerWithOTel(cfg.Logging, cfg.Telemetry.Enabled)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

// ProvidePriceTable: 가격표 파일이 지정되면 그것을, 아니면 내장 가격표를 읽습니다.
func ProvidePriceTable(cfg *config.Config, logger *slog.Logger) (*usage.PriceTable, error) {
	if path := strings.TrimSpace(cfg.Usage.PricingFile); path != "" {
		return usage.LoadPriceTable(path, logger)
	}
	return usage.DefaultPriceTable(logger)
}

// ProvideUsageSinks: 감사 로그와 DB 집계 싱크를 설정에 따라 구성합니다.
// DB 가 꺼져 있으면 repository 는 nil 입니다.
func ProvideUsageSinks(cfg *config.Config, logger *slog.Logger) ([]usage.Sink, *usage.Repository, error) {
	var sinks []usage.Sink

	if dir := strings.TrimSpace(cfg.Usage.AuditLogDir); dir != "" {
		audit, err := usage.NewAuditLog(cfg.Logging, dir, logger)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, audit)
	}

	if !cfg.Database.UsageEnabled {
		return sinks, nil, nil
	}
	repository := usage.NewRepository(cfg.Database, logger)
	sinks = append(sinks, usage.NewRecorder(cfg.Database, repository, logger))
	return sinks, repository, nil
}

// readinessProbes: /health/ready 와 gRPC 헬스가 공유하는 검사 목록입니다.
func readinessProbes(q *queue.Queue, provider *gemini.Client, responseCache *respcache.Cache) []health.Probe {
	return []health.Probe{
		{Name: "queue", Check: func(context.Context) error { return q.Ready() }},
		{Name: "provider", Check: func(context.Context) error {
			if !provider.Ready() {
				return gemini.ErrMissingAPIKey
			}
			return nil
		}},
		{Name: "cache_store", Check: responseCache.Ping},
	}
}

// checkAll: probe 를 모두 실행해 실패를 묶어 반환합니다.
func checkAll(probes []health.Probe) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var errs []error
		for _, probe := range probes {
			if err := probe.Check(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", probe.Name, err))
			}
		}
		return errors.Join(errs...)
	}
}
