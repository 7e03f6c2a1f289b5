package di

import (
	"context"
	"fmt"

	"github.com/park285/deck-orchestrator-go/internal/config"
	"github.com/park285/deck-orchestrator-go/internal/deck"
	"github.com/park285/deck-orchestrator-go/internal/deckgen"
	"github.com/park285/deck-orchestrator-go/internal/gemini"
	"github.com/park285/deck-orchestrator-go/internal/generation"
	"github.com/park285/deck-orchestrator-go/internal/grpcserver"
	"github.com/park285/deck-orchestrator-go/internal/handler"
	"github.com/park285/deck-orchestrator-go/internal/metrics"
	"github.com/park285/deck-orchestrator-go/internal/queue"
	"github.com/park285/deck-orchestrator-go/internal/repair"
	"github.com/park285/deck-orchestrator-go/internal/respcache"
	"github.com/park285/deck-orchestrator-go/internal/server"
	"github.com/park285/deck-orchestrator-go/internal/telemetry"
	"github.com/park285/deck-orchestrator-go/internal/usage"
)

// InitializeApp 은 애플리케이션 의존성을 초기화하고 App 인스턴스를 반환한다.
// 실패하면 그때까지 만든 자원을 정리한다.
func InitializeApp(ctx context.Context) (app *App, err error) {
	cfg, err := config.ProvideConfig()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := ProvideLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	app = &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			app.Close()
			app = nil
		}
	}()

	app.Telemetry, err = telemetry.NewProvider(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	metricsStore := metrics.NewStore()

	prices, err := ProvidePriceTable(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("pricing: %w", err)
	}
	sinks, usageRepository, err := ProvideUsageSinks(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("usage sinks: %w", err)
	}
	app.Meter = usage.NewMeter(prices, logger,
		usage.WithSinks(sinks...),
		usage.WithMaxRecords(cfg.Usage.MaxRecords),
	)

	geminiClient := gemini.NewClient(cfg.Gemini)
	generationClient := generation.NewClient(geminiClient, app.Meter, metricsStore, cfg.Gemini, logger)

	prompts, err := deckgen.NewPrompts()
	if err != nil {
		return nil, fmt.Errorf("deck prompts: %w", err)
	}
	generator := deckgen.NewGenerator(
		generationClient,
		repair.NewPipeline(logger),
		deck.NewValidator(),
		prompts,
		metricsStore,
		logger,
		cfg.Gemini.Timeout(),
	)

	app.Cache, err = respcache.New(cfg.ResponseCache, logger)
	if err != nil {
		return nil, fmt.Errorf("response cache: %w", err)
	}
	app.Cache.Start()

	app.Queue = queue.New(generator, app.Cache, cfg.Queue, logger, queue.WithMetrics(metricsStore))

	probes := readinessProbes(app.Queue, geminiClient, app.Cache)

	var daily handler.DailyUsageSource
	if usageRepository != nil {
		daily = usageRepository
	}
	router := handler.NewRouter(cfg, logger,
		handler.NewDeckHandler(app.Queue, logger),
		handler.NewUsageHandler(app.Meter, daily, metricsStore, logger),
		handler.NewHealthHandler(cfg, metricsStore.Handler(), probes...),
	)
	app.Server = server.NewHTTPServer(cfg, router)

	app.GRPCServer, app.GRPCListener, err = grpcserver.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("grpc server: %w", err)
	}
	if app.GRPCServer != nil {
		grpcserver.RegisterDeckServiceServer(app.GRPCServer, grpcserver.NewDeckService(app.Queue, logger))
		app.Readiness = grpcserver.NewReadiness(checkAll(probes), 0, logger)
		app.Readiness.Register(app.GRPCServer)
	}

	return app, nil
}
