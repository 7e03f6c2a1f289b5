package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/park285/deck-orchestrator-go/internal/config"
)

const instrumentationName = "github.com/park285/deck-orchestrator-go"

// Provider: OpenTelemetry provider를 관리합니다.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
}

// NewProvider: TracerProvider를 초기화하고 글로벌로 설정합니다.
// cfg.Enabled가 false면 no-op Provider를 반환합니다.
func NewProvider(ctx context.Context, cfg config.TelemetryConfig) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	// [주의] resource.Default()와 Merge하면 Schema URL 충돌이 발생할 수 있음
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	)

	var exporterOpts []otlptracegrpc.Option
	exporterOpts = append(exporterOpts, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint))
	if cfg.OTLPInsecure {
		exporterOpts = append(exporterOpts,
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SampleRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	return &Provider{tracerProvider: tp}, nil
}

// samplerFor: 부모 샘플링 결정을 따르고, 루트 span만 비율 샘플링한다.
func samplerFor(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case rate >= 1.0:
		root = sdktrace.AlwaysSample()
	case rate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

// Shutdown: 버퍼에 남은 span을 flush하고 TracerProvider를 정리합니다.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tracerProvider == nil {
		return nil
	}
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}

// IsEnabled: OpenTelemetry가 활성화되었는지 확인합니다.
func (p *Provider) IsEnabled() bool {
	return p != nil && p.tracerProvider != nil
}

// Tracer: 글로벌 TracerProvider 기반 tracer를 반환합니다.
// provider가 초기화되지 않았으면 no-op tracer가 반환된다.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
