package grpcserver

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/park285/deck-orchestrator-go/internal/config"
)

const (
	defaultHost = "127.0.0.1"
	defaultPort = 40528

	// 첨부 파일이 base64 로 실리므로 여유 있게 잡는다.
	maxRecvMsgSizeBytes = 16 * 1024 * 1024

	listenTimeout = 5 * time.Second
)

// 인증 없이 호출 가능한 서비스 접두사
var publicServices = []string{"/grpc.health.v1.Health/"}

type requestIDKey struct{}

// Options 는 gRPC 서버 구성이다.
type Options struct {
	Addr       string
	APIKey     string
	RequireKey bool
	Tracing    bool
}

// OptionsFromConfig 는 설정에서 서버 구성을 만든다. 비활성화면 false 를 반환한다.
func OptionsFromConfig(cfg *config.Config) (Options, bool) {
	if cfg == nil {
		return Options{Addr: net.JoinHostPort(defaultHost, strconv.Itoa(defaultPort))}, true
	}
	if !cfg.GRPC.Enabled {
		return Options{}, false
	}
	host := strings.TrimSpace(cfg.GRPC.Host)
	if host == "" {
		host = defaultHost
	}
	port := cfg.GRPC.Port
	if port <= 0 {
		port = defaultPort
	}
	return Options{
		Addr:       net.JoinHostPort(host, strconv.Itoa(port)),
		APIKey:     strings.TrimSpace(cfg.HTTPAuth.APIKey),
		RequireKey: cfg.HTTPAuth.Required,
		Tracing:    cfg.Telemetry.Enabled,
	}, true
}

// NewServer: gRPC 서버와 리스너를 생성합니다. 비활성화면 nil 을 반환합니다.
func NewServer(cfg *config.Config, logger *slog.Logger) (*grpc.Server, net.Listener, error) {
	opts, enabled := OptionsFromConfig(cfg)
	if !enabled {
		return nil, nil, nil
	}

	listenCtx, cancel := context.WithTimeout(context.Background(), listenTimeout)
	defer cancel()
	var lc net.ListenConfig
	lis, err := lc.Listen(listenCtx, "tcp", opts.Addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen grpc %s: %w", opts.Addr, err)
	}
	return grpc.NewServer(serverOptions(logger, opts)...), lis, nil
}

func serverOptions(logger *slog.Logger, opts Options) []grpc.ServerOption {
	if logger == nil {
		logger = slog.Default()
	}
	serverOpts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxRecvMsgSizeBytes),
		grpc.ChainUnaryInterceptor(
			requestInterceptor(logger, keyGuard{expected: opts.APIKey, required: opts.RequireKey}),
			errorMapperInterceptor(),
		),
	}
	if opts.Tracing {
		serverOpts = append(serverOpts, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	}
	return serverOpts
}

// requestInterceptor 는 요청 id 를 부여하고 API 키를 검사하며 호출 결과를 로그로 남긴다.
func requestInterceptor(logger *slog.Logger, guard keyGuard) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		md, _ := metadata.FromIncomingContext(ctx)

		requestID := firstValue(md, "x-request-id", "x-correlation-id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = context.WithValue(ctx, requestIDKey{}, requestID)
		_ = grpc.SetHeader(ctx, metadata.Pairs("x-request-id", requestID))

		var (
			resp any
			err  error
		)
		if isPublic(info.FullMethod) {
			resp, err = handler(ctx, req)
		} else if err = guard.check(md); err == nil {
			resp, err = handler(ctx, req)
		}

		attrs := []any{"request_id", requestID, "method", info.FullMethod, "latency", time.Since(start)}
		if err != nil {
			logger.Warn("grpc_request_failed", append(attrs, "code", status.Code(err).String(), "err", err)...)
		} else {
			logger.Debug("grpc_request", attrs...)
		}
		return resp, err
	}
}

func isPublic(fullMethod string) bool {
	for _, prefix := range publicServices {
		if strings.HasPrefix(fullMethod, prefix) {
			return true
		}
	}
	return false
}

// keyGuard 는 x-api-key 또는 Bearer 토큰을 상수 시간 비교로 검사한다.
type keyGuard struct {
	expected string
	required bool
}

func (g keyGuard) check(md metadata.MD) error {
	if g.expected == "" {
		if g.required {
			return status.Error(codes.Internal, "api key required but not configured")
		}
		return nil
	}
	provided := apiKeyFrom(md)
	if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(g.expected)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid api key")
	}
	return nil
}

func apiKeyFrom(md metadata.MD) string {
	if key := firstValue(md, "x-api-key"); key != "" {
		return key
	}
	auth := firstValue(md, "authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// firstValue 는 keys 순서대로 찾은 첫 비어 있지 않은 메타데이터 값이다.
func firstValue(md metadata.MD, keys ...string) string {
	for _, key := range keys {
		for _, value := range md.Get(key) {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

// RequestIDFromContext: gRPC 컨텍스트에서 request_id를 조회합니다.
func RequestIDFromContext(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDKey{}).(string)
	return requestID
}
