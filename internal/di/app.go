package di

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/park285/deck-orchestrator-go/internal/config"
	"github.com/park285/deck-orchestrator-go/internal/grpcserver"
	"github.com/park285/deck-orchestrator-go/internal/queue"
	"github.com/park285/deck-orchestrator-go/internal/respcache"
	"github.com/park285/deck-orchestrator-go/internal/telemetry"
	"github.com/park285/deck-orchestrator-go/internal/usage"
)

const telemetryShutdownTimeout = 5 * time.Second

// App: 애플리케이션 구성 요소를 묶는다.
type App struct {
	Server       *http.Server
	GRPCServer   *grpc.Server
	GRPCListener net.Listener
	Readiness    *grpcserver.Readiness
	Logger       *slog.Logger
	Config       *config.Config
	Telemetry    *telemetry.Provider
	Queue        *queue.Queue
	Cache        *respcache.Cache
	Meter        *usage.Meter

	drainOnce sync.Once
	closeOnce sync.Once
}

// Drain: 헬스를 NOT_SERVING 으로 내리고 큐를 닫습니다.
// 대기 중인 Submit 은 HTTP 종료를 기다리지 않고 바로 ErrClosed 를 받는다.
func (a *App) Drain() {
	a.drainOnce.Do(func() {
		if a.Readiness != nil {
			a.Readiness.Shutdown()
		}
		if a.Queue != nil {
			a.Queue.Close()
		}
	})
}

// Shutdown: 큐 드레인, HTTP 종료, 나머지 정리 순으로 앱을 내립니다.
func (a *App) Shutdown(ctx context.Context) error {
	a.Drain()
	var err error
	if a.Server != nil {
		if err = a.Server.Shutdown(ctx); err != nil {
			_ = a.Server.Close()
		}
	}
	// gRPC Serve 는 GracefulStop 이후에야 반환된다
	a.Close()
	return err
}

// Close: 앱 리소스를 정리합니다.
// 순서: 헬스 NOT_SERVING, 큐 드레인, gRPC 중지, 캐시, 사용량 싱크, 트레이서. 여러 번 호출해도 한 번만 정리한다.
func (a *App) Close() {
	a.closeOnce.Do(a.close)
}

func (a *App) close() {
	a.Drain()
	if a.GRPCServer != nil {
		a.GRPCServer.GracefulStop()
	}
	if a.GRPCListener != nil {
		_ = a.GRPCListener.Close()
	}
	if a.Cache != nil {
		a.Cache.Close()
	}
	if a.Meter != nil {
		a.Meter.Close()
	}
	if a.Telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := a.Telemetry.Shutdown(ctx); err != nil && a.Logger != nil {
			a.Logger.Warn("telemetry_shutdown_failed", "err", err)
		}
	}
}
