package grpcserver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	defaultReadinessInterval = 5 * time.Second
	readinessCheckTimeout    = 2 * time.Second
)

// Readiness 는 표준 gRPC 헬스 서비스를 오케스트레이터 준비 상태와 동기화한다.
type Readiness struct {
	server   *grpchealth.Server
	check    func(ctx context.Context) error
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	serving bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewReadiness 는 check 결과를 주기적으로 반영하는 헬스 서비스를 만든다.
func NewReadiness(check func(ctx context.Context) error, interval time.Duration, logger *slog.Logger) *Readiness {
	if interval <= 0 {
		interval = defaultReadinessInterval
	}
	r := &Readiness{
		server:   grpchealth.NewServer(),
		check:    check,
		interval: interval,
		logger:   logger,
	}
	r.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return r
}

// Register 는 헬스 서비스를 서버에 등록한다.
func (r *Readiness) Register(registrar grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(registrar, r.server)
}

// Refresh 는 check 를 한 번 실행해 상태를 갱신하고 준비 여부를 반환한다.
func (r *Readiness) Refresh(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, readinessCheckTimeout)
	defer cancel()

	err := r.check(checkCtx)
	serving := err == nil

	r.mu.Lock()
	changed := serving != r.serving
	r.serving = serving
	r.mu.Unlock()

	if serving {
		r.setStatus(healthpb.HealthCheckResponse_SERVING)
	} else {
		r.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	if changed && r.logger != nil {
		r.logger.Info("grpc_readiness_changed", "serving", serving, "err", err)
	}
	return serving
}

// Start 는 주기 갱신 루프를 시작한다.
func (r *Readiness) Start() {
	r.mu.Lock()
	if r.stopCh != nil {
		r.mu.Unlock()
		return
	}
	r.stopCh = make(chan struct{})
	stopCh := r.stopCh
	r.mu.Unlock()

	r.Refresh(context.Background())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				r.Refresh(context.Background())
			}
		}
	}()
}

// Shutdown 은 루프를 멈추고 모든 서비스를 NOT_SERVING 으로 고정한다.
func (r *Readiness) Shutdown() {
	r.mu.Lock()
	stopCh := r.stopCh
	r.stopCh = nil
	r.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		r.wg.Wait()
	}
	r.server.Shutdown()
}

func (r *Readiness) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	r.server.SetServingStatus("", status)
	r.server.SetServingStatus(DeckServiceName, status)
}
