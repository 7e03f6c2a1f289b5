package cache

import (
	"log/slog"
	"sync"
	"time"
)

// Sweeper 는 만료 엔트리를 정리할 수 있는 저장소다.
type Sweeper interface {
	Sweep() int
}

var _ Sweeper = (*ExpiringMap[string, int])(nil)

// Janitor 는 고정 주기로 Sweep 을 호출하는 백그라운드 작업이다.
// Start 로 시작하고 Stop 으로 종료를 기다린다.
type Janitor struct {
	name     string
	target   Sweeper
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewJanitor 는 target 을 interval 마다 정리하는 Janitor 를 생성한다.
func NewJanitor(name string, target Sweeper, interval time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		name:     name,
		target:   target,
		interval: interval,
		logger:   logger,
	}
}

// Start 는 정리 루프를 시작한다. 이미 실행 중이면 아무것도 하지 않는다.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	go j.loop(j.stopCh, j.doneCh)
}

// Stop 은 루프를 멈추고 종료될 때까지 기다린다.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	stopCh, doneCh := j.stopCh, j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (j *Janitor) loop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	ticker := time.NewTicker(j.interval)
	defer func() {
		ticker.Stop()
		close(doneCh)
	}()

	for {
		select {
		case <-ticker.C:
			if removed := j.target.Sweep(); removed > 0 {
				j.logger.Debug("cache_sweep", "cache", j.name, "removed", removed)
			}
		case <-stopCh:
			return
		}
	}
}
