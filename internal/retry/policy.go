package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RateLimitPolicy 는 큐 단계의 rate limit 재시도 정책이다.
type RateLimitPolicy struct {
	MaxRetries int
	Schedule   []time.Duration
}

// DefaultRateLimitPolicy 는 3s, 6s, 12s 고정 스케줄을 반환한다.
func DefaultRateLimitPolicy() RateLimitPolicy {
	return RateLimitPolicy{
		MaxRetries: 3,
		Schedule:   []time.Duration{3 * time.Second, 6 * time.Second, 12 * time.Second},
	}
}

// Next 는 이미 retries 번 재시도한 항목을 다시 시도할지와 지연을 반환한다.
// 스케줄보다 재시도 횟수가 많으면 마지막 지연을 반복한다.
func (p RateLimitPolicy) Next(class Class, retries int) (bool, time.Duration) {
	if class != ClassRateLimited || retries < 0 || retries >= p.MaxRetries || len(p.Schedule) == 0 {
		return false, 0
	}
	idx := min(retries, len(p.Schedule)-1)
	return true, p.Schedule[idx]
}

// TransportPolicy 는 GenerationClient 내부 전송 계층 재시도 정책이다.
type TransportPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Multiplier  float64
	Max         time.Duration
}

// DefaultTransportPolicy 는 3회, 1s 부터 2배씩, 최대 5s 정책을 반환한다.
func DefaultTransportPolicy() TransportPolicy {
	return TransportPolicy{
		MaxAttempts: 3,
		Initial:     time.Second,
		Multiplier:  2,
		Max:         5 * time.Second,
	}
}

// Next 는 attempt 번째(0부터) 시도가 실패했을 때 재시도 여부와 지연을 반환한다.
func (p TransportPolicy) Next(class Class, attempt int) (bool, time.Duration) {
	if class != ClassRetryable || attempt < 0 || attempt+1 >= p.MaxAttempts {
		return false, 0
	}
	return true, p.Delay(attempt)
}

// Delay 는 min(Initial*Multiplier^attempt, Max) 이다.
func (p TransportPolicy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.Initial) * math.Pow(mult, float64(attempt))
	if p.Max > 0 && d > float64(p.Max) {
		return p.Max
	}
	return time.Duration(d)
}

// BackOff 는 같은 스케줄의 결정적 ExponentialBackOff 를 반환한다.
// MaxAttempts-1 번의 NextBackOff 이후 backoff.Stop 을 돌려준다.
func (p TransportPolicy) BackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.Multiplier = max(1, p.Multiplier)
	b.MaxInterval = p.Max
	if p.Max <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	retries := max(0, p.MaxAttempts-1)
	return backoff.WithMaxRetries(b, uint64(retries))
}
