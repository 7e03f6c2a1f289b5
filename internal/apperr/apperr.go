// Package apperr 는 오케스트레이터가 경계 밖으로 내보내는 오류 종류를 정의한다.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind 는 외부로 노출되는 오류 종류다.
type Kind string

const (
	// KindRateLimitExceeded: 재시도를 모두 소진한 rate limit.
	KindRateLimitExceeded Kind = "RATE_LIMIT_EXCEEDED"
	// KindUpstreamUnavailable: 전송 계층 재시도 후에도 과부하/5xx.
	KindUpstreamUnavailable Kind = "UPSTREAM_UNAVAILABLE"
	// KindTimeout: 호출 데드라인 초과.
	KindTimeout Kind = "TIMEOUT"
	// KindUnparseable: 복구 파이프라인의 모든 단계 실패.
	KindUnparseable Kind = "UNPARSEABLE"
	// KindStructuralInvalid: 파싱은 됐지만 문서 계약 위반.
	KindStructuralInvalid Kind = "STRUCTURAL_INVALID"
	// KindFatal: 설정/인증/잘못된 요청. 재시도하지 않는다.
	KindFatal Kind = "FATAL"
)

const (
	msgTryAgainShortly = "The generation service is busy, please try again shortly"
	msgRetryGeneration = "Could not build a valid presentation, please retry generation"
)

// Error 는 분류된 오케스트레이터 오류다.
type Error struct {
	Kind       Kind
	Status     int
	Message    string
	RetryAfter time.Duration
	Details    map[string]any
	Err        error
}

// Error 는 오류 메시지를 반환한다.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap 은 원인 오류를 반환한다.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is 는 같은 Kind 이면 일치로 본다. errors.Is(err, apperr.ErrTimeout) 형태로 쓴다.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// UserMessage 는 호출자가 그대로 노출해도 되는 메시지를 반환한다.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindRateLimitExceeded, KindUpstreamUnavailable, KindTimeout:
		return msgTryAgainShortly
	case KindUnparseable, KindStructuralInvalid:
		return msgRetryGeneration
	default:
		return e.Message
	}
}

// Recoverable 은 호출자가 재제출로 회복할 수 있는 종류인지 여부다.
func (e *Error) Recoverable() bool {
	return e.Kind != KindFatal
}

// 비교용 sentinel. errors.Is 로만 사용한다.
var (
	ErrRateLimitExceeded   = &Error{Kind: KindRateLimitExceeded}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrUnparseable         = &Error{Kind: KindUnparseable}
	ErrStructuralInvalid   = &Error{Kind: KindStructuralInvalid}
	ErrFatal               = &Error{Kind: KindFatal}
)

// KindOf 는 오류 체인에서 Error 를 찾아 Kind 를 반환한다.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// RateLimitExceeded 는 재시도 소진 오류를 생성한다.
func RateLimitExceeded(retries int, cause error) *Error {
	return &Error{
		Kind:    KindRateLimitExceeded,
		Status:  http.StatusTooManyRequests,
		Message: fmt.Sprintf("upstream rate limit persisted after %d retries", retries),
		Details: map[string]any{"retries": retries},
		Err:     cause,
	}
}

// UpstreamUnavailable 은 전송 계층 재시도 소진 오류를 생성한다.
func UpstreamUnavailable(attempts int, cause error) *Error {
	return &Error{
		Kind:    KindUpstreamUnavailable,
		Status:  http.StatusServiceUnavailable,
		Message: fmt.Sprintf("upstream unavailable after %d attempts", attempts),
		Details: map[string]any{"attempts": attempts},
		Err:     cause,
	}
}

// Timeout 은 데드라인 초과 오류를 생성한다.
func Timeout(deadline time.Duration, cause error) *Error {
	return &Error{
		Kind:    KindTimeout,
		Status:  http.StatusGatewayTimeout,
		Message: fmt.Sprintf("generation exceeded %s deadline", deadline),
		Details: map[string]any{"deadline_ms": deadline.Milliseconds()},
		Err:     cause,
	}
}

// Unparseable 은 복구 실패 오류를 생성한다. rawPrefix 는 호출 측에서 자른 원문이다.
func Unparseable(rawPrefix string, retryAfter time.Duration, cause error) *Error {
	return &Error{
		Kind:       KindUnparseable,
		Status:     http.StatusBadGateway,
		Message:    "model response could not be parsed",
		RetryAfter: retryAfter,
		Details:    map[string]any{"raw_prefix": rawPrefix},
		Err:        cause,
	}
}

// StructuralInvalid 는 문서 계약 위반 오류를 생성한다.
func StructuralInvalid(message string, details map[string]any) *Error {
	return &Error{
		Kind:    KindStructuralInvalid,
		Status:  http.StatusUnprocessableEntity,
		Message: message,
		Details: details,
	}
}

// Fatal 은 재시도하지 않는 오류를 생성한다. status 가 0 이면 500.
func Fatal(status int, message string, cause error) *Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return &Error{
		Kind:    KindFatal,
		Status:  status,
		Message: message,
		Err:     cause,
	}
}
