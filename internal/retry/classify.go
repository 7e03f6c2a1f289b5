// Package retry 는 업스트림 오류 분류와 두 단계의 재시도 정책을 제공한다.
package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"google.golang.org/genai"

	"github.com/park285/deck-orchestrator-go/internal/apperr"
)

// Class 는 재시도 관점의 오류 분류다.
type Class int

const (
	// ClassFatal: 재시도해도 성공하지 않는다.
	ClassFatal Class = iota
	// ClassRetryable: 네트워크/5xx 등 일시 오류.
	ClassRetryable
	// ClassRateLimited: 429/529/과부하 신호.
	ClassRateLimited
)

// String 은 로그용 이름을 반환한다.
func (c Class) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassRateLimited:
		return "rate_limited"
	default:
		return "fatal"
	}
}

// StatusOverloaded 는 일부 프로바이더가 쓰는 비표준 과부하 상태 코드다.
const StatusOverloaded = 529

// HTTPStatusError 는 HTTP 상태 코드를 노출하는 오류다.
type HTTPStatusError interface {
	error
	HTTPStatus() int
}

var statusPattern = regexp.MustCompile(`(?i)\b(?:http|status|code|error)[\s:=]*([1-5]\d{2})\b`)

var (
	rateLimitMarkers = []string{"overloaded", "resource_exhausted", "resource exhausted", "too many requests", "rate limit"}
	transientMarkers = []string{
		"timeout", "timed out", "deadline exceeded",
		"connection refused", "connection reset", "no such host",
		"broken pipe", "unexpected eof", "server misbehaving",
	}
)

// Classify 는 오류를 정확히 하나의 Class 로 매핑한다. nil 은 Fatal.
func Classify(err error) Class {
	if err == nil {
		return ClassFatal
	}
	// 오케스트레이터가 이미 분류해 만든 오류 (재시도 소진 포함)
	if _, ok := apperr.KindOf(err); ok {
		return ClassFatal
	}
	if errors.Is(err, context.Canceled) {
		return ClassFatal
	}

	status := StatusOf(err)
	if status == http.StatusTooManyRequests || status == StatusOverloaded {
		return ClassRateLimited
	}
	if providerStatus(err) == "RESOURCE_EXHAUSTED" {
		return ClassRateLimited
	}

	msg := strings.ToLower(err.Error())
	// 4xx 는 본문에 어떤 단어가 있든 Fatal 이다
	if (status == 0 || status >= 500) && containsAny(msg, rateLimitMarkers) {
		return ClassRateLimited
	}
	if status >= 500 {
		return ClassRetryable
	}
	if status >= 400 {
		return ClassFatal
	}

	if isNetworkError(err) {
		return ClassRetryable
	}
	if containsAny(msg, transientMarkers) {
		return ClassRetryable
	}
	return ClassFatal
}

// StatusOf 는 오류 체인에서 HTTP 상태 코드를 찾는다. 없으면 0.
func StatusOf(err error) int {
	if err == nil {
		return 0
	}
	if apiErr, ok := asAPIError(err); ok && apiErr.Code != 0 {
		return apiErr.Code
	}
	var statusErr HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.HTTPStatus()
	}
	if m := statusPattern.FindStringSubmatch(err.Error()); len(m) == 2 {
		if code, convErr := strconv.Atoi(m[1]); convErr == nil {
			return code
		}
	}
	return 0
}

func providerStatus(err error) string {
	if apiErr, ok := asAPIError(err); ok {
		return strings.ToUpper(apiErr.Status)
	}
	return ""
}

func asAPIError(err error) (genai.APIError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return *apiErrPtr, true
	}
	return genai.APIError{}, false
}

func isNetworkError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
