package httperror

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/park285/deck-orchestrator-go/internal/apperr"
	"github.com/park285/deck-orchestrator-go/internal/gemini"
)

// ErrorCode 는 API 오류 코드다.
type ErrorCode string

const (
	// ErrorCodeInternal 는 내부 오류 코드다.
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"
	// ErrorCodeValidation 는 검증 오류 코드다.
	ErrorCodeValidation ErrorCode = "VALIDATION_ERROR"
	// ErrorCodeUnauthorized 는 인증 오류 코드다.
	ErrorCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrorCodeHTTPRateLimit 는 요청 제한 오류 코드다.
	ErrorCodeHTTPRateLimit ErrorCode = "HTTP_RATE_LIMIT"
	// ErrorCodeInvalidInput 는 입력 오류 코드다.
	ErrorCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrorCodeNotFound 는 리소스 미존재 코드다.
	ErrorCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrorCodeUpstreamConfig 는 업스트림 설정 오류 코드다.
	ErrorCodeUpstreamConfig ErrorCode = "UPSTREAM_CONFIG_ERROR"
	// ErrorCodeUnavailable 는 기능 비활성/미준비 코드다.
	ErrorCodeUnavailable ErrorCode = "UNAVAILABLE"
)

// ErrorResponse 는 API 오류 응답 본문이다.
type ErrorResponse struct {
	ErrorCode string         `json:"error_code"`
	ErrorType string         `json:"error_type"`
	Message   string         `json:"message"`
	RequestID *string        `json:"request_id"`
	Details   map[string]any `json:"details"`
}

// Error 는 내부 표준 오류 타입이다.
type Error struct {
	Code       ErrorCode
	Status     int
	Type       string
	Message    string
	RetryAfter time.Duration
	Details    map[string]any
}

// Error 는 오류 메시지를 반환한다.
func (e *Error) Error() string {
	return e.Message
}

// RetryAfterSeconds 는 Retry-After 헤더 값(올림 초)이다. 제안이 없으면 0.
func (e *Error) RetryAfterSeconds() int {
	if e == nil || e.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

// Response 는 오류를 HTTP 응답으로 변환한다.
func Response(err error, requestID string) (int, ErrorResponse) {
	status, payload, _ := Describe(err, requestID)
	return status, payload
}

// Describe 는 Response 와 같지만 변환된 내부 오류도 함께 반환한다.
func Describe(err error, requestID string) (int, ErrorResponse, *Error) {
	apiErr := FromError(err)
	if apiErr == nil {
		apiErr = NewInternalError("unknown error")
	}

	var requestIDPtr *string
	if requestID != "" {
		requestIDPtr = &requestID
	}

	return apiErr.Status, ErrorResponse{
		ErrorCode: string(apiErr.Code),
		ErrorType: apiErr.Type,
		Message:   apiErr.Message,
		RequestID: requestIDPtr,
		Details:   apiErr.Details,
	}, apiErr
}

// FromError 는 오류를 내부 오류 타입으로 변환한다.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var orchestratorErr *apperr.Error
	if errors.As(err, &orchestratorErr) {
		return fromOrchestrator(orchestratorErr)
	}

	if errors.Is(err, gemini.ErrMissingAPIKey) {
		return &Error{
			Code:    ErrorCodeUpstreamConfig,
			Status:  http.StatusServiceUnavailable,
			Type:    "UpstreamConfigError",
			Message: "Missing Gemini API key",
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fromOrchestrator(apperr.Timeout(0, err))
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		return NewValidationError(err)
	}

	return NewInternalError(err.Error())
}

// fromOrchestrator 는 오케스트레이터 오류 종류를 그대로 코드로 쓴다.
// 메시지는 사용자용 문구이고 상세에는 진단 정보를 싣는다.
func fromOrchestrator(e *apperr.Error) *Error {
	status := e.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details["recoverable"] = e.Recoverable()
	return &Error{
		Code:       ErrorCode(e.Kind),
		Status:     status,
		Type:       typeName(e.Kind),
		Message:    e.UserMessage(),
		RetryAfter: e.RetryAfter,
		Details:    details,
	}
}

func typeName(kind apperr.Kind) string {
	switch kind {
	case apperr.KindRateLimitExceeded:
		return "RateLimitExceededError"
	case apperr.KindUpstreamUnavailable:
		return "UpstreamUnavailableError"
	case apperr.KindTimeout:
		return "TimeoutError"
	case apperr.KindUnparseable:
		return "UnparseableError"
	case apperr.KindStructuralInvalid:
		return "StructuralInvalidError"
	default:
		return "FatalError"
	}
}

// NewInternalError 는 내부 오류를 생성한다.
func NewInternalError(message string) *Error {
	return &Error{
		Code:    ErrorCodeInternal,
		Status:  http.StatusInternalServerError,
		Type:    "InternalError",
		Message: message,
	}
}

// NewValidationError 는 검증 오류를 생성한다.
func NewValidationError(err error) *Error {
	return &Error{
		Code:    ErrorCodeValidation,
		Status:  http.StatusUnprocessableEntity,
		Type:    "ValidationError",
		Message: "Input validation failed",
		Details: validationDetails(err),
	}
}

// NewInvalidInput 는 입력 오류를 생성한다.
func NewInvalidInput(message string) *Error {
	return &Error{
		Code:    ErrorCodeInvalidInput,
		Status:  http.StatusBadRequest,
		Type:    "InvalidInputError",
		Message: message,
	}
}

// NewNotFound 는 리소스 미존재 오류를 생성한다.
func NewNotFound(resource string, id string) *Error {
	return &Error{
		Code:    ErrorCodeNotFound,
		Status:  http.StatusNotFound,
		Type:    "NotFoundError",
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
		Details: map[string]any{resource: id},
	}
}

// NewUnauthorized 는 인증 오류를 생성한다.
func NewUnauthorized(details map[string]any) *Error {
	return &Error{
		Code:    ErrorCodeUnauthorized,
		Status:  http.StatusUnauthorized,
		Type:    "UnauthorizedError",
		Message: "Invalid API key",
		Details: details,
	}
}

// NewRateLimitExceeded 는 요청 제한 오류를 생성한다.
func NewRateLimitExceeded(details map[string]any, retryAfter time.Duration) *Error {
	return &Error{
		Code:       ErrorCodeHTTPRateLimit,
		Status:     http.StatusTooManyRequests,
		Type:       "HTTPRateLimitExceededError",
		Message:    "Rate limit exceeded",
		RetryAfter: retryAfter,
		Details:    details,
	}
}

// FieldError 는 필드 오류 상세 정보다.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value"`
}

func validationDetails(err error) map[string]any {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make([]FieldError, 0, len(validationErrors))
		for _, validationErr := range validationErrors {
			fields = append(fields, FieldError{
				Field:   validationErr.Field(),
				Message: validationErr.Error(),
				Value:   validationErr.Value(),
			})
		}
		return map[string]any{"errors": fields}
	}

	return map[string]any{
		"errors": []FieldError{
			{
				Field:   "body",
				Message: err.Error(),
				Value:   nil,
			},
		},
	}
}

// NewUnavailable 는 비활성화된 기능 또는 준비되지 않은 의존성 오류를 생성한다.
func NewUnavailable(message string) *Error {
	return &Error{
		Code:    ErrorCodeUnavailable,
		Status:  http.StatusServiceUnavailable,
		Type:    "UnavailableError",
		Message: message,
	}
}
