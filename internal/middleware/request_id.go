package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader 는 요청 ID 헤더 키다.
const RequestIDHeader = "X-Request-ID"

// CorrelationIDHeader 는 호출자가 붙이는 상관관계 ID 헤더 키다.
const CorrelationIDHeader = "X-Correlation-ID"

const requestIDKey = "request_id"

// RequestID 는 요청 ID를 부여하는 미들웨어다.
// 요청 ID 가 없으면 상관관계 ID 를, 그것도 없으면 새 UUID 를 쓴다.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = c.GetHeader(CorrelationIDHeader)
		}
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}

// GetRequestID: 컨텍스트의 요청 ID를 반환합니다.
func GetRequestID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(requestIDKey)
}
