package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestLogger 는 HTTP 요청 로그 미들웨어다.
// 헬스/메트릭 경로는 실패했을 때만 남긴다.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return func(c *gin.Context) {
		startedAt := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		if status < http.StatusBadRequest && len(c.Errors) == 0 && isProbePath(path) {
			return
		}

		fields := []any{
			"request_id", GetRequestID(c),
			"method", c.Request.Method,
			"path", path,
			"route", c.FullPath(),
			"status", status,
			"latency", time.Since(startedAt),
			"bytes", c.Writer.Size(),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("http_request", fields...)
		default:
			logger.Info("http_request", fields...)
		}
	}
}

func isProbePath(path string) bool {
	return path == "/metrics" || path == "/health" || strings.HasPrefix(path, "/health/")
}
