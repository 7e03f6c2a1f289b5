package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/park285/deck-orchestrator-go/internal/config"
)

const (
	defaultLogFileName = "orchestrator.log"
)

// NewLogger: 로거를 생성합니다.
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	return NewLoggerWithOTel(cfg, false)
}

// NewLoggerWithOTel: enableOTel이 true면 로그에 trace_id/span_id가 추가됩니다.
func NewLoggerWithOTel(cfg config.LoggingConfig, enableOTel bool) (*slog.Logger, error) {
	level := parseLevel(cfg.Level)
	logDir := strings.TrimSpace(cfg.LogDir)
	if logDir == "" {
		logger := newLogger(os.Stdout, level, false, enableOTel)
		slog.SetDefault(logger)
		return logger, nil
	}

	writer, logFile, err := NewRotatingWriter(cfg, logDir, defaultLogFileName)
	if err != nil {
		return nil, err
	}

	logger := newLogger(io.MultiWriter(os.Stdout, writer), level, true, enableOTel)
	slog.SetDefault(logger)
	logger.Info("file_logging_enabled",
		slog.String("path", logFile),
		slog.Bool("otel_correlation", enableOTel),
	)
	return logger, nil
}

// NewRotatingWriter: lumberjack 기반 롤링 파일 writer를 생성합니다.
// 사용량 감사 로그(JSONL)도 같은 회전 정책을 씁니다.
func NewRotatingWriter(cfg config.LoggingConfig, dir string, fileName string) (io.WriteCloser, string, error) {
	if cfg.MaxSizeMB <= 0 || cfg.MaxBackups <= 0 || cfg.MaxAgeDays <= 0 {
		return nil, "", fmt.Errorf(
			"invalid log config: size=%d backups=%d age_days=%d",
			cfg.MaxSizeMB,
			cfg.MaxBackups,
			cfg.MaxAgeDays,
		)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, "", fmt.Errorf("create log dir failed: %w", err)
	}

	logFile := &lumberjack.Logger{
		Filename:   filepath.Join(dir, fileName),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	// lumberjack은 첫 Write 때 파일을 만들므로 미리 열어 둔다
	if _, err := logFile.Write(nil); err != nil {
		return nil, "", fmt.Errorf("open log file failed: %w", err)
	}
	return logFile, logFile.Filename, nil
}

func newLogger(writer io.Writer, level slog.Level, noColor bool, enableOTel bool) *slog.Logger {
	var handler slog.Handler
	handler = tint.NewHandler(writer, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
		AddSource:  true,
		NoColor:    noColor,
	})

	if enableOTel {
		handler = &OTelHandler{inner: handler}
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// OTelHandler: slog.Handler를 래핑하여 trace_id/span_id를 로그에 추가합니다.
type OTelHandler struct {
	inner slog.Handler
}

func (h *OTelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *OTelHandler) Handle(ctx context.Context, record slog.Record) error {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		record.AddAttrs(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}
	if err := h.inner.Handle(ctx, record); err != nil {
		return fmt.Errorf("handle log record: %w", err)
	}
	return nil
}

func (h *OTelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &OTelHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *OTelHandler) WithGroup(name string) slog.Handler {
	return &OTelHandler{inner: h.inner.WithGroup(name)}
}
