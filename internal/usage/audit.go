package usage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/goccy/go-json"

	"github.com/park285/deck-orchestrator-go/internal/config"
	"github.com/park285/deck-orchestrator-go/internal/logging"
)

const auditFileName = "usage-audit.jsonl"

// AuditLog 는 기록을 한 줄짜리 JSON 으로 회전 파일에 남긴다.
type AuditLog struct {
	mu     sync.Mutex
	w      io.WriteCloser
	logger *slog.Logger
}

// NewAuditLog 는 dir 아래에 감사 로그를 연다.
func NewAuditLog(cfg config.LoggingConfig, dir string, logger *slog.Logger) (*AuditLog, error) {
	w, path, err := logging.NewRotatingWriter(cfg, dir, auditFileName)
	if err != nil {
		return nil, fmt.Errorf("open usage audit log: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("usage_audit_log_enabled", "path", path)
	return newAuditLog(w, logger), nil
}

func newAuditLog(w io.WriteCloser, logger *slog.Logger) *AuditLog {
	return &AuditLog{w: w, logger: logger}
}

// Record 는 기록 한 줄을 쓴다. 실패는 로그만 남긴다.
func (a *AuditLog) Record(_ context.Context, rec UsageRecord) {
	line, err := json.Marshal(rec)
	if err != nil {
		a.logger.Warn("usage_audit_marshal_failed", "err", err)
		return
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.w.Write(line); err != nil {
		a.logger.Warn("usage_audit_write_failed", "err", err)
	}
}

// Close 는 파일을 닫는다.
func (a *AuditLog) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.w.Close(); err != nil {
		a.logger.Warn("usage_audit_close_failed", "err", err)
	}
}

var _ Sink = (*AuditLog)(nil)
