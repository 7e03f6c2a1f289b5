package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/park285/deck-orchestrator-go/internal/config"
)

// Store 는 일자/액션 단위 사용량 영속 저장소다.
type Store interface {
	RecordUsage(ctx context.Context, day time.Time, action string, delta usageDelta) error
	GetDailyUsage(ctx context.Context, day time.Time) ([]DailyActionUsage, error)
	Close()
}

var _ Store = (*Repository)(nil)

// UsageDay 는 t 가 속한 UTC 일자의 자정이다. 저장과 조회 모두 이 값을 키로 쓴다.
func UsageDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// accumulated 는 upsert 충돌 시 기존 값에 더할 컬럼이다.
var accumulated = []string{
	"input_tokens",
	"output_tokens",
	"cache_write_tokens",
	"cache_read_tokens",
	"cost_usd",
	"request_count",
	"failure_count",
}

func upsertAssignments() clause.Set {
	table := ActionUsage{}.TableName()
	values := make(map[string]any, len(accumulated)+1)
	for _, column := range accumulated {
		values[column] = gorm.Expr(fmt.Sprintf("%s.%s + EXCLUDED.%s", table, column, column))
	}
	values["version"] = gorm.Expr(table + ".version + 1")
	return clause.Assignments(values)
}

// Repository 는 PostgreSQL 사용량 저장소다. 첫 사용 시 연결하고 스키마를 맞춘다.
type Repository struct {
	cfg    config.DatabaseConfig
	logger *slog.Logger

	mu    sync.Mutex
	db    *gorm.DB
	sqlDB *sql.DB
}

// NewRepository 는 연결하지 않은 저장소를 만든다.
func NewRepository(cfg config.DatabaseConfig, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{cfg: cfg, logger: logger}
}

// RecordUsage 는 (day, action) 행에 델타를 더한다.
func (r *Repository) RecordUsage(ctx context.Context, day time.Time, action string, delta usageDelta) error {
	if delta.requestCount <= 0 {
		return nil
	}
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}

	row := delta.row(UsageDay(day), action)
	err = db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "usage_date"}, {Name: "action"}},
		DoUpdates: upsertAssignments(),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert action usage: %w", err)
	}
	return nil
}

// GetDailyUsage 는 day 의 액션별 사용량을 액션 이름 순으로 반환한다.
func (r *Repository) GetDailyUsage(ctx context.Context, day time.Time) ([]DailyActionUsage, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var rows []ActionUsage
	if err := db.WithContext(ctx).Where("usage_date = ?", UsageDay(day)).Order("action").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query daily usage: %w", err)
	}

	out := make([]DailyActionUsage, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.view())
	}
	return out, nil
}

// Close 는 DB 연결을 닫는다.
func (r *Repository) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sqlDB == nil {
		return
	}
	if err := r.sqlDB.Close(); err != nil {
		r.logger.Warn("usage_db_close_failed", "err", err)
	}
	r.sqlDB = nil
	r.db = nil
}

func (r *Repository) conn(ctx context.Context) (*gorm.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db != nil {
		return r.db, nil
	}

	db, err := gorm.Open(postgres.Open(r.cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get usage db handle: %w", err)
	}
	applyPool(sqlDB, r.cfg)

	if err := db.WithContext(ctx).AutoMigrate(&ActionUsage{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}

	r.logger.Info("usage_db_connected", "host", r.cfg.Host, "name", r.cfg.Name)
	r.db = db
	r.sqlDB = sqlDB
	return db, nil
}

func applyPool(sqlDB *sql.DB, cfg config.DatabaseConfig) {
	if cfg.MinPool > 0 {
		sqlDB.SetMaxIdleConns(cfg.MinPool)
	}
	if cfg.MaxPool > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxPool)
	}
	if cfg.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	}
	if cfg.ConnMaxIdleTimeMinutes > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)
	}
}
