package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/joho/godotenv"
)

var (
	configOnce  sync.Once
	configValue *Config
)

// Load 는 환경 변수 기반 설정을 로드한다.
func Load() *Config {
	configOnce.Do(func() {
		_ = godotenv.Load()
		configValue = buildConfig()
	})
	return configValue
}

// ProvideConfig 는 설정을 로드하고 검증한다.
func ProvideConfig() (*Config, error) {
	cfg := Load()
	if cfg == nil {
		return nil, errors.New("config not initialized")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 는 설정 유효성을 검사한다.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Gemini.DefaultModel == "" {
		return errors.New("gemini default model is empty")
	}
	if c.Gemini.TimeoutSeconds <= 0 {
		return fmt.Errorf("invalid gemini timeout: %d", c.Gemini.TimeoutSeconds)
	}
	if c.Gemini.TransportMaxAttempts < 1 {
		return fmt.Errorf("invalid transport attempts: %d", c.Gemini.TransportMaxAttempts)
	}
	if c.Queue.MaxRetries > 0 && len(c.Queue.RetryScheduleMS) == 0 {
		return errors.New("queue retry schedule is empty")
	}
	for i := 1; i < len(c.Queue.RetryScheduleMS); i++ {
		if c.Queue.RetryScheduleMS[i] < c.Queue.RetryScheduleMS[i-1] {
			return fmt.Errorf("queue retry schedule must be non-decreasing: %v", c.Queue.RetryScheduleMS)
		}
	}
	if c.ResponseCache.TTLSeconds <= 0 {
		return fmt.Errorf("invalid response cache ttl: %d", c.ResponseCache.TTLSeconds)
	}
	return nil
}

// LogEnvStatus 는 환경 설정 상태를 로그로 남긴다.
func LogEnvStatus(cfg *Config, logger *slog.Logger) {
	if logger == nil || cfg == nil {
		return
	}

	envFilePresent := fileExists(".env")
	primaryKey := maskSecret(cfg.Gemini.PrimaryKey())
	logger.Debug(
		"env_status",
		"env_file", envFilePresent,
		"gemini_keys", len(cfg.Gemini.APIKeys),
		"primary_key", primaryKey,
		"model", cfg.Gemini.DefaultModel,
		"modify_model", cfg.Gemini.ModifyModel,
		"timeout", cfg.Gemini.TimeoutSeconds,
		"queue_min_interval_ms", cfg.Queue.MinIntervalMS,
		"queue_max_retries", cfg.Queue.MaxRetries,
		"cache_ttl", cfg.ResponseCache.TTLSeconds,
		"cache_store_url", cfg.ResponseCache.StoreURL,
		"db_host", cfg.Database.Host,
		"db_name", cfg.Database.Name,
	)

	if len(cfg.Gemini.APIKeys) == 0 {
		logger.Error("env_missing_google_api_key")
	}
}

func buildConfig() *Config {
	return &Config{
		Gemini: GeminiConfig{
			APIKeys:                   parseAPIKeys(),
			DefaultModel:              getEnvString("GEMINI_MODEL", "gemini-3-flash-preview"),
			ModifyModel:               getEnvString("GEMINI_MODIFY_MODEL", ""),
			Temperature:               getEnvFloat("GEMINI_TEMPERATURE", 0.7),
			MaxOutputTokens:           getEnvInt("GEMINI_MAX_TOKENS", 16384),
			ThinkingLevel:             getEnvString("GEMINI_THINKING_LEVEL", "low"),
			TimeoutSeconds:            getEnvInt("GEMINI_TIMEOUT", 60),
			TransportMaxAttempts:      max(1, getEnvInt("GEMINI_TRANSPORT_MAX_ATTEMPTS", 3)),
			TransportInitialBackoffMS: getEnvNonNegativeInt("GEMINI_TRANSPORT_INITIAL_BACKOFF_MS", 1000),
			TransportMaxBackoffMS:     getEnvNonNegativeInt("GEMINI_TRANSPORT_MAX_BACKOFF_MS", 5000),
		},
		Queue: QueueConfig{
			MinIntervalMS:    getEnvNonNegativeInt("QUEUE_MIN_INTERVAL_MS", 2000),
			MaxRetries:       getEnvNonNegativeInt("QUEUE_MAX_RETRIES", 3),
			RetryScheduleMS:  getEnvIntList("QUEUE_RETRY_SCHEDULE_MS", []int{3000, 6000, 12000}),
			ShutdownWaitSecs: getEnvNonNegativeInt("QUEUE_SHUTDOWN_WAIT_SECONDS", 5),
		},
		ResponseCache: ResponseCacheConfig{
			TTLSeconds:           getEnvInt("RESPONSE_CACHE_TTL_SECONDS", 300),
			SweepIntervalSeconds: max(1, getEnvNonNegativeInt("RESPONSE_CACHE_SWEEP_INTERVAL_SECONDS", 60)),
			SystemPromptPrefix:   max(1, getEnvNonNegativeInt("RESPONSE_CACHE_SYSTEM_PROMPT_PREFIX", 256)),
			StoreURL:             getEnvString("RESPONSE_CACHE_STORE_URL", ""),
			StoreEnabled:         getEnvBool("RESPONSE_CACHE_STORE_ENABLED", false),
			StoreKeyPrefix:       getEnvString("RESPONSE_CACHE_STORE_KEY_PREFIX", "deck:resp:"),
		},
		Usage: UsageConfig{
			MaxRecords:  max(1, getEnvNonNegativeInt("USAGE_MAX_RECORDS", 10000)),
			AuditLogDir: getEnvString("USAGE_AUDIT_LOG_DIR", ""),
			PricingFile: getEnvString("PRICING_FILE", ""),
		},
		Telemetry: readTelemetryConfig(),
		Logging: LoggingConfig{
			Level:      getEnvString("LOG_LEVEL", "info"),
			LogDir:     getEnvString("LOG_DIR", ""),
			MaxSizeMB:  getEnvInt("LOG_FILE_MAX_SIZE_MB", 1),
			MaxBackups: getEnvInt("LOG_FILE_MAX_BACKUPS", 30),
			MaxAgeDays: getEnvInt("LOG_FILE_MAX_AGE_DAYS", 7),
			Compress:   getEnvBool("LOG_FILE_COMPRESS", true),
		},
		HTTP: HTTPConfig{
			Host:         getEnvString("HTTP_HOST", "127.0.0.1"),
			Port:         getEnvInt("HTTP_PORT", 40600),
			HTTP2Enabled: getEnvBool("HTTP2_ENABLED", true),
		},
		GRPC: GRPCConfig{
			Host:    getEnvString("GRPC_HOST", "127.0.0.1"),
			Port:    getEnvInt("GRPC_PORT", 40601),
			Enabled: getEnvBool("GRPC_ENABLED", false),
		},
		HTTPAuth: HTTPAuthConfig{
			APIKey:   getEnvString("HTTP_API_KEY", ""),
			Required: getEnvBool("HTTP_AUTH_REQUIRED", false),
		},
		HTTPRateLimit: HTTPRateLimitConfig{
			RequestsPerMinute: getEnvNonNegativeInt("HTTP_RATE_LIMIT_RPM", 0),
			CacheSize:         max(1, getEnvNonNegativeInt("HTTP_RATE_LIMIT_CACHE_SIZE", 10000)),
			CacheTTLSeconds:   max(1, getEnvNonNegativeInt("HTTP_RATE_LIMIT_CACHE_TTL_SECONDS", 120)),
		},
		Database: DatabaseConfig{
			Host:                                 getEnvString("DB_HOST", "localhost"),
			Port:                                 getEnvInt("DB_PORT", 5432),
			Name:                                 getEnvString("DB_NAME", "decks"),
			User:                                 getEnvString("DB_USER", "decks"),
			Password:                             getEnvString("DB_PASSWORD", ""),
			MinPool:                              getEnvInt("DB_MIN_POOL", 1),
			MaxPool:                              getEnvInt("DB_MAX_POOL", 5),
			ConnMaxLifetimeMinutes:               getEnvNonNegativeInt("DB_CONN_MAX_LIFETIME_MINUTES", 60),
			ConnMaxIdleTimeMinutes:               getEnvNonNegativeInt("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),
			UsageEnabled:                         getEnvBool("DB_USAGE_ENABLED", false),
			UsageBatchFlushIntervalSeconds:       max(1, getEnvNonNegativeInt("DB_USAGE_BATCH_FLUSH_INTERVAL_SECONDS", 1)),
			UsageBatchFlushTimeoutSeconds:        max(1, getEnvNonNegativeInt("DB_USAGE_BATCH_FLUSH_TIMEOUT_SECONDS", 5)),
			UsageBatchMaxPendingRequests:         max(1, getEnvNonNegativeInt("DB_USAGE_BATCH_MAX_PENDING_REQUESTS", 50)),
			UsageBatchMaxBackoffSeconds:          getEnvNonNegativeInt("DB_USAGE_BATCH_MAX_BACKOFF_SECONDS", 60),
			UsageBatchErrorLogMaxIntervalSeconds: getEnvNonNegativeInt("DB_USAGE_BATCH_ERROR_LOG_MAX_INTERVAL_SECONDS", 60),
		},
	}
}
