package config

import (
	"net"
	"net/url"
	"strconv"
	"time"
)

const gemini3MinTemperature = 1.0

// GeminiConfig: Gemini 모델 및 호출 설정입니다.
type GeminiConfig struct {
	APIKeys         []string
	DefaultModel    string
	ModifyModel     string
	Temperature     float64
	MaxOutputTokens int
	ThinkingLevel   string
	TimeoutSeconds  int

	// 전송 계층 재시도 (GenerationClient 내부)
	TransportMaxAttempts      int
	TransportInitialBackoffMS int
	TransportMaxBackoffMS     int
}

// PrimaryKey: 기본 API 키를 반환합니다.
func (g GeminiConfig) PrimaryKey() string {
	if len(g.APIKeys) == 0 {
		return ""
	}
	return g.APIKeys[0]
}

// ModelFor: 신규/수정 요청별 모델을 반환합니다.
func (g GeminiConfig) ModelFor(modify bool) string {
	if modify && g.ModifyModel != "" {
		return g.ModifyModel
	}
	return g.DefaultModel
}

// TemperatureForModel: 모델별 temperature를 계산합니다.
func (g GeminiConfig) TemperatureForModel(model string) float64 {
	if isGemini3(model) {
		return max(gemini3MinTemperature, g.Temperature)
	}
	return g.Temperature
}

// Timeout: 호출 전체에 적용되는 하드 데드라인입니다.
func (g GeminiConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// QueueConfig: 요청 큐 페이싱/재시도 설정입니다.
type QueueConfig struct {
	MinIntervalMS    int
	MaxRetries       int
	RetryScheduleMS  []int
	ShutdownWaitSecs int
}

// MinInterval: 연속 디스패치 사이 최소 간격입니다.
func (q QueueConfig) MinInterval() time.Duration {
	return time.Duration(q.MinIntervalMS) * time.Millisecond
}

// RetrySchedule: rate limit 재시도 지연 목록입니다.
func (q QueueConfig) RetrySchedule() []time.Duration {
	out := make([]time.Duration, 0, len(q.RetryScheduleMS))
	for _, ms := range q.RetryScheduleMS {
		out = append(out, time.Duration(ms)*time.Millisecond)
	}
	return out
}

// ResponseCacheConfig: 응답 캐시 설정입니다.
type ResponseCacheConfig struct {
	TTLSeconds           int
	SweepIntervalSeconds int
	SystemPromptPrefix   int
	StoreURL             string
	StoreEnabled         bool
	StoreKeyPrefix       string
}

// TTL: 캐시 엔트리 수명입니다.
func (r ResponseCacheConfig) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

// SweepInterval: 만료 엔트리 정리 주기입니다.
func (r ResponseCacheConfig) SweepInterval() time.Duration {
	return time.Duration(r.SweepIntervalSeconds) * time.Second
}

// UsageConfig: 사용량 계측 설정입니다.
type UsageConfig struct {
	MaxRecords  int
	AuditLogDir string
	PricingFile string
}

// TelemetryConfig: OpenTelemetry 설정입니다.
type TelemetryConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	OTLPInsecure   bool
	SampleRate     float64
}

// LoggingConfig: 로깅 설정입니다.
type LoggingConfig struct {
	Level      string
	LogDir     string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// HTTPConfig: HTTP 서버 설정입니다.
type HTTPConfig struct {
	Host         string
	Port         int
	HTTP2Enabled bool
}

// GRPCConfig: gRPC 덱 서비스/헬스 서버 설정입니다.
type GRPCConfig struct {
	Host    string
	Port    int
	Enabled bool
}

// HTTPAuthConfig: API 키 인증 설정입니다.
type HTTPAuthConfig struct {
	APIKey   string
	Required bool
}

// HTTPRateLimitConfig: 요청 제한 설정입니다.
type HTTPRateLimitConfig struct {
	RequestsPerMinute int
	CacheSize         int
	CacheTTLSeconds   int
}

// DatabaseConfig: 사용량 영속화용 DB 설정입니다.
type DatabaseConfig struct {
	Host                                 string
	Port                                 int
	Name                                 string
	User                                 string
	Password                             string
	MinPool                              int
	MaxPool                              int
	ConnMaxLifetimeMinutes               int
	ConnMaxIdleTimeMinutes               int
	UsageEnabled                         bool
	UsageBatchFlushIntervalSeconds       int
	UsageBatchFlushTimeoutSeconds        int
	UsageBatchMaxPendingRequests         int
	UsageBatchMaxBackoffSeconds          int
	UsageBatchErrorLogMaxIntervalSeconds int
}

// DSN: DB 접속 문자열을 반환합니다.
func (d DatabaseConfig) DSN() string {
	host := net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
	u := &url.URL{
		Scheme: "postgresql",
		Host:   host,
		Path:   "/" + d.Name,
	}
	if d.Password == "" {
		u.User = url.User(d.User)
	} else {
		u.User = url.UserPassword(d.User, d.Password)
	}
	return u.String()
}

// Config: 애플리케이션 전체 설정입니다.
type Config struct {
	Gemini        GeminiConfig
	Queue         QueueConfig
	ResponseCache ResponseCacheConfig
	Usage         UsageConfig
	Telemetry     TelemetryConfig
	Logging       LoggingConfig
	HTTP          HTTPConfig
	GRPC          GRPCConfig
	HTTPAuth      HTTPAuthConfig
	HTTPRateLimit HTTPRateLimitConfig
	Database      DatabaseConfig
}
