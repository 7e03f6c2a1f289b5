package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

var errNegative = errors.New("negative value")

// envOr 는 key 가 비어 있거나 parse 가 실패하면 def 를 반환한다.
func envOr[T any](key string, def T, parse func(string) (T, error)) T {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	value, err := parse(raw)
	if err != nil {
		return def
	}
	return value
}

func getEnvString(key string, def string) string {
	return envOr(key, def, func(s string) (string, error) { return s, nil })
}

func getEnvInt(key string, def int) int {
	return envOr(key, def, strconv.Atoi)
}

// getEnvNonNegativeInt: 음수는 0 으로 올립니다.
func getEnvNonNegativeInt(key string, def int) int {
	return max(getEnvInt(key, def), 0)
}

func getEnvFloat(key string, def float64) float64 {
	return envOr(key, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

// getEnvBool: true/1/yes/y/on 만 참입니다.
func getEnvBool(key string, def bool) bool {
	return envOr(key, def, func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "true", "1", "yes", "y", "on":
			return true, nil
		}
		return false, nil
	})
}

// getEnvIntList: "3000,6000,12000" 형식의 음이 아닌 정수 목록입니다. 한 항목이라도 틀리면 기본값입니다.
func getEnvIntList(key string, def []int) []int {
	return envOr(key, def, func(s string) ([]int, error) {
		items := splitKeys(s)
		if len(items) == 0 {
			return nil, errors.New("empty list")
		}
		out := make([]int, 0, len(items))
		for _, item := range items {
			n, err := strconv.Atoi(item)
			if err != nil {
				return nil, err
			}
			if n < 0 {
				return nil, errNegative
			}
			out = append(out, n)
		}
		return out, nil
	})
}

// parseAPIKeys: GOOGLE_API_KEYS 가 있으면 그 목록을, 없으면 GOOGLE_API_KEY 하나를 씁니다.
func parseAPIKeys() []string {
	if keys := splitKeys(os.Getenv("GOOGLE_API_KEYS")); len(keys) > 0 {
		return keys
	}
	if key := strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")); key != "" {
		return []string{key}
	}
	return nil
}

// splitKeys 는 쉼표나 공백으로 구분된 목록을 나눈다.
func splitKeys(value string) []string {
	return strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
}

func isGemini3(model string) bool {
	return strings.Contains(strings.ToLower(model), "gemini-3")
}

func maskSecret(value string) string {
	switch {
	case value == "":
		return "<missing>"
	case len(value) <= 4:
		return strings.Repeat("*", len(value))
	default:
		return value[:2] + "***" + value[len(value)-2:]
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func readTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:        getEnvBool("OTEL_ENABLED", false),
		ServiceName:    getEnvString("OTEL_SERVICE_NAME", "deck-orchestrator"),
		ServiceVersion: getEnvString("OTEL_SERVICE_VERSION", "1.0.0"),
		Environment:    getEnvString("OTEL_ENVIRONMENT", "production"),
		OTLPEndpoint:   getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "jaeger:4317"),
		OTLPInsecure:   getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		SampleRate:     getEnvFloat("OTEL_SAMPLE_RATE", 1.0),
	}
}
