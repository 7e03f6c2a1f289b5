package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/park285/deck-orchestrator-go/internal/config"
	"github.com/park285/deck-orchestrator-go/internal/metrics"
)

func TestNewRouterWiresMiddleware(t *testing.T) {
	cfg := &config.Config{
		Gemini:        config.GeminiConfig{APIKeys: []string{"k"}, DefaultModel: "gemini-2.5-flash"},
		HTTPAuth:      config.HTTPAuthConfig{APIKey: "secret"},
		HTTPRateLimit: config.HTTPRateLimitConfig{RequestsPerMinute: 100, CacheSize: 16, CacheTTLSeconds: 60},
	}
	store := metrics.NewStore()
	router := NewRouter(cfg, discardLogger(),
		NewDeckHandler(&fakeSubmitter{}, discardLogger()),
		NewUsageHandler(fakeUsage{}, nil, store, discardLogger()),
		NewHealthHandler(cfg, store.Handler()),
	)

	tests := []struct {
		name     string
		path     string
		apiKey   string
		want     int
		encoding string
	}{
		{"health is public", "/health", "", http.StatusOK, ""},
		{"api requires key", "/api/queue/stats", "", http.StatusUnauthorized, "gzip"},
		{"api with key", "/api/queue/stats", "secret", http.StatusOK, "gzip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("Accept-Encoding", "gzip")
			if tt.apiKey != "" {
				req.Header.Set("X-API-Key", tt.apiKey)
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			if resp.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, resp.Code)
			}
			if got := resp.Header().Get("Content-Encoding"); got != tt.encoding {
				t.Fatalf("expected Content-Encoding %q, got %q", tt.encoding, got)
			}
			if resp.Header().Get("X-Request-ID") == "" {
				t.Fatalf("expected request id header")
			}
		})
	}
}
