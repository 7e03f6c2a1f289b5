package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"github.com/park285/deck-orchestrator-go/internal/usage"
)

type fakeUsage struct {
	summaries map[string]usage.ActionSummary
	records   map[string][]usage.UsageRecord
}

func (f fakeUsage) Aggregate(action string) (usage.ActionSummary, bool) {
	s, ok := f.summaries[action]
	return s, ok
}

func (f fakeUsage) Actions() []usage.ActionSummary {
	out := make([]usage.ActionSummary, 0, len(f.summaries))
	for _, s := range f.summaries {
		out = append(out, s)
	}
	return out
}

func (f fakeUsage) Records(action string) []usage.UsageRecord {
	return f.records[action]
}

type fakeDaily struct {
	rows []usage.DailyActionUsage
	err  error
	date time.Time
}

func (f *fakeDaily) GetDailyUsage(_ context.Context, usageDate time.Time) ([]usage.DailyActionUsage, error) {
	f.date = usageDate
	return f.rows, f.err
}

type fakeMetrics map[string]float64

func (f fakeMetrics) Snapshot() map[string]float64 { return f }

func newUsageRouter(daily DailyUsageSource) *gin.Engine {
	gin.SetMode(gin.TestMode)
	meter := fakeUsage{
		summaries: map[string]usage.ActionSummary{
			"create-deck": {Action: "create-deck", Calls: 3, Failures: 1, Cost: 0.25},
			"modify-deck": {Action: "modify-deck", Calls: 1, Cost: 0.5},
		},
		records: map[string][]usage.UsageRecord{
			"create-deck": {{ID: "r1", Action: "create-deck"}, {ID: "r2", Action: "create-deck"}},
		},
	}
	router := gin.New()
	NewUsageHandler(meter, daily, fakeMetrics{"total_calls": 4}, discardLogger()).RegisterRoutes(router)
	return router
}

func getJSON(t *testing.T, router *gin.Engine, path string, out any) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if out != nil && resp.Code == http.StatusOK {
		if err := json.Unmarshal(resp.Body.Bytes(), out); err != nil {
			t.Fatalf("failed to decode %s: %v", path, err)
		}
	}
	return resp.Code
}

func TestUsageActions(t *testing.T) {
	router := newUsageRouter(nil)

	var list ActionListResponse
	if code := getJSON(t, router, "/api/usage/actions", &list); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(list.Actions) != 2 || list.TotalCalls != 4 || list.TotalCostUSD != 0.75 {
		t.Fatalf("unexpected list: %+v", list)
	}

	var detail ActionDetailResponse
	if code := getJSON(t, router, "/api/usage/actions/create-deck", &detail); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if detail.Calls != 3 || detail.Records != nil {
		t.Fatalf("records must be omitted by default: %+v", detail)
	}

	detail = ActionDetailResponse{}
	getJSON(t, router, "/api/usage/actions/create-deck?records=true", &detail)
	if len(detail.Records) != 2 {
		t.Fatalf("expected records, got %+v", detail.Records)
	}

	if code := getJSON(t, router, "/api/usage/actions/unknown", nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestUsageMetricsSnapshot(t *testing.T) {
	var snapshot map[string]float64
	if code := getJSON(t, newUsageRouter(nil), "/api/usage/metrics", &snapshot); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if snapshot["total_calls"] != 4 {
		t.Fatalf("unexpected snapshot: %v", snapshot)
	}
}

func TestUsageDaily(t *testing.T) {
	if code := getJSON(t, newUsageRouter(nil), "/api/usage/daily", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without persistence, got %d", code)
	}

	daily := &fakeDaily{rows: []usage.DailyActionUsage{
		{Action: "create-deck", InputTokens: 10, OutputTokens: 20, CostUSD: 0.1, RequestCount: 2},
		{Action: "modify-deck", InputTokens: 5, OutputTokens: 5, CostUSD: 0.2, RequestCount: 1},
	}}
	router := newUsageRouter(daily)

	var resp DailyUsageResponse
	if code := getJSON(t, router, "/api/usage/daily?date=2026-03-02", &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp.UsageDate != "2026-03-02" || !daily.date.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date: %s / %v", resp.UsageDate, daily.date)
	}
	if resp.TotalTokens != 40 || resp.RequestCount != 3 {
		t.Fatalf("unexpected totals: %+v", resp)
	}

	if code := getJSON(t, router, "/api/usage/daily?date=03/02/2026", nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", code)
	}

	daily.err = errors.New("connection reset")
	if code := getJSON(t, router, "/api/usage/daily", nil); code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on store failure, got %d", code)
	}
}
