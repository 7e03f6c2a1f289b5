package handler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"github.com/park285/deck-orchestrator-go/internal/apperr"
	"github.com/park285/deck-orchestrator-go/internal/deck"
	"github.com/park285/deck-orchestrator-go/internal/llm"
	"github.com/park285/deck-orchestrator-go/internal/middleware"
	"github.com/park285/deck-orchestrator-go/internal/queue"
)

type fakeSubmitter struct {
	doc  deck.Document
	err  error
	last llm.Request
	hits int
}

func (f *fakeSubmitter) Submit(_ context.Context, req llm.Request) (deck.Document, error) {
	f.hits++
	f.last = req
	if f.err != nil {
		return deck.Document{}, f.err
	}
	return f.doc, nil
}

func (f *fakeSubmitter) Stats() queue.Stats {
	return queue.Stats{Depth: 2, Running: true, Enqueued: int64(f.hits)}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDeckRouter(sub *fakeSubmitter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.RequestID())
	NewDeckHandler(sub, discardLogger()).RegisterRoutes(router)
	return router
}

func postJSON(router *gin.Engine, path string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func sampleDeck() deck.Document {
	return deck.Document{
		Shape: deck.ShapePresentation,
		Title: "Roadmap",
		Slides: []deck.Slide{
			{ID: "s1", Blocks: []deck.Block{{Type: "Heading", Props: map[string]any{"text": "Q1"}}}},
		},
	}
}

func TestGenerateReturnsDocument(t *testing.T) {
	sub := &fakeSubmitter{doc: sampleDeck()}
	router := newDeckRouter(sub)

	resp := postJSON(router, "/api/deck/generate", `{
		"messages": [{"role": "user", "content": "Make a roadmap deck"}],
		"correlation_id": "corr-1",
		"action": "create-deck",
		"file_attachment": {"name": "notes.txt", "mime_type": "text/plain", "data": "aGVsbG8="}
	}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var got deck.Document
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.Title != "Roadmap" || len(got.Slides) != 1 {
		t.Fatalf("unexpected document: %+v", got)
	}

	req := sub.last
	if req.Modify || req.CorrelationID != "corr-1" || req.Messages[0].Role != "user" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.Attachment == nil || string(req.Attachment.Data) != "hello" {
		t.Fatalf("expected decoded attachment, got %+v", req.Attachment)
	}
}

func TestGenerateDefaultsCorrelationToRequestID(t *testing.T) {
	sub := &fakeSubmitter{doc: sampleDeck()}
	req := httptest.NewRequest(http.MethodPost, "/api/deck/generate", bytes.NewBufferString(`{"prompt":"Quarterly review"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	resp := httptest.NewRecorder()
	newDeckRouter(sub).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if sub.last.CorrelationID != "req-42" {
		t.Fatalf("expected request id as correlation id, got %q", sub.last.CorrelationID)
	}
}

func TestGenerateRejectsInvalidBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty body", ``, http.StatusBadRequest},
		{"malformed json", `{"messages":`, http.StatusUnprocessableEntity},
		{"no content", `{"correlation_id": "x"}`, http.StatusBadRequest},
		{"unknown role", `{"messages": [{"role": "robot", "content": "hi"}]}`, http.StatusUnprocessableEntity},
		{"attachment without mime", `{"prompt": "hi", "file_attachment": {"data": "aGk="}}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{doc: sampleDeck()}
			resp := postJSON(newDeckRouter(sub), "/api/deck/generate", tt.body)
			if resp.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, resp.Code, resp.Body.String())
			}
			if sub.hits != 0 {
				t.Fatalf("invalid request must not reach the queue")
			}
		})
	}
}

func TestModifyPassesExistingDocument(t *testing.T) {
	sub := &fakeSubmitter{doc: deck.NewSingleSlide(deck.Slide{ID: "s2"})}
	router := newDeckRouter(sub)

	resp := postJSON(router, "/api/deck/modify", `{
		"prompt": "Make the title shorter",
		"existing_document": {"id": "s2", "blocks": [{"type": "Heading", "props": {"text": "A very long title"}}]}
	}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if !sub.last.Modify {
		t.Fatalf("expected modify request")
	}
	if !strings.Contains(sub.last.ExistingDocument, `"A very long title"`) {
		t.Fatalf("expected serialized document, got %q", sub.last.ExistingDocument)
	}
	if sub.last.ActionName() != "modify-deck" {
		t.Fatalf("unexpected action: %s", sub.last.ActionName())
	}
}

func TestModifyRequiresExistingDocument(t *testing.T) {
	sub := &fakeSubmitter{}
	resp := postJSON(newDeckRouter(sub), "/api/deck/modify", `{"prompt": "shorter"}`)
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.Code)
	}
	if sub.hits != 0 {
		t.Fatalf("request must not reach the queue")
	}
}

func TestGenerateMapsOrchestratorErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		want       int
		code       string
		retryAfter string
	}{
		{"rate limit exhausted", apperr.RateLimitExceeded(3, nil), http.StatusTooManyRequests, "rate_limit_exceeded", ""},
		{"timeout", apperr.Timeout(90*time.Second, context.DeadlineExceeded), http.StatusGatewayTimeout, "timeout", ""},
		{"unparseable", apperr.Unparseable("Sure!", 5*time.Second, nil), http.StatusBadGateway, "unparseable", "5"},
		{"structural", apperr.StructuralInvalid("expected a full presentation", nil), http.StatusUnprocessableEntity, "structural_invalid", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(newDeckRouter(&fakeSubmitter{err: tt.err}), "/api/deck/generate", `{"prompt": "deck"}`)
			if resp.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, resp.Code)
			}
			var payload map[string]any
			if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if !strings.EqualFold(payload["error_code"].(string), tt.code) {
				t.Fatalf("expected code %s, got %v", tt.code, payload["error_code"])
			}
			if payload["request_id"] == nil {
				t.Fatalf("expected request id in error body")
			}
			if got := resp.Header().Get("Retry-After"); got != tt.retryAfter {
				t.Fatalf("expected Retry-After %q, got %q", tt.retryAfter, got)
			}
		})
	}
}

func TestQueueStats(t *testing.T) {
	router := newDeckRouter(&fakeSubmitter{})
	req := httptest.NewRequest(http.MethodGet, "/api/queue/stats", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var stats queue.Stats
	if err := json.Unmarshal(resp.Body.Bytes(), &stats); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if stats.Depth != 2 || !stats.Running {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
