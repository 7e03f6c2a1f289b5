package respcache

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/park285/deck-orchestrator-go/internal/config"
	"github.com/park285/deck-orchestrator-go/internal/deck"
	"github.com/park285/deck-orchestrator-go/internal/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleDoc(title string) deck.Document {
	return deck.Document{
		Shape: deck.ShapePresentation,
		Title: title,
		Slides: []deck.Slide{
			{ID: "s1", Blocks: []deck.Block{{Type: "Heading", Props: map[string]any{"text": "hello"}}}},
		},
	}
}

func baseRequest() llm.Request {
	return llm.Request{
		Messages: []llm.Message{
			{Role: "user", Content: "make a deck"},
			{Role: "assistant", Content: "sure"},
			{Role: "user", Content: "about coffee"},
		},
		SystemPrompt: "You are a slide designer.",
	}
}

func TestKeyForDeterministicAndSensitive(t *testing.T) {
	base := baseRequest()
	if KeyFor(base) != KeyFor(baseRequest()) {
		t.Fatalf("identical requests must produce equal keys")
	}

	tests := []struct {
		name   string
		mutate func(*llm.Request)
	}{
		{"last message", func(r *llm.Request) { r.Messages[2].Content = "about tea" }},
		{"system prompt", func(r *llm.Request) { r.SystemPrompt = "Be terse." }},
		{"modify flag", func(r *llm.Request) { r.Modify = true }},
		{"attachment", func(r *llm.Request) { r.Attachment = &llm.Attachment{Data: []byte("pdf")} }},
		{"prompt", func(r *llm.Request) { r.Prompt = "extra" }},
		{"existing document", func(r *llm.Request) { r.ExistingDocument = `{"title":"Quarterly sales"}` }},
		{"model", func(r *llm.Request) { r.Model = "gemini-other" }},
	}
	for _, tt := range tests {
		req := baseRequest()
		tt.mutate(&req)
		if KeyFor(req) == KeyFor(base) {
			t.Errorf("%s: expected a different key", tt.name)
		}
	}
}

func TestKeyForSeparatesModifyTargets(t *testing.T) {
	sales := baseRequest()
	sales.Modify = true
	sales.ExistingDocument = `{"title":"Quarterly sales","slides":[]}`
	wedding := baseRequest()
	wedding.Modify = true
	wedding.ExistingDocument = `{"title":"Wedding plan","slides":[]}`
	if KeyFor(sales) == KeyFor(wedding) {
		t.Fatalf("modifying different documents must not share a key")
	}

	again := baseRequest()
	again.Modify = true
	again.ExistingDocument = sales.ExistingDocument
	if KeyFor(again) != KeyFor(sales) {
		t.Fatalf("the same modify request must keep its key")
	}
}

func TestKeyForIgnoresOlderMessagesAndLongPromptTail(t *testing.T) {
	a := baseRequest()
	b := baseRequest()
	b.Messages[0].Content = "something else entirely"
	if KeyFor(a) != KeyFor(b) {
		t.Fatalf("only the last two messages contribute to the key")
	}

	long := strings.Repeat("x", DefaultSystemPromptPrefix)
	a.SystemPrompt = long + "tail one"
	b.SystemPrompt = long + "tail two"
	b.Messages = a.Messages
	if KeyFor(a) != KeyFor(b) {
		t.Fatalf("system prompt beyond the prefix must not change the key")
	}
}

func TestKeyForNormalizesUnicode(t *testing.T) {
	composed := baseRequest()
	composed.Messages[2].Content = "caf\u00e9"
	decomposed := baseRequest()
	decomposed.Messages[2].Content = "cafe\u0301"
	if KeyFor(composed) != KeyFor(decomposed) {
		t.Fatalf("NFC-equivalent content must share a key")
	}
}

func newLocalCache(t *testing.T, ttlSeconds int) *Cache {
	t.Helper()
	c, err := New(config.ResponseCacheConfig{TTLSeconds: ttlSeconds, SweepIntervalSeconds: 1, SystemPromptPrefix: 256}, testLogger())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestCacheSetGetLastWriteWins(t *testing.T) {
	c := newLocalCache(t, 60)
	ctx := context.Background()

	c.Set(ctx, "k", sampleDoc("first"))
	c.Set(ctx, "k", sampleDoc("second"))
	doc, ok := c.Get(ctx, "k")
	if !ok || doc.Title != "second" {
		t.Fatalf("expected last write, got %+v ok=%v", doc, ok)
	}
	if _, ok := c.Get(ctx, "missing"); ok {
		t.Fatalf("expected miss")
	}
}

func TestCacheEntryExpires(t *testing.T) {
	c := newLocalCache(t, 1)
	ctx := context.Background()
	c.Set(ctx, "k", sampleDoc("deck"))

	time.Sleep(1100 * time.Millisecond)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatalf("expected expired entry to miss")
	}
	if removed := c.Sweep(); removed != 1 {
		t.Fatalf("expected sweep to remove 1 entry, got %d", removed)
	}
}

func TestNewRejectsNonPositiveTTL(t *testing.T) {
	if _, err := New(config.ResponseCacheConfig{TTLSeconds: 0}, testLogger()); err == nil {
		t.Fatalf("expected error")
	}
}

func newSharedCache(t *testing.T, mini *miniredis.Miniredis) *Cache {
	t.Helper()
	c, err := New(config.ResponseCacheConfig{
		TTLSeconds:           30,
		SweepIntervalSeconds: 1,
		StoreEnabled:         true,
		StoreURL:             mini.Addr(),
		StoreKeyPrefix:       "deck:resp:",
	}, testLogger())
	if err != nil {
		t.Fatalf("new shared cache: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestSharedTierReadThrough(t *testing.T) {
	mini := miniredis.RunT(t)
	ctx := context.Background()

	writer := newSharedCache(t, mini)
	writer.Set(ctx, "k1", sampleDoc("shared"))
	if !mini.Exists("deck:resp:k1") {
		t.Fatalf("expected payload in valkey")
	}
	if ttl := mini.TTL("deck:resp:k1"); ttl != 30*time.Second {
		t.Fatalf("expected 30s ttl, got %v", ttl)
	}

	reader := newSharedCache(t, mini)
	doc, ok := reader.Get(ctx, "k1")
	if !ok || doc.Title != "shared" || len(doc.Slides) != 1 || doc.Shape != deck.ShapePresentation {
		t.Fatalf("expected read-through hit, got %+v ok=%v", doc, ok)
	}
	if reader.Len() != 1 {
		t.Fatalf("expected read-through to fill local tier")
	}

	mini.FastForward(31 * time.Second)
	if _, ok := newSharedCache(t, mini).Get(ctx, "k1"); ok {
		t.Fatalf("expected remote entry to expire")
	}
}

func TestSharedTierFailureIsMiss(t *testing.T) {
	mini := miniredis.RunT(t)
	c := newSharedCache(t, mini)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}

	mini.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	c.Set(ctx, "k", sampleDoc("local only"))
	if doc, ok := c.Get(ctx, "k"); !ok || doc.Title != "local only" {
		t.Fatalf("local tier must keep serving when valkey is down")
	}
	if _, ok := c.Get(ctx, "other"); ok {
		t.Fatalf("expected miss when valkey is down")
	}
}

func TestClientOption(t *testing.T) {
	tests := []struct {
		raw     string
		addr    string
		wantErr bool
	}{
		{raw: "localhost:6379", addr: "localhost:6379"},
		{raw: "redis://cache:6380/2", addr: "cache:6380"},
		{raw: "  ", wantErr: true},
	}
	for _, tt := range tests {
		opt, err := clientOption(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tt.raw, err)
		}
		if len(opt.InitAddress) != 1 || opt.InitAddress[0] != tt.addr || !opt.DisableCache {
			t.Errorf("%q: unexpected option %+v", tt.raw, opt.InitAddress)
		}
	}
}

func TestDocumentCodecFrames(t *testing.T) {
	var codec documentCodec
	defer codec.close()

	small := deck.Document{Shape: deck.ShapeSlide, Slides: []deck.Slide{{ID: "s1", Blocks: []deck.Block{{Type: "Heading"}}}}}
	large := deck.Document{Shape: deck.ShapePresentation, Title: strings.Repeat("슬라이드 ", 200), Slides: small.Slides}

	tests := []struct {
		name  string
		doc   deck.Document
		frame byte
	}{
		{"small stays raw", small, frameRawJSON},
		{"large is compressed", large, frameZstd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := codec.encode(tt.doc)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if encoded[0] != tt.frame {
				t.Fatalf("expected frame 0x%02x, got 0x%02x", tt.frame, encoded[0])
			}
			decoded, err := codec.decode(encoded)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if decoded.Title != tt.doc.Title || decoded.Shape != tt.doc.Shape || len(decoded.Slides) != 1 {
				t.Fatalf("round trip mismatch: %+v", decoded)
			}
		})
	}

	encoded, _ := codec.encode(large)
	if len(encoded) >= len(large.Title) {
		t.Fatalf("expected repetitive payload to shrink")
	}
}

func TestDocumentCodecRejectsBadFrames(t *testing.T) {
	var codec documentCodec
	for _, frame := range [][]byte{nil, {0x7f, '{', '}'}, {frameZstd, 0x01, 0x02}, {frameRawJSON, '{'}} {
		if _, err := codec.decode(frame); err == nil {
			t.Fatalf("expected error for frame %v", frame)
		}
	}
}
