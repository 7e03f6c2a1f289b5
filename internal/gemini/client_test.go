package gemini

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/genai"

	"github.com/park285/deck-orchestrator-go/internal/config"
	"github.com/park285/deck-orchestrator-go/internal/llm"
)

func TestNormalizeThinkingLevel(t *testing.T) {
	level, ok := normalizeThinkingLevel("low")
	if !ok || level != genai.ThinkingLevelLow {
		t.Fatalf("unexpected thinking level")
	}

	if _, ok := normalizeThinkingLevel("none"); ok {
		t.Fatalf("expected none to be disabled")
	}

	if _, ok := normalizeThinkingLevel("unknown"); ok {
		t.Fatalf("expected unknown to be disabled")
	}
}

func TestBuildContents(t *testing.T) {
	req := llm.Request{
		Messages: []llm.Message{
			{Role: "assistant", Content: "A1"},
			{Role: "user", Content: "Q1"},
			{Role: "user", Content: "   "},
		},
		Prompt:     "make slides",
		Attachment: &llm.Attachment{MimeType: "application/pdf", Data: []byte("%PDF")},
	}
	contents, err := buildContents(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(contents))
	}
	if contents[0].Role != string(genai.RoleModel) || contents[0].Parts[0].Text != "A1" {
		t.Fatalf("expected model turn first, got %+v", contents[0])
	}
	last := contents[2]
	if last.Role != string(genai.RoleUser) || len(last.Parts) != 2 {
		t.Fatalf("expected prompt and attachment in final user turn, got %+v", last)
	}
	if last.Parts[0].Text != "make slides" {
		t.Fatalf("unexpected prompt part: %+v", last.Parts[0])
	}
	if last.Parts[1].InlineData == nil || last.Parts[1].InlineData.MIMEType != "application/pdf" {
		t.Fatalf("expected inline attachment, got %+v", last.Parts[1])
	}
}

func TestBuildContentsRejectsEmpty(t *testing.T) {
	if _, err := buildContents(llm.Request{}); !errors.Is(err, ErrEmptyRequest) {
		t.Fatalf("expected empty request error, got %v", err)
	}
}

func TestExtractParts(t *testing.T) {
	texts, thoughts := extractParts(nil)
	if texts != nil || thoughts != nil {
		t.Fatalf("expected nil parts for nil response")
	}

	response := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Parts: []*genai.Part{
						{Text: `{"title":`},
						{Text: "thinking", Thought: true},
						{Text: `"x"}`},
						nil,
					},
				},
			},
		},
	}
	texts, thoughts = extractParts(response)
	if len(texts) != 2 || texts[0]+texts[1] != `{"title":"x"}` {
		t.Fatalf("unexpected texts: %v", texts)
	}
	if len(thoughts) != 1 {
		t.Fatalf("unexpected thoughts: %v", thoughts)
	}
}

func TestExtractUsageSeparatesCachedTokens(t *testing.T) {
	response := &genai.GenerateContentResponse{
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:        100,
			CachedContentTokenCount: 40,
			CandidatesTokenCount:    20,
			ThoughtsTokenCount:      3,
		},
	}
	usage := extractUsage(response)
	if usage.InputTokens != 60 || usage.CacheReadTokens != 40 {
		t.Fatalf("unexpected input split: %+v", usage)
	}
	if usage.OutputTokens != 23 || usage.ReasoningTokens != 3 {
		t.Fatalf("unexpected output tokens: %+v", usage)
	}
	if extractUsage(nil) != (llm.Usage{}) {
		t.Fatalf("expected zero usage for nil response")
	}
}

func TestBuildGenerateConfig(t *testing.T) {
	client := NewClient(config.GeminiConfig{Temperature: 0.2, MaxOutputTokens: 1024, ThinkingLevel: "low"})
	cfg := client.buildGenerateConfig("be a designer", "gemini-2.5-flash")
	if cfg.ResponseMIMEType != jsonMimeType || cfg.MaxOutputTokens != 1024 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.SystemInstruction == nil || cfg.ThinkingConfig == nil {
		t.Fatalf("expected system instruction and thinking config")
	}
	if *cfg.Temperature != float32(0.2) {
		t.Fatalf("unexpected temperature: %v", *cfg.Temperature)
	}
}

func TestGenerateWithoutKeys(t *testing.T) {
	client := NewClient(config.GeminiConfig{})
	if client.Ready() {
		t.Fatalf("client without keys must not be ready")
	}
	_, err := client.Generate(context.Background(), "gemini-2.5-flash", llm.Request{Prompt: "hi"})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestFinishReason(t *testing.T) {
	if finishReason(nil) != "NO_CANDIDATES" {
		t.Fatalf("unexpected reason for nil response")
	}
	response := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}}}
	if finishReason(response) != string(genai.FinishReasonSafety) {
		t.Fatalf("unexpected reason")
	}
}
