// Package gemini 는 Google Gemini 를 생성 업스트림으로 감싼다.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/park285/deck-orchestrator-go/internal/config"
	"github.com/park285/deck-orchestrator-go/internal/llm"
)

var (
	// ErrMissingAPIKey 는 Gemini API 키가 없을 때 반환된다.
	ErrMissingAPIKey = errors.New("missing gemini api key")
	// ErrEmptyRequest 는 보낼 메시지가 없을 때 반환된다.
	ErrEmptyRequest = errors.New("empty generation request")
	// ErrEmptyResponse 는 후보 텍스트가 비어 있을 때 반환된다.
	ErrEmptyResponse = errors.New("empty model response")
)

const jsonMimeType = "application/json"

// Client 는 Gemini 호출을 담당한다. API 키가 여러 개면 라운드로빈으로 돌린다.
type Client struct {
	cfg       config.GeminiConfig
	mu        sync.Mutex
	clients   map[string]*genai.Client
	apiKeys   []string
	apiKeyIdx int
}

// NewClient 는 Gemini 클라이언트를 생성한다. genai 클라이언트는 키별로 지연 생성한다.
func NewClient(cfg config.GeminiConfig) *Client {
	return &Client{
		cfg:     cfg,
		clients: make(map[string]*genai.Client),
		apiKeys: cfg.APIKeys,
	}
}

// Ready 는 호출 가능한 키가 있는지 반환한다.
func (c *Client) Ready() bool {
	return len(c.apiKeys) > 0
}

// Generate 는 요청 1회를 보내고 원문 텍스트와 사용량을 반환한다. 재시도는 하지 않는다.
func (c *Client) Generate(ctx context.Context, model string, req llm.Request) (llm.Response, error) {
	contents, err := buildContents(req)
	if err != nil {
		return llm.Response{}, err
	}

	client, err := c.selectClient(ctx)
	if err != nil {
		return llm.Response{}, err
	}

	response, err := client.Models.GenerateContent(ctx, model, contents, c.buildGenerateConfig(req.SystemPrompt, model))
	if err != nil {
		return llm.Response{}, fmt.Errorf("generate content: %w", err)
	}

	textParts, _ := extractParts(response)
	text := strings.Join(textParts, "")
	if strings.TrimSpace(text) == "" {
		return llm.Response{}, fmt.Errorf("%w: finish_reason=%s", ErrEmptyResponse, finishReason(response))
	}

	return llm.Response{
		Text:  text,
		Model: model,
		Usage: extractUsage(response),
	}, nil
}

func (c *Client) selectClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.apiKeys) == 0 {
		return nil, ErrMissingAPIKey
	}

	key := c.apiKeys[c.apiKeyIdx%len(c.apiKeys)]
	c.apiKeyIdx++
	if client, ok := c.clients[key]; ok {
		return client, nil
	}

	client, err := genai.NewClient(context.WithoutCancel(ctx), &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			Timeout: genai.Ptr(c.cfg.Timeout()),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	c.clients[key] = client
	return client, nil
}

func (c *Client) buildGenerateConfig(systemPrompt string, model string) *genai.GenerateContentConfig {
	temperature := float32(c.cfg.TemperatureForModel(model))
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(temperature),
		MaxOutputTokens:  int32(c.cfg.MaxOutputTokens),
		ResponseMIMEType: jsonMimeType,
	}

	if systemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	if thinkingLevel, ok := normalizeThinkingLevel(c.cfg.ThinkingLevel); ok {
		config.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingLevel:   thinkingLevel,
		}
	}

	return config
}

// buildContents 는 대화 메시지 뒤에 프롬프트와 첨부 파일을 한 user 턴으로 붙인다.
func buildContents(req llm.Request) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(req.Messages)+1)
	for _, msg := range req.Messages {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		var role genai.Role = genai.RoleUser
		if strings.EqualFold(msg.Role, "assistant") || strings.EqualFold(msg.Role, "model") {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}

	var parts []*genai.Part
	if strings.TrimSpace(req.Prompt) != "" {
		parts = append(parts, genai.NewPartFromText(req.Prompt))
	}
	if req.Attachment != nil && len(req.Attachment.Data) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Attachment.Data, req.Attachment.MimeType))
	}
	if len(parts) > 0 {
		contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
	}

	if len(contents) == 0 {
		return nil, ErrEmptyRequest
	}
	return contents, nil
}

func normalizeThinkingLevel(level string) (genai.ThinkingLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "low":
		return genai.ThinkingLevelLow, true
	case "medium":
		return genai.ThinkingLevelMedium, true
	case "high":
		return genai.ThinkingLevelHigh, true
	case "minimal":
		return genai.ThinkingLevelMinimal, true
	default:
		return "", false
	}
}

func extractParts(response *genai.GenerateContentResponse) ([]string, []string) {
	if response == nil || len(response.Candidates) == 0 {
		return nil, nil
	}
	content := response.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 {
		return nil, nil
	}

	texts := make([]string, 0)
	thoughts := make([]string, 0)
	for _, part := range content.Parts {
		if part == nil || part.Text == "" {
			continue
		}
		if part.Thought {
			thoughts = append(thoughts, part.Text)
			continue
		}
		texts = append(texts, part.Text)
	}
	return texts, thoughts
}

// extractUsage 는 캐시 적중분을 입력 토큰에서 분리해 단가별로 셀 수 있게 한다.
func extractUsage(response *genai.GenerateContentResponse) llm.Usage {
	if response == nil || response.UsageMetadata == nil {
		return llm.Usage{}
	}
	usage := response.UsageMetadata
	cached := int(usage.CachedContentTokenCount)
	return llm.Usage{
		InputTokens:     max(0, int(usage.PromptTokenCount)-cached),
		OutputTokens:    int(usage.CandidatesTokenCount) + int(usage.ThoughtsTokenCount),
		ReasoningTokens: int(usage.ThoughtsTokenCount),
		CacheReadTokens: cached,
	}
}

func finishReason(response *genai.GenerateContentResponse) string {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0] == nil {
		return "NO_CANDIDATES"
	}
	return string(response.Candidates[0].FinishReason)
}
