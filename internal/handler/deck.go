package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"github.com/park285/deck-orchestrator-go/internal/apperr"
	"github.com/park285/deck-orchestrator-go/internal/deck"
	"github.com/park285/deck-orchestrator-go/internal/httperror"
	"github.com/park285/deck-orchestrator-go/internal/llm"
	"github.com/park285/deck-orchestrator-go/internal/middleware"
	"github.com/park285/deck-orchestrator-go/internal/queue"
)

// Submitter: 요청 큐 추상화입니다.
type Submitter interface {
	Submit(ctx context.Context, req llm.Request) (deck.Document, error)
	Stats() queue.Stats
}

// MessageRequest: 대화 메시지 입력입니다.
type MessageRequest struct {
	Role    string `json:"role" binding:"required,oneof=user assistant model system"`
	Content string `json:"content" binding:"required"`
}

// AttachmentRequest: 첨부 파일 입력입니다. data 는 base64 문자열입니다.
type AttachmentRequest struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type" binding:"required"`
	Data     []byte `json:"data" binding:"required"`
}

// GenerateRequest: 신규 덱 생성 요청 본문입니다.
type GenerateRequest struct {
	Messages      []MessageRequest   `json:"messages" binding:"omitempty,dive"`
	SystemPrompt  string             `json:"system_prompt"`
	Prompt        string             `json:"prompt"`
	Attachment    *AttachmentRequest `json:"file_attachment"`
	CorrelationID string             `json:"correlation_id" binding:"max=128"`
	Action        string             `json:"action" binding:"max=64"`
	Model         string             `json:"model"`
}

// ModifyRequest: 기존 문서 수정 요청 본문입니다.
type ModifyRequest struct {
	GenerateRequest
	ExistingDocument map[string]any `json:"existing_document" binding:"required"`
}

// DeckHandler: 덱 생성 API 핸들러입니다.
type DeckHandler struct {
	queue  Submitter
	logger *slog.Logger
}

// NewDeckHandler: 덱 핸들러를 생성합니다.
func NewDeckHandler(q Submitter, logger *slog.Logger) *DeckHandler {
	return &DeckHandler{queue: q, logger: logger}
}

// RegisterRoutes: 덱/큐 라우트를 등록합니다.
func (h *DeckHandler) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api/deck")
	group.POST("/generate", h.handleGenerate)
	group.POST("/modify", h.handleModify)
	router.GET("/api/queue/stats", h.handleStats)
}

func (h *DeckHandler) handleGenerate(c *gin.Context) {
	var body GenerateRequest
	h.handle(c, &body)
}

func (h *DeckHandler) handleModify(c *gin.Context) {
	var body ModifyRequest
	h.handle(c, &body)
}

// requestBody: 요청 본문 DTO 공통 인터페이스입니다.
type requestBody interface {
	ToRequest() (llm.Request, error)
}

func (h *DeckHandler) handle(c *gin.Context, body requestBody) {
	if !bindJSON(c, body) {
		return
	}
	req, err := body.ToRequest()
	if err != nil {
		writeError(c, err)
		return
	}
	// 사용량 기록을 HTTP 로그와 잇는다
	if req.CorrelationID == "" {
		req.CorrelationID = middleware.GetRequestID(c)
	}
	h.submit(c, req)
}

func (h *DeckHandler) submit(c *gin.Context, req llm.Request) {
	doc, err := h.queue.Submit(c.Request.Context(), req)
	if err != nil {
		kind, _ := apperr.KindOf(err)
		h.logger.Warn("deck_request_failed",
			"action", req.ActionName(),
			"correlation_id", req.CorrelationID,
			"kind", kind,
			"err", err,
		)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *DeckHandler) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.Stats())
}

// ToRequest: 본문을 생성 요청으로 변환합니다.
func (r GenerateRequest) ToRequest() (llm.Request, error) {
	if len(r.Messages) == 0 && strings.TrimSpace(r.Prompt) == "" {
		return llm.Request{}, httperror.NewInvalidInput("messages or prompt is required")
	}

	messages := make([]llm.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	req := llm.Request{
		Messages:      messages,
		SystemPrompt:  r.SystemPrompt,
		Prompt:        r.Prompt,
		CorrelationID: r.CorrelationID,
		Action:        strings.TrimSpace(r.Action),
		Model:         strings.TrimSpace(r.Model),
	}
	if r.Attachment != nil {
		req.Attachment = &llm.Attachment{
			Name:     r.Attachment.Name,
			MimeType: r.Attachment.MimeType,
			Data:     r.Attachment.Data,
		}
	}
	return req, nil
}

// ToRequest: 기존 문서를 직렬화해 수정 요청으로 변환합니다.
func (r ModifyRequest) ToRequest() (llm.Request, error) {
	req, err := r.GenerateRequest.ToRequest()
	if err != nil {
		return llm.Request{}, err
	}
	if len(r.ExistingDocument) == 0 {
		return llm.Request{}, httperror.NewInvalidInput("existing_document is required")
	}
	document, err := json.Marshal(r.ExistingDocument)
	if err != nil {
		return llm.Request{}, httperror.NewInvalidInput("existing_document is not serializable")
	}
	req.Modify = true
	req.ExistingDocument = string(document)
	return req, nil
}
