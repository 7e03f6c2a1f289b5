package llm

import "strings"

// 요청 종류
const (
	KindNew    = "new"
	KindModify = "modify"
)

// DefaultAction: 논리 액션이 비어 있을 때 사용량 집계에 쓰는 이름입니다.
const DefaultAction = "create-deck"

// Message: 대화 메시지 항목입니다.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Attachment: 요청에 첨부된 파일 페이로드입니다.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Request: 생성 요청입니다. 제출 이후에는 변경하지 않는다.
type Request struct {
	Messages         []Message
	SystemPrompt     string
	Prompt           string
	Modify           bool
	ExistingDocument string
	Attachment       *Attachment
	CorrelationID    string
	Action           string
	Model            string
}

// Kind: 사용량 기록용 요청 종류를 반환합니다.
func (r Request) Kind() string {
	if r.Modify {
		return KindModify
	}
	return KindNew
}

// HasExistingDocument: 기존 문서 수정 요청인지 여부입니다.
func (r Request) HasExistingDocument() bool {
	return r.Modify || strings.TrimSpace(r.ExistingDocument) != ""
}

// ActionName: 집계용 논리 액션 이름을 반환합니다.
func (r Request) ActionName() string {
	if action := strings.TrimSpace(r.Action); action != "" {
		return action
	}
	if r.Modify {
		return "modify-deck"
	}
	return DefaultAction
}

// LastUserText: 마지막 user 메시지 본문을 반환합니다. Prompt가 있으면 우선한다.
func (r Request) LastUserText() string {
	if r.Prompt != "" {
		return r.Prompt
	}
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if !strings.EqualFold(r.Messages[i].Role, "assistant") && !strings.EqualFold(r.Messages[i].Role, "model") {
			return r.Messages[i].Content
		}
	}
	return ""
}

// Usage: 토큰 사용량 정보를 담습니다.
type Usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	ReasoningTokens  int `json:"reasoning_tokens"`
	CacheWriteTokens int `json:"cache_write_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens"` // 암시적 캐싱된 토큰 수 (CachedContentTokenCount)
}

// TotalTokens: 입력과 출력 토큰 합계입니다.
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// CacheHitRatio: 캐시 적중률을 계산합니다 (0.0 ~ 1.0).
func (u Usage) CacheHitRatio() float64 {
	if u.InputTokens == 0 {
		return 0
	}
	return float64(u.CacheReadTokens) / float64(u.InputTokens)
}

// Response: 모델의 원문 응답과 사용량입니다.
type Response struct {
	Text  string
	Model string
	Usage Usage
}
