// Package respcache 는 생성 결과를 요청 지문 단위로 캐싱한다.
package respcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/text/unicode/norm"

	"github.com/park285/deck-orchestrator-go/internal/llm"
)

const (
	// DefaultSystemPromptPrefix: 지문에 반영하는 system prompt 앞부분 길이(rune)입니다.
	DefaultSystemPromptPrefix = 256
	// fingerprintMessages: 지문에 반영하는 마지막 메시지 수
	fingerprintMessages = 2
)

type keyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type keyEnvelope struct {
	Messages            []keyMessage `json:"messages"`
	System              string       `json:"system"`
	HasExistingDocument bool         `json:"has_existing_document"`
	DocumentHash        string       `json:"document_hash"`
	Model               string       `json:"model"`
	AttachmentHash      string       `json:"attachment_hash"`
	PromptHash          string       `json:"prompt_hash"`
}

// Keyer 는 요청에서 캐시 키를 만든다.
type Keyer struct {
	SystemPromptPrefix int
}

// KeyFor 는 기본 설정으로 캐시 키를 계산한다.
func KeyFor(req llm.Request) string {
	return Keyer{SystemPromptPrefix: DefaultSystemPromptPrefix}.KeyFor(req)
}

// KeyFor 는 요청 지문(SHA-256 hex)을 계산한다. 같은 요청은 항상 같은 키를 만든다.
func (k Keyer) KeyFor(req llm.Request) string {
	prefix := k.SystemPromptPrefix
	if prefix <= 0 {
		prefix = DefaultSystemPromptPrefix
	}

	messages := req.Messages
	if len(messages) > fingerprintMessages {
		messages = messages[len(messages)-fingerprintMessages:]
	}
	env := keyEnvelope{
		Messages:            make([]keyMessage, 0, len(messages)),
		System:              firstRunes(norm.NFC.String(req.SystemPrompt), prefix),
		HasExistingDocument: req.HasExistingDocument(),
		Model:               req.Model,
		PromptHash:          hashHex([]byte(norm.NFC.String(req.Prompt))),
	}
	for _, m := range messages {
		env.Messages = append(env.Messages, keyMessage{Role: m.Role, Content: norm.NFC.String(m.Content)})
	}
	// 같은 지시라도 수정 대상 문서가 다르면 다른 결과다
	if doc := strings.TrimSpace(req.ExistingDocument); doc != "" {
		env.DocumentHash = hashHex([]byte(norm.NFC.String(doc)))
	}
	if req.Attachment != nil {
		env.AttachmentHash = hashHex(req.Attachment.Data)
	}

	// 구조체 필드 순서가 고정이라 직렬화 결과도 결정적이다
	payload, err := json.Marshal(env)
	if err != nil {
		return hashHex([]byte(req.Prompt + req.SystemPrompt))
	}
	return hashHex(payload)
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func firstRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
