package deckgen

import (
	"embed"
	"fmt"
	"strings"

	"github.com/park285/deck-orchestrator-go/internal/prompt"
)

//go:embed prompts/*.yml
var promptsFS embed.FS

const (
	promptGenerate = "generate"
	promptModify   = "modify"
)

// Prompts 는 덱 생성 프롬프트 모음이다.
type Prompts struct {
	bundle *prompt.Bundle
}

// NewPrompts: 내장 덱 프롬프트를 로드합니다.
func NewPrompts() (*Prompts, error) {
	bundle, err := prompt.LoadBundle(promptsFS, "prompts", "deck")
	if err != nil {
		return nil, fmt.Errorf("load deck prompts: %w", err)
	}
	return &Prompts{bundle: bundle}, nil
}

// System: 요청 종류별 시스템 프롬프트를 반환합니다.
func (p *Prompts) System(modify bool) (string, error) {
	if modify {
		return p.bundle.System(promptModify)
	}
	return p.bundle.System(promptGenerate)
}

// ModifyUser: 기존 문서를 문맥으로 붙인 수정 지시문을 반환합니다.
func (p *Prompts) ModifyUser(document string, instruction string) (string, error) {
	wrapped := ""
	if strings.TrimSpace(instruction) != "" {
		wrapped = prompt.WrapXML("instruction", instruction)
	}
	// 문서 JSON 은 이스케이프하지 않는다
	return p.bundle.Render(promptModify, map[string]string{
		"document":    prompt.WrapBlock("existing_document", document),
		"instruction": wrapped,
	})
}
