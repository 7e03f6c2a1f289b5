package deck

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/park285/deck-orchestrator-go/internal/apperr"
)

// DefaultAllowedBlockTypes 는 렌더링 계층이 아는 블록 타입이다.
var DefaultAllowedBlockTypes = []string{
	"Title",
	"Subtitle",
	"Heading",
	"Paragraph",
	"BulletList",
	"NumberedList",
	"Image",
	"Chart",
	"Table",
	"Quote",
	"Code",
	"Columns",
	"Stat",
	"Timeline",
	"Divider",
	"Callout",
}

// Validator 는 문서 구조 계약을 검사한다.
type Validator struct {
	allowed map[string]struct{}
}

// NewValidator 는 허용 블록 타입으로 Validator 를 생성한다. 비어 있으면 기본 목록을 쓴다.
func NewValidator(allowedTypes ...string) *Validator {
	if len(allowedTypes) == 0 {
		allowedTypes = DefaultAllowedBlockTypes
	}
	allowed := make(map[string]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[t] = struct{}{}
	}
	return &Validator{allowed: allowed}
}

// Allowed 는 블록 타입 허용 여부다.
func (v *Validator) Allowed(blockType string) bool {
	_, ok := v.allowed[blockType]
	return ok
}

// Validate 는 문서 형태에 맞는 모드로 검사한다.
func (v *Validator) Validate(doc Document) error {
	if doc.IsSingleSlide() {
		if len(doc.Slides) != 1 {
			return apperr.StructuralInvalid("single-slide response must contain exactly one slide", map[string]any{
				"slides":   len(doc.Slides),
				"document": doc,
			})
		}
		return v.ValidateSlide(doc.Slides[0])
	}
	return v.ValidatePresentation(doc)
}

// ValidatePresentation 은 전체 문서 모드 검사다.
func (v *Validator) ValidatePresentation(doc Document) error {
	err := validation.ValidateStruct(&doc,
		validation.Field(&doc.Title, validation.By(notBlank)),
		validation.Field(&doc.Slides,
			validation.Required.Error("must contain at least one slide"),
			validation.Each(validation.By(v.slideRule(false))),
		),
	)
	return structuralError("presentation", err, doc)
}

// ValidateSlide 는 단일 슬라이드(수정 응답) 모드 검사다. 제목은 요구하지 않는다.
func (v *Validator) ValidateSlide(slide Slide) error {
	err := v.slideRule(true)(slide)
	return structuralError("slide", err, slide)
}

// ValidateTranslation 은 번역 전후 슬라이드/블록 개수가 같은지 검사한다.
func (v *Validator) ValidateTranslation(source Document, translated Document) error {
	if err := v.Validate(translated); err != nil {
		return err
	}
	if len(source.Slides) != len(translated.Slides) {
		return apperr.StructuralInvalid("translated slide count mismatch", map[string]any{
			"source_slides":     len(source.Slides),
			"translated_slides": len(translated.Slides),
		})
	}
	for i := range source.Slides {
		want, got := len(source.Slides[i].Blocks), len(translated.Slides[i].Blocks)
		if want != got {
			return apperr.StructuralInvalid("translated block count mismatch", map[string]any{
				"slide_index":       i,
				"slide_id":          source.Slides[i].ID,
				"source_blocks":     want,
				"translated_blocks": got,
			})
		}
	}
	return nil
}

func (v *Validator) slideRule(requireBlocks bool) func(value any) error {
	return func(value any) error {
		slide, ok := value.(Slide)
		if !ok {
			return fmt.Errorf("unexpected slide type %T", value)
		}
		blockRules := []validation.Rule{validation.Each(validation.By(v.blockRule))}
		if requireBlocks {
			blockRules = append([]validation.Rule{validation.Required.Error("must contain at least one block")}, blockRules...)
		}
		return validation.ValidateStruct(&slide,
			validation.Field(&slide.ID, validation.By(notBlank)),
			validation.Field(&slide.Blocks, blockRules...),
		)
	}
}

func (v *Validator) blockRule(value any) error {
	block, ok := value.(Block)
	if !ok {
		return fmt.Errorf("unexpected block type %T", value)
	}
	if !v.Allowed(block.Type) {
		return fmt.Errorf("block type %q is not allowed", block.Type)
	}
	return nil
}

func notBlank(value any) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) == "" {
		return errors.New("cannot be blank")
	}
	return nil
}

func structuralError(mode string, err error, offending any) error {
	if err == nil {
		return nil
	}
	violations := make(map[string]string)
	flattenErrors("", err, violations)
	return apperr.StructuralInvalid(
		fmt.Sprintf("%s failed structural validation: %s", mode, summarize(violations)),
		map[string]any{
			"mode":       mode,
			"violations": violations,
			"document":   offending,
		},
	)
}

// flattenErrors 는 중첩된 validation.Errors 를 "slides.0.blocks.1" 형태 키로 편다.
func flattenErrors(prefix string, err error, out map[string]string) {
	var errs validation.Errors
	if !errors.As(err, &errs) {
		key := prefix
		if key == "" {
			key = "document"
		}
		out[key] = err.Error()
		return
	}
	for field, fieldErr := range errs {
		if fieldErr == nil {
			continue
		}
		key := field
		if prefix != "" {
			key = prefix + "." + field
		}
		flattenErrors(key, fieldErr, out)
	}
}

func summarize(violations map[string]string) string {
	keys := make([]string, 0, len(violations))
	for k := range violations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+violations[k])
	}
	return strings.Join(parts, "; ")
}
