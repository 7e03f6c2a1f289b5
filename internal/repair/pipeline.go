// Package repair 는 모델의 원문 응답을 단계적으로 복구해 문서로 만든다.
package repair

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/park285/deck-orchestrator-go/internal/apperr"
	"github.com/park285/deck-orchestrator-go/internal/deck"
)

// Tier 는 성공한 복구 단계 이름이다.
type Tier string

const (
	TierStrict   Tier = "strict"
	TierRepaired Tier = "repaired"
	TierBalanced Tier = "balanced"
	TierSalvaged Tier = "salvaged"
)

const (
	defaultRawPrefixLimit = 500
	defaultRetryAfter     = 2 * time.Second
)

// Result 는 파싱 결과와 진단 정보다.
type Result struct {
	Document deck.Document
	Tier     Tier
	// Placeholder 는 살아남은 슬라이드가 없어 안내 슬라이드를 합성했는지 여부다.
	Placeholder bool
	// Salvaged 는 salvage 단계에서 복구한 슬라이드 수다.
	Salvaged int
}

type tier struct {
	name Tier
	run  func(raw string) (Result, error)
}

// Pipeline 은 단계별 복구 전략 체인이다. 앞 단계가 실패했을 때만 다음 단계를 시도한다.
type Pipeline struct {
	logger         *slog.Logger
	transforms     []Transform
	tiers          []tier
	rawPrefixLimit int
	retryAfter     time.Duration
}

// Option 은 Pipeline 설정 함수다.
type Option func(*Pipeline)

// WithTransforms 는 휴리스틱 변환 목록을 교체한다.
func WithTransforms(transforms ...Transform) Option {
	return func(p *Pipeline) {
		p.transforms = transforms
	}
}

// WithRetryAfter 는 최종 실패 시 제안할 재시도 지연을 바꾼다.
func WithRetryAfter(d time.Duration) Option {
	return func(p *Pipeline) {
		p.retryAfter = d
	}
}

// NewPipeline 은 기본 4단계 체인을 구성한다.
func NewPipeline(logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		logger:         logger,
		transforms:     DefaultTransforms(),
		rawPrefixLimit: defaultRawPrefixLimit,
		retryAfter:     defaultRetryAfter,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.tiers = []tier{
		{name: TierStrict, run: p.strict},
		{name: TierRepaired, run: p.repaired},
		{name: TierBalanced, run: p.balanced},
		{name: TierSalvaged, run: p.salvage},
	}
	return p
}

// Parse 는 원문을 문서로 바꾼다. 모든 단계가 실패하면 Unparseable 오류를 반환한다.
func (p *Pipeline) Parse(raw string) (deck.Document, error) {
	result, err := p.ParseDetailed(raw)
	if err != nil {
		return deck.Document{}, err
	}
	return result.Document, nil
}

// ParseDetailed 는 Parse 와 같지만 성공한 단계 정보를 함께 반환한다.
func (p *Pipeline) ParseDetailed(raw string) (Result, error) {
	var lastErr error
	for _, t := range p.tiers {
		result, err := runTier(t, raw)
		if err == nil {
			result.Tier = t.name
			if t.name != TierStrict {
				p.logger.Info("repair_tier_succeeded",
					"tier", t.name,
					"slides", len(result.Document.Slides),
					"placeholder", result.Placeholder,
				)
			}
			return result, nil
		}
		p.logger.Debug("repair_tier_failed", "tier", t.name, "err", err)
		lastErr = err
	}

	p.logger.Warn("repair_unparseable", "raw_len", len(raw), "err", lastErr)
	return Result{}, apperr.Unparseable(truncateRunes(raw, p.rawPrefixLimit), p.retryAfter, lastErr)
}

// runTier 는 단계 내부 panic 을 해당 단계 실패로 바꾼다.
func runTier(t tier, raw string) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tier %s panicked: %v", t.name, r)
		}
	}()
	return t.run(raw)
}

func (p *Pipeline) strict(raw string) (Result, error) {
	doc, err := decodeDocument(candidateJSON(StripFences(raw)))
	if err != nil {
		return Result{}, err
	}
	return Result{Document: doc}, nil
}

func (p *Pipeline) repaired(raw string) (Result, error) {
	doc, err := decodeDocument(p.applyTransforms(candidateJSON(StripFences(raw))))
	if err != nil {
		return Result{}, err
	}
	return Result{Document: doc}, nil
}

func (p *Pipeline) balanced(raw string) (Result, error) {
	text := p.applyTransforms(fromFirstOpener(StripFences(raw)))
	balanced := BalanceClosers(DropIncompleteElement(text))
	if balanced == text {
		return Result{}, errors.New("no closers to balance")
	}
	doc, err := decodeDocument(RemoveTrailingCommas(balanced))
	if err != nil {
		return Result{}, err
	}
	if len(doc.Slides) == 0 {
		return Result{}, errors.New("no complete slide before truncation")
	}
	return Result{Document: doc}, nil
}

func (p *Pipeline) salvage(raw string) (Result, error) {
	text := p.applyTransforms(fromFirstOpener(StripFences(raw)))
	slides, firstMarker := salvageSlides(text)

	titleScope := text
	if firstMarker >= 0 {
		titleScope = text[:firstMarker]
	}
	title, hasTitle := extractTitle(titleScope)

	switch {
	case len(slides) > 0 && hasTitle:
		return Result{
			Document: deck.Document{Shape: deck.ShapePresentation, Title: title, Slides: slides},
			Salvaged: len(slides),
		}, nil
	case len(slides) == 1:
		return Result{Document: deck.NewSingleSlide(slides[0]), Salvaged: 1}, nil
	case len(slides) > 1:
		return Result{
			Document: deck.Document{Shape: deck.ShapePresentation, Title: untitledPresentation, Slides: slides},
			Salvaged: len(slides),
		}, nil
	case hasTitle:
		return Result{
			Document:    deck.Document{Shape: deck.ShapePresentation, Title: title, Slides: []deck.Slide{placeholderSlide()}},
			Placeholder: true,
		}, nil
	default:
		return Result{}, errors.New("no slides or title recoverable")
	}
}

func (p *Pipeline) applyTransforms(text string) string {
	for _, t := range p.transforms {
		text = t.Apply(text)
	}
	return text
}

// fromFirstOpener 는 첫 여는 괄호부터 끝까지를 반환한다.
func fromFirstOpener(s string) string {
	if start := strings.IndexAny(s, "{["); start >= 0 {
		return s[start:]
	}
	return s
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

// unquote 는 JSON 문자열 리터럴 본문을 해석한다. 실패하면 원문을 돌려준다.
func unquote(body string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+body+`"`), &out); err != nil {
		return body
	}
	return out
}
