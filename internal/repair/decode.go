package repair

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
	"github.com/mitchellh/mapstructure"

	"github.com/park285/deck-orchestrator-go/internal/deck"
)

const untitledPresentation = "Untitled presentation"

// 모델이 문서를 한 번 감싸서 보내는 경우의 키
var wrapperKeys = []string{"presentation", "deck", "document", "data"}

var (
	slideMarker  = regexp.MustCompile(`\{\s*"id"\s*:`)
	titlePattern = regexp.MustCompile(`"title"\s*:\s*"((?:[^"\\]|\\.)*)"`)
)

func decoderConfig(result any) *mapstructure.DecoderConfig {
	return &mapstructure.DecoderConfig{
		Result:           result,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	}
}

func decodeInto(input any, result any) error {
	decoder, err := mapstructure.NewDecoder(decoderConfig(result))
	if err != nil {
		return fmt.Errorf("new decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// decodeDocument 는 엄격 파싱 후 형태를 판별해 문서로 디코딩한다.
func decodeDocument(text string) (deck.Document, error) {
	var value any
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return deck.Document{}, fmt.Errorf("strict parse: %w", err)
	}
	return documentFromValue(value, true)
}

func documentFromValue(value any, allowUnwrap bool) (deck.Document, error) {
	switch v := value.(type) {
	case map[string]any:
		if _, ok := v["slides"]; ok {
			var doc deck.Document
			if err := decodeInto(v, &doc); err != nil {
				return deck.Document{}, err
			}
			doc.Shape = deck.ShapePresentation
			doc.Normalize()
			return doc, nil
		}
		if _, ok := v["id"]; ok {
			slide, err := decodeSlide(v)
			if err != nil {
				return deck.Document{}, err
			}
			return deck.NewSingleSlide(slide), nil
		}
		if allowUnwrap && len(v) == 1 {
			for _, key := range wrapperKeys {
				if inner, ok := v[key]; ok {
					return documentFromValue(inner, false)
				}
			}
		}
		return deck.Document{}, errors.New("unrecognized object shape")
	case []any:
		var slides []deck.Slide
		if err := decodeInto(v, &slides); err != nil {
			return deck.Document{}, err
		}
		doc := deck.Document{Shape: deck.ShapePresentation, Slides: slides}
		doc.Normalize()
		return doc, nil
	default:
		return deck.Document{}, fmt.Errorf("unexpected top-level %T", value)
	}
}

func decodeSlide(value map[string]any) (deck.Slide, error) {
	var slide deck.Slide
	if err := decodeInto(value, &slide); err != nil {
		return deck.Slide{}, err
	}
	slide.Normalize()
	return slide, nil
}

// salvageSlides 는 슬라이드 마커마다 객체 끝을 찾아 개별 파싱한다.
// 이미 복구한 슬라이드 안쪽의 마커는 건너뛴다. 첫 마커 위치도 함께 반환한다.
func salvageSlides(text string) ([]deck.Slide, int) {
	markers := slideMarker.FindAllStringIndex(text, -1)
	if len(markers) == 0 {
		return nil, -1
	}

	var slides []deck.Slide
	coveredUntil := -1
	for _, m := range markers {
		start := m[0]
		if start <= coveredUntil || insideString(text, start) {
			continue
		}
		end := objectEnd(text, start)
		if end < 0 {
			continue
		}
		// 파싱에 실패해도 안쪽 블록을 슬라이드로 착각하지 않도록 구간은 덮는다
		coveredUntil = end

		var value map[string]any
		if err := json.Unmarshal([]byte(RemoveTrailingCommas(text[start:end+1])), &value); err != nil {
			continue
		}
		// id 만 있는 블록 객체는 슬라이드가 아니다
		if _, ok := value["blocks"]; !ok {
			continue
		}
		slide, err := decodeSlide(value)
		if err != nil || strings.TrimSpace(slide.ID) == "" {
			continue
		}
		slides = append(slides, slide)
	}
	return slides, markers[0][0]
}

// objectEnd 는 start 의 '{' 와 짝이 맞는 '}' 위치를 문자열을 고려해 찾는다. 잘렸으면 -1.
func objectEnd(text string, start int) int {
	depth := 0
	inString := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// insideString 은 pos 가 문자열 리터럴 안인지 검사한다.
func insideString(text string, pos int) bool {
	inString := false
	for i := 0; i < pos && i < len(text); i++ {
		c := text[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
		}
	}
	return inString
}

func extractTitle(text string) (string, bool) {
	m := titlePattern.FindStringSubmatch(text)
	if len(m) != 2 {
		return "", false
	}
	title := strings.TrimSpace(unquote(m[1]))
	return title, title != ""
}

func placeholderSlide() deck.Slide {
	return deck.Slide{
		ID: "placeholder-1",
		Blocks: []deck.Block{
			{Type: "Heading", Props: map[string]any{"text": "This slide could not be generated"}},
			{Type: "Paragraph", Props: map[string]any{"text": "The response was incomplete. Please retry generation."}},
		},
	}
}
