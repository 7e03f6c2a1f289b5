package prompt

import (
	"fmt"
	"strings"
)

// scanTemplate 는 템플릿을 훑으며 리터럴 조각과 자리표시자 키를 콜백으로 넘긴다.
// {{ 와 }} 는 중괄호 리터럴이다.
func scanTemplate(template string, literal func(string), placeholder func(string) error) error {
	start := 0
	flush := func(end int) {
		if end > start {
			literal(template[start:end])
		}
	}
	for i := 0; i < len(template); {
		switch template[i] {
		case '{':
			flush(i)
			if i+1 < len(template) && template[i+1] == '{' {
				literal("{")
				i += 2
				start = i
				continue
			}
			end := strings.IndexByte(template[i+1:], '}')
			if end < 0 {
				return fmt.Errorf("invalid template: missing '}'")
			}
			if err := placeholder(template[i+1 : i+1+end]); err != nil {
				return err
			}
			i += end + 2
			start = i
		case '}':
			flush(i)
			if i+1 < len(template) && template[i+1] == '}' {
				literal("}")
				i += 2
				start = i
				continue
			}
			return fmt.Errorf("invalid template: unexpected '}'")
		default:
			i++
		}
	}
	flush(len(template))
	return nil
}

// FormatTemplate: 템플릿 문자열의 {key} 를 값으로 치환합니다.
func FormatTemplate(template string, values map[string]string) (string, error) {
	var builder strings.Builder
	builder.Grow(len(template))

	err := scanTemplate(template,
		func(s string) { builder.WriteString(s) },
		func(key string) error {
			value, ok := values[key]
			if !ok {
				return fmt.Errorf("missing template value for %q", key)
			}
			builder.WriteString(value)
			return nil
		},
	)
	if err != nil {
		return "", err
	}
	return builder.String(), nil
}

// Placeholders: 템플릿이 요구하는 키를 등장 순서대로 중복 없이 반환합니다.
func Placeholders(template string) ([]string, error) {
	var keys []string
	seen := make(map[string]bool)
	err := scanTemplate(template, func(string) {}, func(key string) error {
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"\"", "&quot;",
	"'", "&apos;",
)

// EscapeXML: XML 텍스트로 안전하게 이스케이프합니다.
func EscapeXML(value string) string {
	return xmlEscaper.Replace(value)
}

// WrapXML: 값을 이스케이프해 XML 태그로 감쌉니다.
func WrapXML(tag string, value string) string {
	return "<" + tag + ">" + EscapeXML(value) + "</" + tag + ">"
}

// WrapBlock: 값을 이스케이프 없이 줄 단위 태그 블록으로 감쌉니다. JSON 문서처럼 원문 그대로 보여야 하는 값에 씁니다.
func WrapBlock(tag string, value string) string {
	return "<" + tag + ">\n" + value + "\n</" + tag + ">"
}
