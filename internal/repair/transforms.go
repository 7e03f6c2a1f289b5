package repair

import (
	"fmt"
	"regexp"
	"strings"
)

// Transform 은 순수 text -> text 복구 변환이다.
type Transform struct {
	Name  string
	Apply func(string) string
}

// DefaultTransforms 는 누적 적용되는 휴리스틱 복구 순서다.
func DefaultTransforms() []Transform {
	return []Transform{
		{Name: "control_chars", Apply: FixControlChars},
		{Name: "quote_keys", Apply: QuoteBareKeys},
		{Name: "quote_values", Apply: QuoteBareValues},
		{Name: "missing_commas", Apply: InsertMissingCommas},
		{Name: "trailing_commas", Apply: RemoveTrailingCommas},
	}
}

// segment 는 코드 구간 또는 문자열 리터럴(따옴표 포함) 구간이다.
type segment struct {
	text   string
	str    bool
	closed bool
}

// splitSegments 는 텍스트를 문자열 리터럴 경계로 나눈다.
// 구조 문자는 모두 ASCII 라서 바이트 단위로 훑어도 UTF-8 이 깨지지 않는다.
func splitSegments(s string) []segment {
	var segs []segment
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] != '"' {
			continue
		}
		if i > start {
			segs = append(segs, segment{text: s[start:i]})
		}
		end := closingQuote(s, i)
		if end < 0 {
			segs = append(segs, segment{text: s[i:], str: true})
			return segs
		}
		segs = append(segs, segment{text: s[i : end+1], str: true, closed: true})
		start = end + 1
		i = end
	}
	if start < len(s) {
		segs = append(segs, segment{text: s[start:]})
	}
	return segs
}

// closingQuote 는 open 위치 따옴표를 닫는 따옴표 위치를 반환한다. 없으면 -1.
func closingQuote(s string, open int) int {
	for j := open + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '"':
			return j
		}
	}
	return -1
}

func joinSegments(segs []segment) string {
	var b strings.Builder
	for _, seg := range segs {
		b.WriteString(seg.text)
	}
	return b.String()
}

func mapCode(s string, fn func(string) string) string {
	segs := splitSegments(s)
	for i := range segs {
		if !segs[i].str {
			segs[i].text = fn(segs[i].text)
		}
	}
	return joinSegments(segs)
}

// FixControlChars 는 문자열 안의 원시 제어 문자를 이스케이프하고,
// 문자열 밖의 공백이 아닌 제어 문자는 제거한다.
func FixControlChars(s string) string {
	segs := splitSegments(s)
	for i := range segs {
		if segs[i].str {
			segs[i].text = escapeControl(segs[i].text)
			continue
		}
		segs[i].text = strings.Map(func(r rune) rune {
			if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
				return -1
			}
			if r == 0x7f {
				return -1
			}
			return r
		}, segs[i].text)
	}
	return joinSegments(segs)
}

func escapeControl(lit string) string {
	var b strings.Builder
	b.Grow(len(lit))
	for i := 0; i < len(lit); i++ {
		c := lit[i]
		switch {
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		case c == '\t':
			b.WriteString(`\t`)
		case c < 0x20:
			fmt.Fprintf(&b, `\u%04x`, c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

var bareKeyPattern = regexp.MustCompile(`([{,]\s*)([A-Za-z_$][A-Za-z0-9_$\-]*)(\s*:)`)

// QuoteBareKeys 는 따옴표 없는 객체 키를 감싼다.
func QuoteBareKeys(s string) string {
	return mapCode(s, func(code string) string {
		return bareKeyPattern.ReplaceAllString(code, `$1"$2"$3`)
	})
}

// QuoteBareValues 는 따옴표 없는 스칼라 값을 문자열로 감싼다.
// true/false/null 과 숫자는 건드리지 않는다.
func QuoteBareValues(s string) string {
	return mapCode(s, quoteValuesInCode)
}

func quoteValuesInCode(code string) string {
	var b strings.Builder
	b.Grow(len(code) + 8)
	i := 0
	for i < len(code) {
		c := code[i]
		b.WriteByte(c)
		i++
		if c != ':' {
			continue
		}
		// 콜론 뒤 공백 복사
		for i < len(code) && isSpace(code[i]) {
			b.WriteByte(code[i])
			i++
		}
		if i >= len(code) || !isIdentStart(code[i]) {
			continue
		}
		end := i
		for end < len(code) && !strings.ContainsRune(",}]\n\r", rune(code[end])) {
			end++
		}
		token := strings.TrimRight(code[i:end], " \t")
		trailing := code[i+len(token) : end]
		if isLiteral(token) {
			b.WriteString(code[i:end])
		} else {
			b.WriteString(`"` + token + `"` + trailing)
		}
		i = end
	}
	return b.String()
}

var (
	adjacentContainers = regexp.MustCompile(`([}\]])(\s*)([{\[])`)
	trailingComma      = regexp.MustCompile(`,(\s*[}\]])`)
)

// InsertMissingCommas 는 인접한 객체/배열/문자열 값 사이에 빠진 쉼표를 넣는다.
func InsertMissingCommas(s string) string {
	segs := splitSegments(s)
	for i := range segs {
		if segs[i].str {
			continue
		}
		code := adjacentContainers.ReplaceAllString(segs[i].text, `$1,$2$3`)

		prevValue := i > 0 && segs[i-1].str && segs[i-1].closed
		nextString := i+1 < len(segs) && segs[i+1].str
		trimmed := strings.TrimLeft(code, " \t\r\n")

		// "a" {  또는  "a" "b"
		if prevValue && (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") || (trimmed == "" && nextString)) {
			code = "," + code
		}
		// } "b"
		if nextString && trimmed != "" {
			tail := strings.TrimRight(code, " \t\r\n")
			if strings.HasSuffix(tail, "}") || strings.HasSuffix(tail, "]") {
				code = tail + "," + code[len(tail):]
			}
		}
		segs[i].text = code
	}
	return joinSegments(segs)
}

// RemoveTrailingCommas 는 닫는 괄호 앞의 쉼표를 제거한다.
func RemoveTrailingCommas(s string) string {
	return mapCode(s, func(code string) string {
		return trailingComma.ReplaceAllString(code, `$1`)
	})
}

// BalanceClosers 는 잘린 출력에 빠진 닫는 괄호를 덧붙인다.
// 문자열 안에서 끝났거나 괄호 짝이 맞지 않으면 원문을 그대로 돌려준다.
func BalanceClosers(s string) string {
	var stack []byte
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
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
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 || !matches(stack[len(stack)-1], c) {
				return s
			}
			stack = stack[:len(stack)-1]
		}
	}
	if inString || len(stack) == 0 {
		return s
	}

	out := strings.TrimRight(s, " \t\r\n")
	out = strings.TrimSuffix(out, ",")
	if strings.HasSuffix(out, ":") {
		return s
	}
	var b strings.Builder
	b.WriteString(out)
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// DropIncompleteElement 는 잘린 출력에서 배열의 마지막 원소가 아직 열린 객체나 배열이면
// 그 원소를 앞 쉼표와 함께 잘라낸다. 가장 바깥쪽 배열부터 본다.
// 문자열 안에서 끝났거나 괄호 짝이 맞지 않으면 원문을 그대로 돌려준다.
func DropIncompleteElement(s string) string {
	type frame struct {
		kind byte
		// cut 은 완성된 원소까지만 남길 때의 끝 위치다.
		cut int
	}
	var stack []frame
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
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
		case '{', '[':
			stack = append(stack, frame{kind: c, cut: i + 1})
		case '}', ']':
			if len(stack) == 0 || !matches(stack[len(stack)-1].kind, c) {
				return s
			}
			stack = stack[:len(stack)-1]
		case ',':
			if len(stack) > 0 {
				stack[len(stack)-1].cut = i
			}
		}
	}
	if inString {
		return s
	}
	for depth := 0; depth+1 < len(stack); depth++ {
		if stack[depth].kind == '[' {
			return strings.TrimRight(s[:stack[depth].cut], " \t\r\n")
		}
	}
	return s
}

// StripFences 는 마크다운 코드 펜스를 제거하고 공백을 다듬는다.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// candidateJSON 은 첫 여는 괄호부터 마지막 대응 닫는 괄호까지를 잘라낸다.
// 닫는 괄호가 없으면 끝까지 반환한다.
func candidateJSON(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

func matches(open byte, closeChar byte) bool {
	return (open == '{' && closeChar == '}') || (open == '[' && closeChar == ']')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isLiteral(token string) bool {
	return token == "true" || token == "false" || token == "null"
}
