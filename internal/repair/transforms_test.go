package repair

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestTransforms(t *testing.T) {
	tests := []struct {
		name string
		fn   func(string) string
		in   string
		want string
	}{
		{"quote bare keys", QuoteBareKeys, `{title: "a", slides: []}`, `{"title": "a", "slides": []}`},
		{"keys inside strings untouched", QuoteBareKeys, `{"t": "{a: b}"}`, `{"t": "{a: b}"}`},
		{"quote bare values", QuoteBareValues, `{"layout": two-column, "n": 3, "ok": true}`, `{"layout": "two-column", "n": 3, "ok": true}`},
		{"adjacent objects", InsertMissingCommas, `[{"a":1} {"b":2}]`, `[{"a":1}, {"b":2}]`},
		{"adjacent strings", InsertMissingCommas, `{"a":"x" "b":"y"}`, `{"a":"x", "b":"y"}`},
		{"object then key", InsertMissingCommas, `{"a":{"x":1} "b":2}`, `{"a":{"x":1}, "b":2}`},
		{"trailing commas", RemoveTrailingCommas, `{"a":[1,2,],}`, `{"a":[1,2]}`},
		{"trailing comma in string untouched", RemoveTrailingCommas, `{"a":",]"}`, `{"a":",]"}`},
		{"stray control outside", FixControlChars, "\x00{\"a\":1}", `{"a":1}`},
		{"balance open containers", BalanceClosers, `{"a":[1,2`, `{"a":[1,2]}`},
		{"balance trims dangling comma", BalanceClosers, `{"a":[1,2],`, `{"a":[1,2]}`},
		{"balance leaves open string", BalanceClosers, `{"a":"unterminated`, `{"a":"unterminated`},
		{"balance leaves dangling key", BalanceClosers, `{"a":`, `{"a":`},
		{"balance leaves mismatch", BalanceClosers, `{"a":1]`, `{"a":1]`},
		{"drop open element", DropIncompleteElement, `[{"a":1},{"b":`, `[{"a":1}`},
		{"drop outermost open element", DropIncompleteElement, `{"s":[{"a":[1]},{"b":[{"c":2}`, `{"s":[{"a":[1]}`},
		{"drop keeps scalar tail", DropIncompleteElement, `{"a":[1,2`, `{"a":[1,2`},
		{"drop first open element", DropIncompleteElement, `{"s":[{"a":`, `{"s":[`},
		{"drop leaves open string", DropIncompleteElement, `[{"a":1},{"b":"cut`, `[{"a":1},{"b":"cut`},
		{"strip fences", StripFences, "```json\n{\"a\":1}\n```", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.in); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFixControlCharsEscapesInsideStrings(t *testing.T) {
	fixed := FixControlChars("{\"text\":\"line1\nline2\tend\"}")
	var out map[string]string
	if err := json.Unmarshal([]byte(fixed), &out); err != nil {
		t.Fatalf("expected valid JSON after fix, got %q: %v", fixed, err)
	}
	if out["text"] != "line1\nline2\tend" {
		t.Fatalf("unexpected text: %q", out["text"])
	}
}

func TestCandidateJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`Sure! {"a":1} hope this helps`, `{"a":1}`},
		{`noise [1,2] tail`, `[1,2]`},
		{`{"a":`, `{"a":`},
		{`no json here`, `no json here`},
	}
	for _, tt := range tests {
		if got := candidateJSON(tt.in); got != tt.want {
			t.Errorf("candidateJSON(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestObjectEndAndInsideString(t *testing.T) {
	text := `{"id":"a","blocks":[{"t":"}"}]} {"id":"b"`
	end := objectEnd(text, 0)
	if end != len(`{"id":"a","blocks":[{"t":"}"}]}`)-1 {
		t.Fatalf("unexpected end: %d", end)
	}
	if objectEnd(text, end+2) != -1 {
		t.Fatalf("truncated object must report -1")
	}
	if !insideString(`{"x":"{\"id\":`, 7) {
		t.Fatalf("expected position inside string")
	}
}
