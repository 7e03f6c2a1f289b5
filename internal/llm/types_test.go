package llm

import "testing"

func TestRequestKindAndAction(t *testing.T) {
	req := Request{}
	if req.Kind() != KindNew || req.ActionName() != DefaultAction {
		t.Fatalf("unexpected defaults: kind=%s action=%s", req.Kind(), req.ActionName())
	}
	if req.HasExistingDocument() {
		t.Fatalf("expected no existing document")
	}

	req = Request{Modify: true}
	if req.Kind() != KindModify || req.ActionName() != "modify-deck" {
		t.Fatalf("unexpected modify kind/action: %s %s", req.Kind(), req.ActionName())
	}

	req = Request{ExistingDocument: `{"title":"x"}`, Action: " translate-deck "}
	if !req.HasExistingDocument() {
		t.Fatalf("expected existing document")
	}
	if req.ActionName() != "translate-deck" {
		t.Fatalf("unexpected action: %q", req.ActionName())
	}
}

func TestLastUserText(t *testing.T) {
	req := Request{Messages: []Message{
		{Role: "user", Content: "first"},
		{Role: "user", Content: "second"},
		{Role: "assistant", Content: "reply"},
	}}
	if got := req.LastUserText(); got != "second" {
		t.Fatalf("unexpected last user text: %q", got)
	}

	req.Prompt = "explicit"
	if got := req.LastUserText(); got != "explicit" {
		t.Fatalf("expected prompt to win, got %q", got)
	}
}

func TestUsageRatios(t *testing.T) {
	u := Usage{InputTokens: 200, OutputTokens: 50, CacheReadTokens: 50}
	if u.TotalTokens() != 250 {
		t.Fatalf("unexpected total: %d", u.TotalTokens())
	}
	if u.CacheHitRatio() != 0.25 {
		t.Fatalf("unexpected ratio: %v", u.CacheHitRatio())
	}
	if (Usage{}).CacheHitRatio() != 0 {
		t.Fatalf("expected zero ratio for empty usage")
	}
}
