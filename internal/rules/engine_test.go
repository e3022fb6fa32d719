package rules

import (
	"reflect"
	"testing"

	"cdpcapture/internal/pattern"
	"cdpcapture/pkg/model"
)

func testRules() []model.CaptureRule {
	return []model.CaptureRule{
		{From: []string{"https://app.example.com/*"}, Intercept: []string{"*/images/*", "*.png"}},
		{From: []string{"https://app.example.com/create*"}, Intercept: []string{"*.png", "*/api/gen*"}, RawCapture: true},
		{From: []string{"https://app.example.com/*"}, Intercept: []string{"*/sw/*"}, ServiceWorkerOnly: true},
	}
}

func TestEval(t *testing.T) {
	e := New(testRules(), pattern.NewCache(pattern.Wildcard))

	tests := []struct {
		name   string
		target model.Target
		want   Result
	}{
		{
			name:   "no match",
			target: model.Target{ID: "1", URL: "https://other.com/", Kind: model.KindPage},
			want:   Result{},
		},
		{
			name:   "first rule",
			target: model.Target{ID: "1", URL: "https://app.example.com/home", Kind: model.KindPage},
			want:   Result{Matched: true, Patterns: []string{"*/images/*", "*.png"}, RuleIndex: []int{0}},
		},
		{
			name:   "merged patterns deduplicated",
			target: model.Target{ID: "1", URL: "https://app.example.com/create?x", Kind: model.KindPage},
			want:   Result{Matched: true, Patterns: []string{"*/images/*", "*.png", "*/api/gen*"}, RawCapture: true, RuleIndex: []int{0, 1}},
		},
		{
			name:   "service worker only rule",
			target: model.Target{ID: "2", URL: "https://app.example.com/sw.js", Kind: model.KindServiceWorker},
			want:   Result{Matched: true, Patterns: []string{"*/images/*", "*.png", "*/sw/*"}, RuleIndex: []int{0, 2}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Eval(tt.target)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Eval() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestUpdateReplacesRules(t *testing.T) {
	e := New(testRules(), pattern.NewCache(pattern.Wildcard))
	e.Update(nil)
	if e.Len() != 0 {
		t.Fatalf("Len = %d", e.Len())
	}
	if got := e.Eval(model.Target{URL: "https://app.example.com/home"}); got.Matched {
		t.Errorf("expected no match after update, got %+v", got)
	}
}
