package rules

import (
	"sync"

	"cdpcapture/internal/pattern"
	"cdpcapture/pkg/model"
)

// Engine 按目标评估捕获规则
type Engine struct {
	mu       sync.RWMutex
	rules    []model.CaptureRule
	patterns *pattern.Cache
}

// Result 单个目标的评估结果
type Result struct {
	Matched    bool     // 至少一条规则命中
	Patterns   []string // 命中规则的拦截模式（去重，保持顺序）
	RawCapture bool     // 命中规则中有要求启用观察通道的
	RuleIndex  []int    // 命中规则的下标
}

// New 创建规则引擎
func New(rs []model.CaptureRule, patterns *pattern.Cache) *Engine {
	e := &Engine{patterns: patterns}
	e.Update(rs)
	return e
}

// Update 替换规则集合
func (e *Engine) Update(rs []model.CaptureRule) {
	cp := make([]model.CaptureRule, len(rs))
	copy(cp, rs)
	e.mu.Lock()
	e.rules = cp
	e.mu.Unlock()
}

// Len 返回规则数量
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Eval 根据目标当前 URL 与类型从零计算结果
func (e *Engine) Eval(t model.Target) Result {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var res Result
	seen := make(map[string]struct{})
	for i := range e.rules {
		r := &e.rules[i]
		if r.ServiceWorkerOnly && t.Kind != model.KindServiceWorker {
			continue
		}
		if !e.patterns.MatchesAny(t.URL, r.From) {
			continue
		}
		res.Matched = true
		res.RuleIndex = append(res.RuleIndex, i)
		if r.RawCapture {
			res.RawCapture = true
		}
		for _, p := range r.Intercept {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			res.Patterns = append(res.Patterns, p)
		}
	}
	return res
}

// Patterns 返回引擎使用的模式缓存
func (e *Engine) Patterns() *pattern.Cache { return e.patterns }
