// Package pattern 将 URL 模式编译为匹配器并按模式字符串缓存。
package pattern

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Dialect 模式语法
type Dialect int

const (
	// Wildcard `*` 匹配任意长度字符，`?` 匹配单个字符，整串锚定
	Wildcard Dialect = iota
	// Regexp 原始正则表达式语法
	Regexp
)

// ParseDialect 解析配置中的语法名称
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "", "wildcard", "glob":
		return Wildcard, nil
	case "regexp", "regex":
		return Regexp, nil
	default:
		return Wildcard, fmt.Errorf("unknown pattern dialect %q", s)
	}
}

func (d Dialect) String() string {
	if d == Regexp {
		return "regexp"
	}
	return "wildcard"
}

// Matcher 编译后的单个模式
type Matcher interface {
	Match(s string) bool
	Pattern() string
}

type regexpMatcher struct {
	pattern string
	re      *regexp.Regexp
}

func (m *regexpMatcher) Match(s string) bool { return m.re.MatchString(s) }
func (m *regexpMatcher) Pattern() string     { return m.pattern }

// Cache 单一语法的匹配器缓存，同一实例内不混用语法
type Cache struct {
	dialect Dialect

	mu       sync.RWMutex
	matchers map[string]Matcher
	compiled int
}

// NewCache 创建指定语法的缓存
func NewCache(d Dialect) *Cache {
	return &Cache{dialect: d, matchers: make(map[string]Matcher)}
}

// Dialect 返回缓存使用的语法
func (c *Cache) Dialect() Dialect { return c.dialect }

// Compile 编译模式；相同模式字符串返回已缓存的匹配器
func (c *Cache) Compile(pattern string) (Matcher, error) {
	c.mu.RLock()
	m, ok := c.matchers[pattern]
	c.mu.RUnlock()
	if ok {
		return m, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.matchers[pattern]; ok {
		return m, nil
	}
	expr := pattern
	if c.dialect == Wildcard {
		expr = WildcardToRegexp(pattern)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	m = &regexpMatcher{pattern: pattern, re: re}
	c.matchers[pattern] = m
	c.compiled++
	return m, nil
}

// MatchesAny 判断 url 是否匹配任一模式，命中即返回；无法编译的模式视为不匹配
func (c *Cache) MatchesAny(url string, patterns []string) bool {
	for _, p := range patterns {
		m, err := c.Compile(p)
		if err != nil {
			continue
		}
		if m.Match(url) {
			return true
		}
	}
	return false
}

// Compiled 返回实际编译次数
func (c *Cache) Compiled() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.compiled
}

// WildcardToRegexp 将通配符模式转换为整串锚定的正则表达式，字面部分先转义
func WildcardToRegexp(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern) + 8)
	b.WriteString("^")
	start := 0
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '*', '?':
			b.WriteString(regexp.QuoteMeta(pattern[start:i]))
			if pattern[i] == '*' {
				b.WriteString("(?s:.*)")
			} else {
				b.WriteString("(?s:.)")
			}
			start = i + 1
		}
	}
	b.WriteString(regexp.QuoteMeta(pattern[start:]))
	b.WriteString("$")
	return b.String()
}
