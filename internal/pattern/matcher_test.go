package pattern

import "testing"

func TestWildcardPrefix(t *testing.T) {
	c := NewCache(Wildcard)
	m, err := c.Compile("https://example.com/img*")
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"https://example.com/img", "https://example.com/img/1.png", "https://example.com/imgX?y=1"} {
		if !m.Match(s) {
			t.Errorf("expected %q to match", s)
		}
	}
	for _, s := range []string{"http://example.com/img", "xhttps://example.com/img", "https://example.com/im"} {
		if m.Match(s) {
			t.Errorf("expected %q not to match", s)
		}
	}
}

func TestWildcardQuestionMark(t *testing.T) {
	c := NewCache(Wildcard)
	m, err := c.Compile("a?c")
	if err != nil {
		t.Fatal(err)
	}
	if !m.Match("abc") {
		t.Error("a?c should match abc")
	}
	if m.Match("ac") || m.Match("abbc") {
		t.Error("a?c should match exactly one character")
	}
}

func TestWildcardEscapesMetacharacters(t *testing.T) {
	c := NewCache(Wildcard)
	m, err := c.Compile("https://x.com/a+b(1).png?v=*")
	if err != nil {
		t.Fatal(err)
	}
	if !m.Match("https://x.com/a+b(1).png?v=7") {
		t.Error("literal metacharacters should match themselves")
	}
	if m.Match("https://xXcom/a+b(1).png?v=7") {
		t.Error("dot must not act as a regexp wildcard")
	}
	if m.Match("https://x.com/aab(1).png?v=7") {
		t.Error("plus must not act as a regexp quantifier")
	}
}

func TestRegexpDialect(t *testing.T) {
	c := NewCache(Regexp)
	if !c.MatchesAny("https://cdn.example.com/1.jpg", []string{`\.png$`, `\.jpe?g$`}) {
		t.Error("expected regexp match")
	}
	if c.MatchesAny("https://cdn.example.com/1.gif", []string{`\.png$`}) {
		t.Error("unexpected match")
	}
	if _, err := c.Compile("("); err == nil {
		t.Error("expected compile error for invalid regexp")
	}
	if c.MatchesAny("(", []string{"("}) {
		t.Error("invalid pattern must not match")
	}
}

func TestCompileIsCached(t *testing.T) {
	c := NewCache(Wildcard)
	a, _ := c.Compile("*.png")
	b, _ := c.Compile("*.png")
	if a != b {
		t.Error("expected same matcher instance")
	}
	if got := c.Compiled(); got != 1 {
		t.Errorf("compiled = %d, want 1", got)
	}
	if !c.MatchesAny("x.jpg", []string{"*.png", "*.jpg", "*.png"}) {
		t.Fatal("expected x.jpg to match")
	}
	if got := c.Compiled(); got != 2 {
		t.Errorf("compiled = %d, want 2", got)
	}
}

func TestMatchesAnyShortCircuits(t *testing.T) {
	c := NewCache(Wildcard)
	if !c.MatchesAny("abc", []string{"a*", "never-compiled-*"}) {
		t.Fatal("expected match")
	}
	if got := c.Compiled(); got != 1 {
		t.Errorf("compiled = %d, want 1 (second pattern should not be compiled)", got)
	}
}

func TestParseDialect(t *testing.T) {
	if d, err := ParseDialect("regexp"); err != nil || d != Regexp {
		t.Errorf("regexp: %v %v", d, err)
	}
	if d, err := ParseDialect(""); err != nil || d != Wildcard {
		t.Errorf("default: %v %v", d, err)
	}
	if _, err := ParseDialect("lua"); err == nil {
		t.Error("expected error")
	}
}
