package session

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"cdpcapture/internal/pattern"
	"cdpcapture/pkg/model"
	"cdpcapture/pkg/traffic"
)

type stubConn struct {
	id          model.SessionID
	intercepts  [][]string
	disabled    int
	observed    int
	unobserved  int
	detached    int
	interceptEr error
}

func (c *stubConn) ID() model.SessionID { return c.id }
func (c *stubConn) EnableInterception(_ context.Context, p []string) error {
	if c.interceptEr != nil {
		return c.interceptEr
	}
	c.intercepts = append(c.intercepts, p)
	return nil
}
func (c *stubConn) DisableInterception(context.Context) error         { c.disabled++; return nil }
func (c *stubConn) EnableObservation(context.Context) error           { c.observed++; return nil }
func (c *stubConn) DisableObservation(context.Context) error          { c.unobserved++; return nil }
func (c *stubConn) ContinueRequest(context.Context, string) error     { return nil }
func (c *stubConn) FailRequest(context.Context, string) error         { return nil }
func (c *stubConn) ResponseBody(context.Context, bool, string) ([]byte, error) {
	return []byte("body"), nil
}
func (c *stubConn) Detach() error { c.detached++; return nil }

func TestInterestSet(t *testing.T) {
	var none Interest
	if !none.Empty() || none.String() != "none" {
		t.Errorf("zero value should be empty, got %s", none)
	}
	a := InterestOf(ReasonInterception)
	b := InterestOf(ReasonResponseCapture)
	u := a.Union(b)
	if !u.Has(ReasonInterception) || !u.Has(ReasonResponseCapture) {
		t.Errorf("union missing reasons: %s", u)
	}
	if a.Has(ReasonResponseCapture) {
		t.Error("union must not mutate operands")
	}
	if got := u.String(); got != "interception+response_capture" {
		t.Errorf("String = %q", got)
	}
	if !reflect.DeepEqual(u.Reasons(), []Reason{ReasonInterception, ReasonResponseCapture}) {
		t.Errorf("Reasons = %v", u.Reasons())
	}
}

func TestApplyEnablesChannelsOnce(t *testing.T) {
	conn := &stubConn{id: "S1"}
	s := New(model.Target{ID: "T1", URL: "https://app/"}, pattern.NewCache(pattern.Wildcard))
	s.Bind(conn)
	s.Configure(s.Target(), InterestOf(ReasonResponseCapture), []string{"*.png"}, true)

	ctx := context.Background()
	if err := s.Apply(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Apply(ctx); err != nil {
		t.Fatal(err)
	}
	if len(conn.intercepts) != 1 || conn.observed != 1 {
		t.Fatalf("intercepts=%v observed=%d", conn.intercepts, conn.observed)
	}

	if !s.Configure(s.Target(), InterestOf(ReasonResponseCapture), []string{"*.jpg"}, true) {
		t.Error("expected pattern change to be reported")
	}
	if err := s.Apply(ctx); err != nil {
		t.Fatal(err)
	}
	if len(conn.intercepts) != 2 || conn.intercepts[1][0] != "*.jpg" {
		t.Errorf("expected refreshed patterns, got %v", conn.intercepts)
	}
}

func TestApplyDisablesStaleChannels(t *testing.T) {
	conn := &stubConn{id: "S1"}
	s := New(model.Target{ID: "T1", URL: "https://app/create"}, pattern.NewCache(pattern.Wildcard))
	s.Bind(conn)
	s.Configure(s.Target(), InterestOf(ReasonResponseCapture, ReasonInterception), []string{"*.png"}, true)
	ctx := context.Background()
	if err := s.Apply(ctx); err != nil {
		t.Fatal(err)
	}
	s.Track("R1", traffic.Request{URL: "https://cdn/a.png"})

	s.Configure(model.Target{ID: "T1", URL: "https://app/home"}, InterestOf(ReasonInterception), nil, false)
	if err := s.Apply(ctx); err != nil {
		t.Fatal(err)
	}
	if conn.disabled != 1 || conn.unobserved != 1 {
		t.Errorf("disabled=%d unobserved=%d", conn.disabled, conn.unobserved)
	}
	if s.Observing() || s.PendingCount() != 0 {
		t.Errorf("observing=%v pending=%d", s.Observing(), s.PendingCount())
	}
	if err := s.Apply(ctx); err != nil {
		t.Fatal(err)
	}
	if conn.disabled != 1 || conn.unobserved != 1 {
		t.Error("disable must not repeat")
	}

	s.Configure(s.Target(), InterestOf(ReasonInterception), []string{"*.jpg"}, false)
	if err := s.Apply(ctx); err != nil {
		t.Fatal(err)
	}
	if len(conn.intercepts) != 2 || conn.intercepts[1][0] != "*.jpg" {
		t.Errorf("intercepts = %v", conn.intercepts)
	}
}

func TestRegexpDialectPausesEverything(t *testing.T) {
	conn := &stubConn{id: "S1"}
	s := New(model.Target{ID: "T1"}, pattern.NewCache(pattern.Regexp))
	s.Bind(conn)
	s.Configure(s.Target(), InterestOf(ReasonResponseCapture), []string{`^https://cdn\.x/.*\.png$`}, false)
	if err := s.Apply(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(conn.intercepts) != 1 || len(conn.intercepts[0]) != 1 || conn.intercepts[0][0] != "*" {
		t.Fatalf("intercepts = %v", conn.intercepts)
	}
	if !s.PauseMatches("https://cdn.x/a.png") || s.PauseMatches("https://cdn.x/a.css") {
		t.Error("regexp patterns must filter paused requests")
	}

	w := New(model.Target{ID: "T2"}, pattern.NewCache(pattern.Wildcard))
	w.Configure(w.Target(), InterestOf(ReasonResponseCapture), []string{"*.png"}, false)
	if !w.PauseMatches("https://cdn.x/a.css") {
		t.Error("wildcard pauses are already filtered by the browser")
	}
}

func TestApplyPropagatesError(t *testing.T) {
	boom := errors.New("refused")
	s := New(model.Target{ID: "T1"}, pattern.NewCache(pattern.Wildcard))
	s.Bind(&stubConn{id: "S1", interceptEr: boom})
	s.Configure(s.Target(), InterestOf(ReasonResponseCapture), []string{"*"}, false)
	if err := s.Apply(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Apply err = %v", err)
	}
}

func TestObservationTrackingAndClose(t *testing.T) {
	conn := &stubConn{id: "S1"}
	s := New(model.Target{ID: "T1", URL: "https://app/"}, pattern.NewCache(pattern.Wildcard))
	s.Bind(conn)
	s.Configure(s.Target(), InterestOf(ReasonResponseCapture), []string{"*.png"}, true)

	if s.Track("R0", traffic.Request{URL: "https://cdn/a.css"}) {
		t.Error("non-matching request must not be tracked")
	}
	if !s.Track("R1", traffic.Request{URL: "https://cdn/a.png"}) {
		t.Fatal("matching request should be tracked")
	}
	s.Track("R2", traffic.Request{URL: "https://cdn/b.png"})
	s.Correlate("R1", traffic.Response{StatusCode: 200})
	p, ok := s.Finish("R1")
	if !ok || p.InitiatorURL != "https://app/" || p.Response == nil {
		t.Fatalf("Finish = %+v %v", p, ok)
	}

	dropped, err := s.Close()
	if err != nil || dropped != 1 {
		t.Errorf("Close = %d %v", dropped, err)
	}
	if conn.detached != 1 {
		t.Errorf("detached = %d", conn.detached)
	}
	if s.Track("R3", traffic.Request{URL: "https://cdn/c.png"}) {
		t.Error("closed session must not track")
	}
	if _, err := s.ResponseBody(context.Background(), false, "R2"); !errors.Is(err, ErrClosed) {
		t.Errorf("ResponseBody after close err = %v", err)
	}
	if _, err := s.Close(); err != nil || conn.detached != 1 {
		t.Error("second Close must be a no-op")
	}
	if err := s.Apply(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Apply after close err = %v", err)
	}
}

func TestManager(t *testing.T) {
	m := NewManager(nil)
	s1 := New(model.Target{ID: "T1"}, pattern.NewCache(pattern.Wildcard))
	s1.Bind(&stubConn{id: "S1"})
	m.Add("T1", s1)

	if got, ok := m.Get("T1"); !ok || got != s1 {
		t.Fatal("Get by target failed")
	}
	if got, ok := m.BySessionID("S1"); !ok || got != s1 {
		t.Fatal("Get by session failed")
	}

	other := New(model.Target{ID: "T1"}, pattern.NewCache(pattern.Wildcard))
	if _, ok := m.Remove("T1", other); ok {
		t.Error("Remove with stale session must not remove")
	}
	if _, ok := m.Remove("T1", nil); !ok {
		t.Error("Remove failed")
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d", m.Len())
	}
	if _, ok := m.BySessionID("S1"); ok {
		t.Error("session index not cleaned")
	}
}
