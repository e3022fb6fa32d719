package session

import (
	"context"
	"errors"
	"slices"
	"sync"

	"cdpcapture/internal/correlator"
	"cdpcapture/internal/pattern"
	"cdpcapture/pkg/model"
	"cdpcapture/pkg/traffic"
)

// ErrClosed 会话已分离
var ErrClosed = errors.New("session closed")

// Conn 传输层提供的单目标协议会话
type Conn interface {
	ID() model.SessionID
	// EnableInterception 在响应阶段按模式启用暂停通道；重复调用替换模式
	EnableInterception(ctx context.Context, patterns []string) error
	// DisableInterception 关闭暂停通道
	DisableInterception(ctx context.Context) error
	// EnableObservation 启用不暂停的观察通道
	EnableObservation(ctx context.Context) error
	DisableObservation(ctx context.Context) error
	ContinueRequest(ctx context.Context, requestID string) error
	FailRequest(ctx context.Context, requestID string) error
	// ResponseBody 获取并解码响应体；每个请求只能调用一次
	ResponseBody(ctx context.Context, viaPausingChannel bool, requestID string) ([]byte, error)
	Detach() error
}

// EventSink 接收单个会话的协议事件；同一通道内按到达顺序投递
type EventSink interface {
	Paused(p model.PausedRequest)
	Network(e model.NetworkEvent)
	// Closed 在事件流意外终止时调用
	Closed(err error)
}

// Session 绑定到单个目标的检查会话，独占观察队列与通道订阅
type Session struct {
	patterns *pattern.Cache

	mu          sync.Mutex
	conn        Conn
	target      model.Target
	interest    Interest
	active      []string
	rawCapture  bool
	intercepted []string // 暂停通道当前生效的模式
	observing   bool
	closed      bool
	queue       *correlator.Queue
}

// New 创建未绑定连接的会话
func New(t model.Target, patterns *pattern.Cache) *Session {
	return &Session{target: t, patterns: patterns, queue: correlator.New()}
}

// Bind 关联传输连接
func (s *Session) Bind(c Conn) {
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()
}

// ID 返回会话ID，未绑定时为空
func (s *Session) ID() model.SessionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.ID()
}

// Target 返回会话当前对应的目标信息
func (s *Session) Target() model.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Interest 返回当前兴趣集合
func (s *Session) Interest() Interest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interest
}

// Patterns 返回当前生效的模式集合副本
func (s *Session) Patterns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.active)
}

// RawCapture 是否要求启用观察通道
func (s *Session) RawCapture() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rawCapture
}

// Configure 以重新计算的结果覆盖会话状态，返回模式集合是否变化
func (s *Session) Configure(t model.Target, interest Interest, patterns []string, rawCapture bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := !slices.Equal(s.active, patterns)
	s.target = t
	s.interest = interest
	s.active = slices.Clone(patterns)
	s.rawCapture = rawCapture
	return changed
}

// Apply 按当前状态启用、刷新或关闭通道；不再需要的通道立即关闭，旧模式不会残留
func (s *Session) Apply(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	conn := s.conn
	want := slices.Clone(s.active)
	intercept := !s.interest.Empty() && len(want) > 0
	observe := s.interest.Has(ReasonResponseCapture) && s.rawCapture
	needIntercept := intercept && !slices.Equal(s.intercepted, want)
	stopIntercept := !intercept && len(s.intercepted) > 0
	needObserve := observe && !s.observing
	stopObserve := !observe && s.observing
	s.mu.Unlock()

	switch {
	case needIntercept:
		if err := conn.EnableInterception(ctx, s.protocolPatterns(want)); err != nil {
			return err
		}
		s.mu.Lock()
		s.intercepted = want
		s.mu.Unlock()
	case stopIntercept:
		if err := conn.DisableInterception(ctx); err != nil {
			return err
		}
		s.mu.Lock()
		s.intercepted = nil
		s.mu.Unlock()
	}

	switch {
	case needObserve:
		if err := conn.EnableObservation(ctx); err != nil {
			return err
		}
		s.mu.Lock()
		s.observing = true
		s.mu.Unlock()
	case stopObserve:
		if err := conn.DisableObservation(ctx); err != nil {
			return err
		}
		s.mu.Lock()
		s.observing = false
		s.queue.Drop()
		s.mu.Unlock()
	}
	return nil
}

// protocolPatterns 协议只识别通配符；正则语法时暂停全部请求，由 PauseMatches 过滤
func (s *Session) protocolPatterns(want []string) []string {
	if s.patterns.Dialect() == pattern.Regexp {
		return []string{"*"}
	}
	return want
}

// PauseMatches 判断暂停的请求是否属于当前模式；通配符语法已由协议过滤
func (s *Session) PauseMatches(url string) bool {
	if s.patterns.Dialect() != pattern.Regexp {
		return true
	}
	return s.MatchesActive(url)
}

// Observing 观察通道是否已启用
func (s *Session) Observing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observing
}

// MatchesActive 判断 url 是否命中当前生效模式
func (s *Session) MatchesActive(url string) bool {
	return s.patterns.MatchesAny(url, s.Patterns())
}

// Track 观察通道：请求发出且命中模式时登记
func (s *Session) Track(requestID string, req traffic.Request) bool {
	if !s.MatchesActive(req.URL) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.queue.RequestSent(requestID, s.target.URL, req)
	return true
}

// Correlate 观察通道：补充响应快照
func (s *Session) Correlate(requestID string, resp traffic.Response) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.queue.ResponseReceived(requestID, resp)
}

// Finish 观察通道：取出已完成的条目
func (s *Session) Finish(requestID string) (correlator.Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return correlator.Pending{}, false
	}
	return s.queue.LoadingFinished(requestID)
}

// Evict 暂停通道接管同一请求时丢弃观察条目
func (s *Session) Evict(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Evict(requestID)
}

// PendingCount 返回进行中的观察条目数
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Closed 会话是否已分离
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close 分离会话：标记关闭、清空观察队列并断开连接，返回丢弃的条目数
func (s *Session) Close() (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, nil
	}
	s.closed = true
	dropped := s.queue.Drop()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return dropped, nil
	}
	return dropped, conn.Detach()
}

// ContinueRequest 放行暂停的请求
func (s *Session) ContinueRequest(ctx context.Context, requestID string) error {
	conn, err := s.live()
	if err != nil {
		return err
	}
	return conn.ContinueRequest(ctx, requestID)
}

// FailRequest 以失败结束暂停的请求
func (s *Session) FailRequest(ctx context.Context, requestID string) error {
	conn, err := s.live()
	if err != nil {
		return err
	}
	return conn.FailRequest(ctx, requestID)
}

// ResponseBody 按需获取响应体
func (s *Session) ResponseBody(ctx context.Context, viaPausingChannel bool, requestID string) ([]byte, error) {
	conn, err := s.live()
	if err != nil {
		return nil, err
	}
	return conn.ResponseBody(ctx, viaPausingChannel, requestID)
}

func (s *Session) live() (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.conn == nil {
		return nil, ErrClosed
	}
	return s.conn, nil
}
