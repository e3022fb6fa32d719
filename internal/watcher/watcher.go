// Package watcher 根据目标生命周期事件决定是否检查目标，并为目标建立或销毁会话。
package watcher

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"cdpcapture/internal/handler"
	"cdpcapture/internal/logger"
	"cdpcapture/internal/pattern"
	"cdpcapture/internal/rules"
	"cdpcapture/internal/session"
	"cdpcapture/pkg/model"
)

// Attacher 传输层的会话绑定能力；返回时会话已就绪
type Attacher interface {
	Attach(ctx context.Context, id model.TargetID, sink session.EventSink) (session.Conn, error)
}

// BindError 目标消失或拒绝绑定
type BindError struct {
	Target model.TargetID
	Err    error
}

func (e *BindError) Error() string { return fmt.Sprintf("bind target %s: %v", e.Target, e.Err) }
func (e *BindError) Unwrap() error { return e.Err }

// Config 配置选项
type Config struct {
	Rules     *rules.Engine
	Predicate TargetPredicate
	Kinds     []model.TargetKind // 为空时接受所有类型
	Attacher  Attacher
	Sessions  *session.Manager
	Handler   *handler.Handler
	Logger    logger.Logger
}

// Watcher 目标观察器
type Watcher struct {
	rules     *rules.Engine
	patterns  *pattern.Cache
	predicate TargetPredicate
	kinds     []model.TargetKind
	attacher  Attacher
	sessions  *session.Manager
	handler   *handler.Handler
	log       logger.Logger

	mu     sync.Mutex
	closed bool
}

// New 创建目标观察器
func New(cfg Config) *Watcher {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	sessions := cfg.Sessions
	if sessions == nil {
		sessions = session.NewManager(l)
	}
	patterns := pattern.NewCache(pattern.Wildcard)
	if cfg.Rules != nil {
		patterns = cfg.Rules.Patterns()
	}
	return &Watcher{
		rules:     cfg.Rules,
		patterns:  patterns,
		predicate: cfg.Predicate,
		kinds:     slices.Clone(cfg.Kinds),
		attacher:  cfg.Attacher,
		sessions:  sessions,
		handler:   cfg.Handler,
		log:       l,
	}
}

// Sessions 返回会话表
func (w *Watcher) Sessions() *session.Manager { return w.sessions }

// Handle 处理一次目标生命周期事件；ctx 同时作为该目标会话事件处理的父上下文
func (w *Watcher) Handle(ctx context.Context, ev model.TargetEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	switch e := ev.(type) {
	case model.TargetCreated:
		w.evaluate(ctx, e.Target)
	case model.TargetChanged:
		w.evaluate(ctx, e.Target)
	case model.TargetDestroyed:
		if s, ok := w.sessions.Remove(e.ID, nil); ok {
			w.closeSession(s, "目标已销毁")
		}
	default:
		w.log.Warn("未知的目标事件", "type", fmt.Sprintf("%T", ev))
	}
}

// plan 单个目标重新计算出的兴趣
type plan struct {
	interest   session.Interest
	patterns   []string
	rawCapture bool
	regs       []*Registration
}

// evaluate 从零重新计算目标的兴趣并调整会话
func (w *Watcher) evaluate(ctx context.Context, t model.Target) {
	s, inspected := w.sessions.Get(t.ID)
	l := w.log.With("target", string(t.ID), "kind", string(t.Kind))

	if !w.accepts(t.Kind) {
		if inspected {
			w.detach(t.ID, s, "目标类型不再被接受")
		}
		return
	}

	p := w.plan(t)

	switch {
	case !p.interest.Empty() && !inspected:
		w.bind(ctx, t, p)
	case p.interest.Empty() && inspected:
		w.detach(t.ID, s, "目标不再需要拦截")
	case inspected:
		if s.Configure(t, p.interest, p.patterns, p.rawCapture) {
			l.Info("目标模式集合已变化，刷新拦截", "url", t.URL, "patterns", p.patterns)
		}
		if err := s.Apply(ctx); err != nil {
			l.Err(err, "刷新会话通道失败")
		}
		resolveAll(p.regs, s, nil)
	default:
		l.Debug("目标无需拦截", "url", t.URL)
	}
}

func (w *Watcher) plan(t model.Target) plan {
	var p plan
	if w.rules != nil {
		res := w.rules.Eval(t)
		if res.Matched {
			p.interest = p.interest.With(session.ReasonResponseCapture)
			p.patterns = append(p.patterns, res.Patterns...)
			p.rawCapture = res.RawCapture
		}
	}

	if w.predicate == nil {
		return p
	}
	sealed := false
	register := func(patterns ...string) *Registration {
		r := newRegistration(t.ID, patterns)
		if sealed {
			r.resolve(nil, ErrLateRegistration)
			return r
		}
		p.regs = append(p.regs, r)
		return r
	}
	w.callPredicate(t, register)
	sealed = true

	for _, r := range p.regs {
		p.interest = p.interest.With(session.ReasonInterception)
		for _, pat := range r.patterns {
			if !slices.Contains(p.patterns, pat) {
				p.patterns = append(p.patterns, pat)
			}
		}
	}
	return p
}

func (w *Watcher) callPredicate(t model.Target, register RegisterFunc) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("目标判定函数 panic", "target", string(t.ID), "panic", fmt.Sprint(r))
		}
	}()
	w.predicate(t, register)
}

// bind 附加到目标、等待就绪、通知注册方，然后启用通道
func (w *Watcher) bind(ctx context.Context, t model.Target, p plan) {
	l := w.log.With("target", string(t.ID), "url", t.URL, "interest", p.interest.String())

	s := session.New(t, w.patterns)
	s.Configure(t, p.interest, p.patterns, p.rawCapture)

	conn, err := w.attacher.Attach(ctx, t.ID, &sink{ctx: ctx, w: w, s: s})
	if err != nil {
		be := &BindError{Target: t.ID, Err: err}
		l.Warn("绑定目标失败，放弃该目标", "error", be)
		resolveAll(p.regs, nil, be)
		return
	}
	s.Bind(conn)
	w.sessions.Add(t.ID, s)
	l.Info("已建立会话", "session", string(conn.ID()), "patterns", p.patterns, "rawCapture", p.rawCapture)
	resolveAll(p.regs, s, nil)

	if err := s.Apply(ctx); err != nil {
		l.Err(err, "启用拦截通道失败，分离会话")
		if cur, ok := w.sessions.Remove(t.ID, s); ok {
			w.closeSession(cur, "启用通道失败")
		}
	}
}

func (w *Watcher) detach(id model.TargetID, s *session.Session, reason string) {
	if cur, ok := w.sessions.Remove(id, s); ok {
		w.closeSession(cur, reason)
	}
}

func (w *Watcher) closeSession(s *session.Session, reason string) {
	t := s.Target()
	dropped, err := s.Close()
	if err != nil {
		w.log.Err(err, "分离会话失败", "target", string(t.ID), "reason", reason)
		return
	}
	w.log.Info("已分离会话", "target", string(t.ID), "reason", reason, "droppedObservations", dropped)
}

// streamClosed 会话事件流意外终止时移除会话；不持有 w.mu，Detach 可能同步回调到这里
func (w *Watcher) streamClosed(s *session.Session, err error) {
	id := s.Target().ID
	if cur, ok := w.sessions.Remove(id, s); ok {
		w.log.Warn("会话事件流中断，自动移除目标", "target", string(id), "error", err)
		w.closeSession(cur, "事件流中断")
	}
}

func (w *Watcher) accepts(k model.TargetKind) bool {
	return len(w.kinds) == 0 || slices.Contains(w.kinds, k)
}

// Close 分离所有会话，之后的事件被忽略
func (w *Watcher) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	for _, s := range w.sessions.List() {
		if cur, ok := w.sessions.Remove(s.Target().ID, s); ok {
			w.closeSession(cur, "拦截已关闭")
		}
	}
}

// sink 将单个会话的协议事件转发给事件处理器
type sink struct {
	ctx context.Context
	w   *Watcher
	s   *session.Session
}

func (k *sink) Paused(p model.PausedRequest) {
	if k.w.handler != nil {
		k.w.handler.HandlePaused(k.ctx, k.s, p)
	}
}

func (k *sink) Network(e model.NetworkEvent) {
	if k.w.handler != nil {
		k.w.handler.HandleNetwork(k.ctx, k.s, e)
	}
}

func (k *sink) Closed(err error) { k.w.streamClosed(k.s, err) }
