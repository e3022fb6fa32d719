// Package engine 是拦截引擎的组装入口：连接浏览器、驱动目标发现，并把事件路由到调用方的处理函数。
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cdpcapture/internal/cdp"
	"cdpcapture/internal/handler"
	"cdpcapture/internal/logger"
	"cdpcapture/internal/pattern"
	"cdpcapture/internal/rules"
	"cdpcapture/internal/session"
	"cdpcapture/internal/watcher"
	"cdpcapture/pkg/model"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrNotStarted     = errors.New("engine not started")
	ErrAlreadyStarted = errors.New("engine already started")
)

// ConfigError 启动前即可发现的配置错误
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config %s: %s", e.Field, e.Reason) }

// ConnectionError 浏览器端点不可达或连接中断
type ConnectionError struct {
	Endpoint string
	Hint     string
	Err      error
}

func (e *ConnectionError) Error() string {
	msg := fmt.Sprintf("connection to %s: %v", e.Endpoint, e.Err)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *ConnectionError) Unwrap() error { return e.Err }

const connectHint = "is the browser running with --remote-debugging-port?"

// Transport 浏览器传输层
type Transport interface {
	watcher.Attacher
	// Discover 阻塞并按到达顺序回调目标事件，直到 ctx 结束或连接断开
	Discover(ctx context.Context, fn func(model.TargetEvent)) error
	CreateTarget(ctx context.Context, url string) (model.TargetID, error)
	Close() error
}

// Dialer 建立传输层连接
type Dialer func(ctx context.Context, endpoint string, l logger.Logger) (Transport, error)

// DialCDP 基于 CDP 的默认 Dialer
func DialCDP(ctx context.Context, endpoint string, l logger.Logger) (Transport, error) {
	m, err := cdp.Connect(ctx, endpoint, l)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// DefaultKinds 默认参与检查的目标类型
var DefaultKinds = []model.TargetKind{model.KindPage, model.KindServiceWorker}

// Options 引擎配置
type Options struct {
	DevToolsURL     string
	InitialURL      string
	CaptureRules    []model.CaptureRule
	OnResponse      handler.ResponseHandler // 与 CaptureRules 必须同时提供或同时省略
	TargetPredicate watcher.TargetPredicate
	OnRawPause      handler.RawPauseHandler
	DiscoverKinds   []model.TargetKind // 为空时使用 DefaultKinds
	Dialect         pattern.Dialect
	ProcessTimeout  time.Duration
	Dial            Dialer // 为空时使用 DialCDP
	Logger          logger.Logger
}

// Engine 拦截引擎
type Engine struct {
	opts     Options
	rules    *rules.Engine
	sessions *session.Manager
	log      logger.Logger

	mu        sync.Mutex
	transport Transport
	watcher   *watcher.Watcher
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	closed    bool
}

// New 校验配置并创建引擎；不会发起任何连接
func New(opts Options) (*Engine, error) {
	if err := validate(opts); err != nil {
		return nil, err
	}
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	if opts.Dial == nil {
		opts.Dial = DialCDP
	}
	if len(opts.DiscoverKinds) == 0 {
		opts.DiscoverKinds = DefaultKinds
	}
	e := &Engine{
		opts:     opts,
		sessions: session.NewManager(l),
		log:      l,
	}
	e.rules = rules.New(opts.CaptureRules, pattern.NewCache(opts.Dialect))
	return e, nil
}

func validate(opts Options) error {
	if opts.DevToolsURL == "" {
		return &ConfigError{Field: "devToolsURL", Reason: "must not be empty"}
	}
	if (len(opts.CaptureRules) > 0) != (opts.OnResponse != nil) {
		return &ConfigError{Field: "captureRules", Reason: "capture rules and response handler must be supplied together"}
	}
	compiled := pattern.NewCache(opts.Dialect)
	for i, r := range opts.CaptureRules {
		if len(r.From) == 0 || len(r.Intercept) == 0 {
			return &ConfigError{Field: fmt.Sprintf("captureRules[%d]", i), Reason: "from and intercept must not be empty"}
		}
		for _, p := range append(append([]string(nil), r.From...), r.Intercept...) {
			if _, err := compiled.Compile(p); err != nil {
				return &ConfigError{Field: fmt.Sprintf("captureRules[%d]", i), Reason: err.Error()}
			}
		}
	}
	return nil
}

// Start 连接浏览器并在后台开始目标发现；连接失败返回 ConnectionError
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.transport != nil {
		return ErrAlreadyStarted
	}

	t, err := e.opts.Dial(ctx, e.opts.DevToolsURL, e.log)
	if err != nil {
		return &ConnectionError{Endpoint: e.opts.DevToolsURL, Hint: connectHint, Err: err}
	}

	h := handler.New(handler.Config{
		OnResponse:     e.opts.OnResponse,
		OnRawPause:     e.opts.OnRawPause,
		ProcessTimeout: e.opts.ProcessTimeout,
		Logger:         e.log,
	})
	w := watcher.New(watcher.Config{
		Rules:     e.rules,
		Predicate: e.opts.TargetPredicate,
		Kinds:     e.opts.DiscoverKinds,
		Attacher:  t,
		Sessions:  e.sessions,
		Handler:   h,
		Logger:    e.log,
	})

	runCtx, cancel := context.WithCancel(ctx)
	e.transport, e.watcher, e.cancel = t, w, cancel
	e.done = make(chan struct{})
	go e.discover(runCtx, t, w)

	if e.opts.InitialURL != "" {
		id, err := t.CreateTarget(ctx, e.opts.InitialURL)
		if err != nil {
			e.log.Err(err, "打开初始页面失败", "url", e.opts.InitialURL)
		} else {
			e.log.Info("已打开初始页面", "url", e.opts.InitialURL, "target", string(id))
		}
	}
	e.log.Info("拦截引擎已启动", "endpoint", e.opts.DevToolsURL, "rules", e.rules.Len())
	return nil
}

func (e *Engine) discover(ctx context.Context, t Transport, w *watcher.Watcher) {
	defer close(e.done)
	err := t.Discover(ctx, func(ev model.TargetEvent) {
		w.Handle(ctx, ev)
	})
	if err != nil && ctx.Err() == nil {
		e.log.Err(err, "目标发现中断")
		e.mu.Lock()
		e.err = &ConnectionError{Endpoint: e.opts.DevToolsURL, Hint: "browser connection lost", Err: err}
		e.mu.Unlock()
	}
}

// Wait 阻塞直到目标发现结束；连接中断时返回 ConnectionError，正常关闭返回 nil
func (e *Engine) Wait() error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return ErrNotStarted
	}
	<-done
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Close 分离所有会话并关闭连接
func (e *Engine) Close() error {
	e.mu.Lock()
	t, w, cancel, done := e.transport, e.watcher, e.cancel, e.done
	if t == nil || e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	cancel()
	<-done
	w.Close()
	err := t.Close()
	e.log.Info("拦截引擎已关闭")
	return err
}

// FetchBody 按引用获取响应体；每个请求只能获取一次
func (e *Engine) FetchBody(ctx context.Context, ref model.BodyRef) ([]byte, error) {
	s, ok := e.sessions.BySessionID(ref.SessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, ref.SessionID)
	}
	return s.ResponseBody(ctx, ref.ViaPausingChannel, ref.RequestID)
}

// Sessions 返回当前活动会话
func (e *Engine) Sessions() []*session.Session { return e.sessions.List() }

// Rules 返回捕获规则引擎
func (e *Engine) Rules() *rules.Engine { return e.rules }
