package handler

import (
	"context"
	"fmt"
	"time"

	"cdpcapture/internal/logger"
	"cdpcapture/internal/session"
	"cdpcapture/pkg/model"
)

// ResponseHandler 接收完整响应记录；在暂停通道中于放行之前同步调用
type ResponseHandler func(ctx context.Context, s *session.Session, ev model.ResponseEvent) error

// Disposition 原始拦截处理结果
type Disposition int

const (
	// AutoContinue 处理完成后自动放行
	AutoContinue Disposition = iota
	// Handled 调用方自行放行、修改或失败该请求
	Handled
)

// RawPauseHandler 调用方的原始暂停处理函数
type RawPauseHandler func(ctx context.Context, s *session.Session, p model.PausedRequest) (Disposition, error)

// HandlerError 调用方处理函数返回错误或发生 panic
type HandlerError struct {
	Handler string
	Err     error
}

func (e *HandlerError) Error() string { return fmt.Sprintf("%s handler: %v", e.Handler, e.Err) }
func (e *HandlerError) Unwrap() error { return e.Err }

// Handler 事件处理器，负责两个通道的分发与放行
type Handler struct {
	onResponse      ResponseHandler
	onRawPause      RawPauseHandler
	processTimeout  time.Duration
	continueTimeout time.Duration
	log             logger.Logger
}

// Config 配置选项
type Config struct {
	OnResponse     ResponseHandler
	OnRawPause     RawPauseHandler
	ProcessTimeout time.Duration
	Logger         logger.Logger
}

// New 创建事件处理器
func New(cfg Config) *Handler {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	to := cfg.ProcessTimeout
	if to <= 0 {
		to = 3 * time.Second
	}
	return &Handler{
		onResponse:      cfg.OnResponse,
		onRawPause:      cfg.OnRawPause,
		processTimeout:  to,
		continueTimeout: time.Second,
		log:             l,
	}
}

// HandlePaused 处理暂停通道事件
func (h *Handler) HandlePaused(parent context.Context, s *session.Session, p model.PausedRequest) {
	if s.Closed() {
		return
	}
	l := h.log.With("target", string(s.Target().ID), "session", string(s.ID()), "requestId", p.RequestID)
	l.Debug("开始处理暂停事件", "url", p.Request.URL, "status", p.Response.StatusCode)

	if !s.PauseMatches(p.Request.URL) {
		l.Debug("请求不匹配当前模式，直接放行", "url", p.Request.URL)
		h.continueRequest(parent, s, p, l)
		return
	}

	ctx, cancel := context.WithTimeout(parent, h.processTimeout)
	defer cancel()

	interest := s.Interest()
	disposition := AutoContinue

	if interest.Has(session.ReasonResponseCapture) {
		if s.Evict(p.CorrelationID()) {
			l.Debug("暂停通道接管观察条目", "networkId", p.CorrelationID())
		}
		if p.Failed() {
			l.Debug("响应加载失败，不上报", "reason", p.ErrorReason)
		} else if h.onResponse != nil {
			t := s.Target()
			ev := model.ResponseEvent{
				InitiatorURL:      t.URL,
				ViaPausingChannel: true,
				RequestID:         p.RequestID,
				SessionID:         s.ID(),
				TargetID:          t.ID,
				Request:           p.Request,
				Response:          p.Response,
			}
			if err := h.safeResponse(ctx, s, ev); err != nil {
				l.Err(err, "响应处理函数失败")
			}
		}
	}

	if interest.Has(session.ReasonInterception) && h.onRawPause != nil {
		d, err := h.safeRawPause(ctx, s, p)
		if err != nil {
			l.Err(err, "原始拦截处理函数失败")
		} else {
			disposition = d
		}
	}

	if disposition == Handled {
		l.Debug("调用方自行处理暂停请求")
		return
	}

	h.continueRequest(parent, s, p, l)
}

func (h *Handler) continueRequest(parent context.Context, s *session.Session, p model.PausedRequest, l logger.Logger) {
	ctx, cancel := context.WithTimeout(parent, h.continueTimeout)
	defer cancel()
	if err := s.ContinueRequest(ctx, p.RequestID); err != nil {
		l.Err(err, "放行请求失败")
		return
	}
	l.Debug("已放行请求")
}

// HandleNetwork 处理观察通道事件
func (h *Handler) HandleNetwork(parent context.Context, s *session.Session, e model.NetworkEvent) {
	switch ev := e.(type) {
	case model.RequestSent:
		s.Track(ev.RequestID, ev.Request)
	case model.ResponseReceived:
		s.Correlate(ev.RequestID, ev.Response)
	case model.LoadingFinished:
		p, ok := s.Finish(ev.RequestID)
		if !ok || h.onResponse == nil {
			return
		}
		t := s.Target()
		out := model.ResponseEvent{
			InitiatorURL:      p.InitiatorURL,
			ViaPausingChannel: false,
			RequestID:         p.RequestID,
			SessionID:         s.ID(),
			TargetID:          t.ID,
			Request:           p.Request,
		}
		if p.Response != nil {
			out.Response = *p.Response
		}
		ctx, cancel := context.WithTimeout(parent, h.processTimeout)
		defer cancel()
		if err := h.safeResponse(ctx, s, out); err != nil {
			h.log.Err(err, "响应处理函数失败", "target", string(t.ID), "requestId", p.RequestID)
		}
	default:
		h.log.Warn("未知的观察事件", "type", fmt.Sprintf("%T", e))
	}
}

func (h *Handler) safeResponse(ctx context.Context, s *session.Session, ev model.ResponseEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{Handler: "response", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := h.onResponse(ctx, s, ev); err != nil {
		return &HandlerError{Handler: "response", Err: err}
	}
	return nil
}

func (h *Handler) safeRawPause(ctx context.Context, s *session.Session, p model.PausedRequest) (d Disposition, err error) {
	defer func() {
		if r := recover(); r != nil {
			d, err = AutoContinue, &HandlerError{Handler: "raw pause", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	d, err = h.onRawPause(ctx, s, p)
	if err != nil {
		return AutoContinue, &HandlerError{Handler: "raw pause", Err: err}
	}
	return d, nil
}
