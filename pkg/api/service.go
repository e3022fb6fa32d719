package api

import (
	"context"

	"cdpcapture/internal/engine"
	"cdpcapture/internal/handler"
	"cdpcapture/internal/session"
	"cdpcapture/internal/watcher"
	"cdpcapture/pkg/model"
)

type (
	Options         = engine.Options
	ResponseHandler = handler.ResponseHandler
	RawPauseHandler = handler.RawPauseHandler
	Disposition     = handler.Disposition
	TargetPredicate = watcher.TargetPredicate
	RegisterFunc    = watcher.RegisterFunc
	Registration    = watcher.Registration
	Session         = session.Session
	ConfigError     = engine.ConfigError
	ConnectionError = engine.ConnectionError
)

const (
	AutoContinue = handler.AutoContinue
	Handled      = handler.Handled
)

// SessionInfo 活动会话快照
type SessionInfo struct {
	SessionID model.SessionID `json:"sessionId"`
	Target    model.Target    `json:"target"`
	Interest  string          `json:"interest"`
	Patterns  []string        `json:"patterns"`
	Pending   int             `json:"pendingObservations"`
}

// Service 服务接口
type Service interface {
	// Start 连接浏览器并开始目标发现
	Start(ctx context.Context) error

	// Wait 阻塞直到发现结束
	Wait() error

	// Close 分离所有会话并断开
	Close() error

	// FetchBody 获取响应体
	FetchBody(ctx context.Context, ref model.BodyRef) ([]byte, error)

	// Sessions 列出活动会话
	Sessions() []SessionInfo
}

type service struct {
	*engine.Engine
}

// NewService 校验配置并创建服务；配置错误在连接之前返回
func NewService(opts Options) (Service, error) {
	e, err := engine.New(opts)
	if err != nil {
		return nil, err
	}
	return &service{Engine: e}, nil
}

func (s *service) Sessions() []SessionInfo {
	list := s.Engine.Sessions()
	out := make([]SessionInfo, 0, len(list))
	for _, ss := range list {
		out = append(out, SessionInfo{
			SessionID: ss.ID(),
			Target:    ss.Target(),
			Interest:  ss.Interest().String(),
			Patterns:  ss.Patterns(),
			Pending:   ss.PendingCount(),
		})
	}
	return out
}
