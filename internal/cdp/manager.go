// Package cdp 基于 mafredri/cdp 的传输层：浏览器连接、目标发现与按目标的会话。
package cdp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/target"
	"github.com/mafredri/cdp/rpcc"
	cdpsession "github.com/mafredri/cdp/session"

	adapter "cdpcapture/internal/adapter/cdp"
	"cdpcapture/internal/logger"
	"cdpcapture/internal/session"
	"cdpcapture/pkg/model"
)

// Manager 浏览器级连接
type Manager struct {
	endpoint string
	conn     *rpcc.Conn
	client   *cdp.Client
	sessions *cdpsession.Manager
	log      logger.Logger
}

// Connect 解析调试端点并建立浏览器级连接；endpoint 可为 http 地址或 ws 地址
func Connect(ctx context.Context, endpoint string, l logger.Logger) (*Manager, error) {
	if l == nil {
		l = logger.NewNop()
	}
	wsURL, err := resolveEndpoint(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	conn, err := rpcc.DialContext(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	client := cdp.NewClient(conn)
	sm, err := cdpsession.NewManager(client)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create session manager: %w", err)
	}
	l.Info("已连接浏览器", "endpoint", endpoint, "ws", wsURL)
	return &Manager{endpoint: endpoint, conn: conn, client: client, sessions: sm, log: l}, nil
}

func resolveEndpoint(ctx context.Context, endpoint string) (string, error) {
	if isWebSocketURL(endpoint) {
		return endpoint, nil
	}
	v, err := devtool.New(endpoint).Version(ctx)
	if err != nil {
		return "", fmt.Errorf("query devtools version at %s: %w", endpoint, err)
	}
	if v.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("devtools at %s returned no websocket url", endpoint)
	}
	return v.WebSocketDebuggerURL, nil
}

func isWebSocketURL(s string) bool {
	return strings.HasPrefix(s, "ws://") || strings.HasPrefix(s, "wss://")
}

// Discover 开启目标发现并按到达顺序回调目标事件，阻塞直到 ctx 结束或连接断开
func (m *Manager) Discover(ctx context.Context, fn func(model.TargetEvent)) error {
	created, err := m.client.Target.TargetCreated(ctx)
	if err != nil {
		return err
	}
	defer created.Close()
	changed, err := m.client.Target.TargetInfoChanged(ctx)
	if err != nil {
		return err
	}
	defer changed.Close()
	destroyed, err := m.client.Target.TargetDestroyed(ctx)
	if err != nil {
		return err
	}
	defer destroyed.Close()

	if err := cdp.Sync(created, changed, destroyed); err != nil {
		return err
	}
	if err := m.client.Target.SetDiscoverTargets(ctx, target.NewSetDiscoverTargetsArgs(true)); err != nil {
		return fmt.Errorf("enable target discovery: %w", err)
	}
	m.log.Debug("目标发现已开启")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-m.sessions.Err():
			m.log.Warn("会话多路复用错误", "error", err)
		case <-created.Ready():
			ev, err := created.Recv()
			if err != nil {
				return streamErr(ctx, err)
			}
			fn(model.TargetCreated{Target: adapter.ToTarget(ev.TargetInfo)})
		case <-changed.Ready():
			ev, err := changed.Recv()
			if err != nil {
				return streamErr(ctx, err)
			}
			fn(model.TargetChanged{Target: adapter.ToTarget(ev.TargetInfo)})
		case <-destroyed.Ready():
			ev, err := destroyed.Recv()
			if err != nil {
				return streamErr(ctx, err)
			}
			fn(model.TargetDestroyed{ID: model.TargetID(ev.TargetID)})
		}
	}
}

func streamErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("target stream closed: %w", err)
}

// CreateTarget 打开新页面
func (m *Manager) CreateTarget(ctx context.Context, url string) (model.TargetID, error) {
	reply, err := m.client.Target.CreateTarget(ctx, target.NewCreateTargetArgs(url))
	if err != nil {
		return "", fmt.Errorf("create target %s: %w", url, err)
	}
	return model.TargetID(reply.TargetID), nil
}

// Attach 与目标建立会话；返回前事件流已订阅，通道尚未启用
func (m *Manager) Attach(ctx context.Context, id model.TargetID, sink session.EventSink) (session.Conn, error) {
	rc, err := m.sessions.Dial(ctx, target.ID(id))
	if err != nil {
		return nil, err
	}
	sid := model.SessionID(uuid.NewString())
	c, err := newTargetConn(sid, id, rc, sink, m.log.With("target", string(id), "session", string(sid)))
	if err != nil {
		rc.Close()
		return nil, err
	}
	return c, nil
}

// Close 关闭所有会话与浏览器连接
func (m *Manager) Close() error {
	return errors.Join(m.sessions.Close(), m.conn.Close())
}
