package cdp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/rpcc"

	adapter "cdpcapture/internal/adapter/cdp"
	"cdpcapture/internal/logger"
	"cdpcapture/internal/session"
	"cdpcapture/pkg/model"
)

// targetConn 单个目标的会话连接
type targetConn struct {
	id     model.SessionID
	target model.TargetID
	rc     *rpcc.Conn
	client *cdp.Client
	sink   session.EventSink
	log    logger.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	detaching atomic.Bool
	closeOnce sync.Once
}

type streams struct {
	paused   fetch.RequestPausedClient
	sent     network.RequestWillBeSentClient
	received network.ResponseReceivedClient
	finished network.LoadingFinishedClient
}

func (s *streams) close() {
	for _, c := range []interface{ Close() error }{s.paused, s.sent, s.received, s.finished} {
		if c != nil {
			c.Close()
		}
	}
}

func newTargetConn(id model.SessionID, t model.TargetID, rc *rpcc.Conn, sink session.EventSink, l logger.Logger) (*targetConn, error) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &targetConn{
		id:     id,
		target: t,
		rc:     rc,
		client: cdp.NewClient(rc),
		sink:   sink,
		log:    l,
		ctx:    ctx,
		cancel: cancel,
	}
	st, err := c.subscribe()
	if err != nil {
		cancel()
		return nil, err
	}
	go c.consume(st)
	return c, nil
}

// subscribe 在启用任何通道之前订阅事件流，同一会话内的事件按到达顺序交付
func (c *targetConn) subscribe() (*streams, error) {
	st := &streams{}
	var err error
	if st.paused, err = c.client.Fetch.RequestPaused(c.ctx); err != nil {
		return nil, err
	}
	if st.sent, err = c.client.Network.RequestWillBeSent(c.ctx); err != nil {
		st.close()
		return nil, err
	}
	if st.received, err = c.client.Network.ResponseReceived(c.ctx); err != nil {
		st.close()
		return nil, err
	}
	if st.finished, err = c.client.Network.LoadingFinished(c.ctx); err != nil {
		st.close()
		return nil, err
	}
	if err := cdp.Sync(st.paused, st.sent, st.received, st.finished); err != nil {
		st.close()
		return nil, err
	}
	return st, nil
}

func (c *targetConn) consume(st *streams) {
	defer st.close()

	var err error
	for err == nil {
		select {
		case <-c.ctx.Done():
			return
		case <-st.paused.Ready():
			var ev *fetch.RequestPausedReply
			if ev, err = st.paused.Recv(); err == nil {
				c.sink.Paused(adapter.ToPausedRequest(ev))
			}
		case <-st.sent.Ready():
			var ev *network.RequestWillBeSentReply
			if ev, err = st.sent.Recv(); err == nil {
				c.sink.Network(adapter.ToRequestSent(ev))
			}
		case <-st.received.Ready():
			var ev *network.ResponseReceivedReply
			if ev, err = st.received.Recv(); err == nil {
				c.sink.Network(adapter.ToResponseReceived(ev))
			}
		case <-st.finished.Ready():
			var ev *network.LoadingFinishedReply
			if ev, err = st.finished.Recv(); err == nil {
				c.sink.Network(adapter.ToLoadingFinished(ev))
			}
		}
	}
	if c.detaching.Load() || c.ctx.Err() != nil {
		return
	}
	c.log.Warn("会话事件流终止", "error", err)
	c.sink.Closed(err)
}

func (c *targetConn) ID() model.SessionID { return c.id }

// EnableInterception 在响应阶段按模式启用暂停通道；重复调用以新模式替换
func (c *targetConn) EnableInterception(ctx context.Context, patterns []string) error {
	args := &fetch.EnableArgs{Patterns: adapter.ToRequestPatterns(patterns)}
	if err := c.client.Fetch.Enable(ctx, args); err != nil {
		return fmt.Errorf("fetch enable: %w", err)
	}
	return nil
}

func (c *targetConn) DisableInterception(ctx context.Context) error {
	if err := c.client.Fetch.Disable(ctx); err != nil {
		return fmt.Errorf("fetch disable: %w", err)
	}
	return nil
}

// EnableObservation 启用网络观察通道
func (c *targetConn) EnableObservation(ctx context.Context) error {
	if err := c.client.Network.Enable(ctx, nil); err != nil {
		return fmt.Errorf("network enable: %w", err)
	}
	return nil
}

func (c *targetConn) DisableObservation(ctx context.Context) error {
	if err := c.client.Network.Disable(ctx); err != nil {
		return fmt.Errorf("network disable: %w", err)
	}
	return nil
}

func (c *targetConn) ContinueRequest(ctx context.Context, requestID string) error {
	return c.client.Fetch.ContinueRequest(ctx, fetch.NewContinueRequestArgs(fetch.RequestID(requestID)))
}

func (c *targetConn) FailRequest(ctx context.Context, requestID string) error {
	return c.client.Fetch.FailRequest(ctx, fetch.NewFailRequestArgs(fetch.RequestID(requestID), network.ErrorReasonFailed))
}

// ResponseBody 获取响应体，按来源通道选择对应的命令
func (c *targetConn) ResponseBody(ctx context.Context, viaPausingChannel bool, requestID string) ([]byte, error) {
	if viaPausingChannel {
		reply, err := c.client.Fetch.GetResponseBody(ctx, fetch.NewGetResponseBodyArgs(fetch.RequestID(requestID)))
		if err != nil {
			return nil, fmt.Errorf("fetch body %s: %w", requestID, err)
		}
		return adapter.DecodeBody(reply.Body, reply.Base64Encoded)
	}
	reply, err := c.client.Network.GetResponseBody(ctx, network.NewGetResponseBodyArgs(network.RequestID(requestID)))
	if err != nil {
		return nil, fmt.Errorf("network body %s: %w", requestID, err)
	}
	return adapter.DecodeBody(reply.Body, reply.Base64Encoded)
}

// Detach 取消事件订阅并关闭会话连接，此后不再交付任何事件
func (c *targetConn) Detach() error {
	var err error
	c.closeOnce.Do(func() {
		c.detaching.Store(true)
		c.cancel()
		err = c.rc.Close()
		c.log.Debug("会话连接已关闭")
	})
	return err
}
