// Package collector 提供默认的响应处理函数：按类型筛选响应，获取响应体并写入归档。
package collector

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"cdpcapture/internal/archive"
	"cdpcapture/internal/logger"
	"cdpcapture/internal/session"
	"cdpcapture/pkg/model"
)

// Store 归档存储能力
type Store interface {
	Check(id string) error
	Persist(ctx context.Context, id string, d archive.Details, data []byte) (archive.Record, error)
}

// BodySource 按引用获取响应体
type BodySource interface {
	ResponseBody(ctx context.Context, viaPausingChannel bool, requestID string) ([]byte, error)
}

// Options 采集配置
type Options struct {
	Store          Store
	MimePrefixes   []string // 为空时接受所有类型
	PromptQuery    []string // 依次尝试的查询参数
	PromptJSONPath string   // 请求体中的 gjson 路径
	IDQuery        []string
	IDJSONPath     string
	SkipMetadata   bool
	Logger         logger.Logger
}

// Stats 采集计数
type Stats struct {
	Captured   int64
	Duplicates int64
	Skipped    int64
	Failed     int64
}

// Collector 默认响应处理器
type Collector struct {
	opts Options
	log  logger.Logger

	captured   atomic.Int64
	duplicates atomic.Int64
	skipped    atomic.Int64
	failed     atomic.Int64
}

// New 创建采集器
func New(opts Options) *Collector {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Collector{opts: opts, log: l}
}

// Handle 处理一次完整响应；签名与 handler.ResponseHandler 一致
func (c *Collector) Handle(ctx context.Context, s *session.Session, ev model.ResponseEvent) error {
	return c.Collect(ctx, s, ev)
}

// Collect 从 src 获取响应体并归档
func (c *Collector) Collect(ctx context.Context, src BodySource, ev model.ResponseEvent) error {
	l := c.log.With("requestId", ev.RequestID, "url", ev.Request.URL)

	if code := ev.Response.StatusCode; code < 200 || code >= 300 {
		c.skipped.Add(1)
		l.Debug("跳过非成功响应", "status", code)
		return nil
	}
	ct := ev.Response.ContentType()
	if !c.acceptsType(ct) {
		c.skipped.Add(1)
		l.Debug("跳过不关注的响应类型", "contentType", ct)
		return nil
	}

	id := c.pick(ev, c.opts.IDQuery, c.opts.IDJSONPath)
	if errors.Is(c.opts.Store.Check(id), archive.ErrDuplicateID) {
		c.duplicates.Add(1)
		l.Debug("已归档，跳过获取响应体", "id", id)
		return nil
	}

	body, err := src.ResponseBody(ctx, ev.ViaPausingChannel, ev.RequestID)
	if err != nil {
		c.failed.Add(1)
		return fmt.Errorf("fetch body: %w", err)
	}

	extra, err := extraFields(ev, ct)
	if err != nil {
		c.failed.Add(1)
		return err
	}
	rec, err := c.opts.Store.Persist(ctx, id, archive.Details{
		Prompt:       c.pick(ev, c.opts.PromptQuery, c.opts.PromptJSONPath),
		SourceURL:    ev.Request.URL,
		Extra:        extra,
		SkipMetadata: c.opts.SkipMetadata,
	}, body)
	switch {
	case errors.Is(err, archive.ErrUnknownFormat), errors.Is(err, archive.ErrEmptyPayload):
		c.skipped.Add(1)
		l.Debug("响应体不是可归档的图片", "error", err, "size", len(body))
		return nil
	case err != nil:
		c.failed.Add(1)
		return err
	case rec.Duplicate:
		c.duplicates.Add(1)
		return nil
	}
	c.captured.Add(1)
	l.Info("已捕获响应", "id", rec.ID, "file", rec.File, "viaPausing", ev.ViaPausingChannel)
	return nil
}

// Stats 返回当前计数
func (c *Collector) Stats() Stats {
	return Stats{
		Captured:   c.captured.Load(),
		Duplicates: c.duplicates.Load(),
		Skipped:    c.skipped.Load(),
		Failed:     c.failed.Load(),
	}
}

func (c *Collector) acceptsType(ct string) bool {
	if len(c.opts.MimePrefixes) == 0 {
		return true
	}
	for _, p := range c.opts.MimePrefixes {
		if strings.HasPrefix(ct, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// pick 先按顺序查找查询参数，再尝试请求体中的 JSON 路径
func (c *Collector) pick(ev model.ResponseEvent, keys []string, jsonPath string) string {
	if len(keys) > 0 {
		if u, err := url.Parse(ev.Request.URL); err == nil {
			q := u.Query()
			for _, k := range keys {
				if v := strings.TrimSpace(q.Get(k)); v != "" {
					return v
				}
			}
		}
	}
	if jsonPath != "" && ev.Request.PostData != nil {
		if r := gjson.Get(*ev.Request.PostData, jsonPath); r.Exists() {
			return strings.TrimSpace(r.String())
		}
	}
	return ""
}

func extraFields(ev model.ResponseEvent, contentType string) ([]byte, error) {
	doc := []byte(`{}`)
	var err error
	for _, f := range []struct {
		path  string
		value any
	}{
		{"capture.requestId", ev.RequestID},
		{"capture.targetId", string(ev.TargetID)},
		{"capture.initiatorUrl", ev.InitiatorURL},
		{"capture.viaPausingChannel", ev.ViaPausingChannel},
		{"capture.method", ev.Request.Method},
		{"capture.status", ev.Response.StatusCode},
		{"capture.contentType", contentType},
	} {
		if doc, err = sjson.SetBytes(doc, f.path, f.value); err != nil {
			return nil, fmt.Errorf("build capture fields: %w", err)
		}
	}
	return doc, nil
}
