// Package cdp 将协议回包转换为中立模型。
package cdp

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/target"
	"github.com/tidwall/gjson"

	"cdpcapture/pkg/model"
	"cdpcapture/pkg/traffic"
)

// ToTarget 将目标信息转换为 Target
func ToTarget(info target.Info) model.Target {
	return model.Target{
		ID:   model.TargetID(info.TargetID),
		URL:  info.URL,
		Kind: model.ParseTargetKind(info.Type),
	}
}

// ToRequest 将协议请求转换为中立 Request
func ToRequest(r network.Request, resourceType string) traffic.Request {
	req := traffic.NewRequest()
	req.URL = r.URL
	req.Method = r.Method
	req.ResourceType = resourceType
	decodeHeaders(req.Headers, []byte(r.Headers))
	if r.PostData != nil {
		body := *r.PostData
		req.PostData = &body
	}
	return *req
}

// ToPausedRequest 将暂停事件转换为 PausedRequest；加载失败时只保留错误原因
func ToPausedRequest(ev *fetch.RequestPausedReply) model.PausedRequest {
	p := model.PausedRequest{
		RequestID: string(ev.RequestID),
		Request:   ToRequest(ev.Request, string(ev.ResourceType)),
	}
	if ev.NetworkID != nil {
		p.NetworkID = string(*ev.NetworkID)
	}

	res := traffic.NewResponse()
	if ev.ResponseErrorReason != nil {
		p.ErrorReason = string(*ev.ResponseErrorReason)
		res.StatusCode = 0
		res.StatusText = ""
	}
	if ev.ResponseStatusCode != nil {
		res.StatusCode = *ev.ResponseStatusCode
		res.StatusText = http.StatusText(res.StatusCode)
	}
	if ev.ResponseStatusText != nil && *ev.ResponseStatusText != "" {
		res.StatusText = *ev.ResponseStatusText
	}
	for _, h := range ev.ResponseHeaders {
		res.Headers.Set(h.Name, h.Value)
	}
	p.Response = *res
	return p
}

// ToRequestSent 转换观察通道的请求发出事件
func ToRequestSent(ev *network.RequestWillBeSentReply) model.RequestSent {
	return model.RequestSent{
		RequestID: string(ev.RequestID),
		Request:   ToRequest(ev.Request, string(ev.Type)),
	}
}

// ToResponseReceived 转换观察通道的响应头事件
func ToResponseReceived(ev *network.ResponseReceivedReply) model.ResponseReceived {
	res := traffic.NewResponse()
	res.StatusCode = ev.Response.Status
	res.StatusText = ev.Response.StatusText
	if res.StatusText == "" {
		// HTTP/2 不携带状态描述
		res.StatusText = http.StatusText(res.StatusCode)
	}
	decodeHeaders(res.Headers, []byte(ev.Response.Headers))
	return model.ResponseReceived{RequestID: string(ev.RequestID), Response: *res}
}

// ToLoadingFinished 转换观察通道的加载完成事件
func ToLoadingFinished(ev *network.LoadingFinishedReply) model.LoadingFinished {
	return model.LoadingFinished{RequestID: string(ev.RequestID)}
}

// ToRequestPatterns 生成响应阶段的拦截模式
func ToRequestPatterns(patterns []string) []fetch.RequestPattern {
	out := make([]fetch.RequestPattern, 0, len(patterns))
	for _, p := range patterns {
		p := p
		out = append(out, fetch.RequestPattern{URLPattern: &p, RequestStage: fetch.RequestStageResponse})
	}
	return out
}

// DecodeBody 按传输编码解码响应体
func DecodeBody(body string, base64Encoded bool) ([]byte, error) {
	if !base64Encoded {
		return []byte(body), nil
	}
	b, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("decode base64 body: %w", err)
	}
	return b, nil
}

// decodeHeaders 协议头部为 JSON 对象；多值头部以换行连接，原样保留
func decodeHeaders(dst traffic.Header, raw []byte) {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return
	}
	gjson.ParseBytes(raw).ForEach(func(k, v gjson.Result) bool {
		dst.Set(k.String(), v.String())
		return true
	})
}
