package model

import "cdpcapture/pkg/traffic"

type SessionID string
type TargetID string

// TargetKind 目标类型
type TargetKind string

const (
	KindPage          TargetKind = "page"
	KindServiceWorker TargetKind = "service_worker"
	KindOther         TargetKind = "other"
)

// ParseTargetKind 将协议中的目标类型映射为 TargetKind
func ParseTargetKind(s string) TargetKind {
	switch s {
	case "page":
		return KindPage
	case "service_worker":
		return KindServiceWorker
	default:
		return KindOther
	}
}

// Target 可被检查的浏览器执行上下文；ID 在同一标签页导航期间保持不变
type Target struct {
	ID   TargetID   `json:"id"`
	URL  string     `json:"url"`
	Kind TargetKind `json:"kind"`
}

// CaptureRule 将来源目标 URL 模式映射到需要捕获的响应 URL 模式
type CaptureRule struct {
	From              []string `json:"from" yaml:"from"`
	Intercept         []string `json:"intercept" yaml:"intercept"`
	ServiceWorkerOnly bool     `json:"serviceWorkerOnly" yaml:"serviceWorkerOnly"`
	RawCapture        bool     `json:"rawCapture" yaml:"rawCapture"`
}

// TargetEvent 目标生命周期事件（封闭集合）
type TargetEvent interface {
	isTargetEvent()
}

// TargetCreated 目标出现
type TargetCreated struct{ Target Target }

// TargetChanged 目标信息变化（通常是导航）
type TargetChanged struct{ Target Target }

// TargetDestroyed 目标销毁
type TargetDestroyed struct{ ID TargetID }

func (TargetCreated) isTargetEvent()   {}
func (TargetChanged) isTargetEvent()   {}
func (TargetDestroyed) isTargetEvent() {}

// NetworkEvent 观察通道事件（封闭集合）
type NetworkEvent interface {
	isNetworkEvent()
	NetworkRequestID() string
}

// RequestSent 请求已发出
type RequestSent struct {
	RequestID string
	Request   traffic.Request
}

// ResponseReceived 已收到响应头
type ResponseReceived struct {
	RequestID string
	Response  traffic.Response
}

// LoadingFinished 响应加载完成
type LoadingFinished struct {
	RequestID string
}

func (RequestSent) isNetworkEvent()      {}
func (ResponseReceived) isNetworkEvent() {}
func (LoadingFinished) isNetworkEvent()  {}

func (e RequestSent) NetworkRequestID() string      { return e.RequestID }
func (e ResponseReceived) NetworkRequestID() string { return e.RequestID }
func (e LoadingFinished) NetworkRequestID() string  { return e.RequestID }

// PausedRequest 暂停通道中在响应阶段被挂起的请求
type PausedRequest struct {
	RequestID string // 暂停通道的请求ID
	NetworkID string // 对应观察通道的请求ID，可能为空
	Request   traffic.Request
	Response  traffic.Response
	// ErrorReason 响应阶段的加载错误，非空时没有响应状态与响应体
	ErrorReason string
}

// Failed 是否为加载失败的暂停
func (p PausedRequest) Failed() bool { return p.ErrorReason != "" }

// CorrelationID 返回用于与观察通道关联的请求ID
func (p PausedRequest) CorrelationID() string {
	if p.NetworkID != "" {
		return p.NetworkID
	}
	return p.RequestID
}

// BodyRef 定位一次可按需获取的响应体
type BodyRef struct {
	ViaPausingChannel bool      `json:"viaPausingChannel"`
	RequestID         string    `json:"requestId"`
	SessionID         SessionID `json:"sessionId"`
}

// ResponseEvent 交给调用方的完整响应记录
type ResponseEvent struct {
	InitiatorURL      string           `json:"initiatorUrl"`
	ViaPausingChannel bool             `json:"viaPausingChannel"`
	RequestID         string           `json:"requestId"`
	SessionID         SessionID        `json:"sessionId"`
	TargetID          TargetID         `json:"targetId"`
	Request           traffic.Request  `json:"request"`
	Response          traffic.Response `json:"response"`
}

// BodyRef 返回获取该响应体所需的引用
func (e ResponseEvent) BodyRef() BodyRef {
	return BodyRef{ViaPausingChannel: e.ViaPausingChannel, RequestID: e.RequestID, SessionID: e.SessionID}
}
