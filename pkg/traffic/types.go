package traffic

import (
	"net/http"
	"strings"
)

// Header 封装通用的头部操作，键统一为小写
type Header map[string]string

// Get 获取指定 Header 的值（大小写不敏感）
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(key)]
}

// Set 设置指定 Header 的值（自动转换为小写）
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Del 删除指定 Header
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// Clone 返回头部的独立副本
func (h Header) Clone() Header {
	out := make(Header, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Request 中立的请求快照
type Request struct {
	URL          string  // 完整URL
	Method       string  // HTTP方法
	Headers      Header  // 请求头
	PostData     *string // 请求体文本（若协议提供）
	ResourceType string  // 资源类型 (如 Document, XHR, Image)
}

// Response 中立的响应快照，不含响应体；响应体需按需获取
type Response struct {
	StatusCode int    // 状态码
	StatusText string // 状态描述
	Headers    Header // 响应头
}

// ContentType 返回响应的 Content-Type（不含参数部分）
func (r *Response) ContentType() string {
	ct := r.Headers.Get("content-type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(strings.ToLower(ct))
}

// NewRequest 创建初始化请求对象
func NewRequest() *Request {
	return &Request{
		Headers: make(Header),
	}
}

// NewResponse 创建初始化响应对象
func NewResponse() *Response {
	return &Response{
		StatusCode: http.StatusOK,
		StatusText: http.StatusText(http.StatusOK),
		Headers:    make(Header),
	}
}
