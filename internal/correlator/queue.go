// Package correlator 将观察通道中异步到达的请求发出、响应头、加载完成三个事件
// 组合为完整的响应记录。
package correlator

import (
	"sync"

	"cdpcapture/pkg/traffic"
)

// Pending 一条进行中的观察记录
type Pending struct {
	RequestID    string
	InitiatorURL string
	Request      traffic.Request
	Response     *traffic.Response
}

// Queue 单个会话独占的待关联队列；未完成加载的条目会一直保留到会话销毁
type Queue struct {
	mu    sync.Mutex
	items map[string]*Pending
}

// New 创建队列
func New() *Queue {
	return &Queue{items: make(map[string]*Pending)}
}

// RequestSent 记录新请求；同ID的旧条目（重定向）被覆盖
func (q *Queue) RequestSent(requestID, initiatorURL string, req traffic.Request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[requestID] = &Pending{RequestID: requestID, InitiatorURL: initiatorURL, Request: req}
}

// ResponseReceived 补充响应快照，条目不存在时返回 false
func (q *Queue) ResponseReceived(requestID string, resp traffic.Response) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.items[requestID]
	if !ok {
		return false
	}
	r := resp
	p.Response = &r
	return true
}

// LoadingFinished 取出并移除条目
func (q *Queue) LoadingFinished(requestID string) (Pending, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.items[requestID]
	if !ok {
		return Pending{}, false
	}
	delete(q.items, requestID)
	return *p, true
}

// Evict 丢弃被暂停通道接管的条目
func (q *Queue) Evict(requestID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.items[requestID]; !ok {
		return false
	}
	delete(q.items, requestID)
	return true
}

// Drop 清空队列并返回丢弃数量
func (q *Queue) Drop() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = make(map[string]*Pending)
	return n
}

// Len 返回进行中的条目数
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
