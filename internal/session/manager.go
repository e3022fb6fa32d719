package session

import (
	"sync"

	"cdpcapture/internal/logger"
	"cdpcapture/pkg/model"
)

// Manager 活动会话表，按目标ID与会话ID双向索引
type Manager struct {
	mu        sync.RWMutex
	byTarget  map[model.TargetID]*Session
	bySession map[model.SessionID]*Session
	log       logger.Logger
}

// NewManager 创建会话管理器
func NewManager(l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		byTarget:  make(map[model.TargetID]*Session),
		bySession: make(map[model.SessionID]*Session),
		log:       l,
	}
}

// Add 登记已绑定的会话
func (m *Manager) Add(id model.TargetID, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byTarget[id] = s
	if sid := s.ID(); sid != "" {
		m.bySession[sid] = s
	}
	m.log.Debug("登记会话", "target", string(id), "session", string(s.ID()))
}

// Get 按目标ID获取会话
func (m *Manager) Get(id model.TargetID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byTarget[id]
	return s, ok
}

// BySessionID 按会话ID获取会话
func (m *Manager) BySessionID(id model.SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.bySession[id]
	return s, ok
}

// Remove 移除目标对应的会话；仅当登记的仍是 s（s 非空时）才移除
func (m *Manager) Remove(id model.TargetID, s *Session) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.byTarget[id]
	if !ok || (s != nil && cur != s) {
		return nil, false
	}
	delete(m.byTarget, id)
	if sid := cur.ID(); sid != "" {
		delete(m.bySession, sid)
	}
	m.log.Debug("移除会话", "target", string(id), "session", string(cur.ID()))
	return cur, true
}

// List 返回所有活动会话
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*Session, 0, len(m.byTarget))
	for _, s := range m.byTarget {
		list = append(list, s)
	}
	return list
}

// Len 返回活动会话数
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byTarget)
}
