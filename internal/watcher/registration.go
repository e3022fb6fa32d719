package watcher

import (
	"context"
	"errors"
	"slices"
	"sync"

	"cdpcapture/internal/session"
	"cdpcapture/pkg/model"
)

var (
	// ErrNotBound 注册未能得到会话（例如目标已被过滤或拦截已关闭）
	ErrNotBound = errors.New("interception not bound")
	// ErrLateRegistration 目标判定函数返回后才发起的注册
	ErrLateRegistration = errors.New("registration after predicate returned")
)

// RegisterFunc 在目标判定函数内同步调用以注册原始拦截
type RegisterFunc func(patterns ...string) *Registration

// TargetPredicate 调用方的目标判定函数；不得阻塞等待 Registration 完成
type TargetPredicate func(t model.Target, register RegisterFunc)

// Registration 两阶段注册句柄：注册时立即返回，会话建立后通过 Bound 通知
type Registration struct {
	target   model.TargetID
	patterns []string

	once sync.Once
	done chan struct{}
	sess *session.Session
	err  error
}

func newRegistration(id model.TargetID, patterns []string) *Registration {
	return &Registration{target: id, patterns: slices.Clone(patterns), done: make(chan struct{})}
}

// Target 返回注册针对的目标
func (r *Registration) Target() model.TargetID { return r.target }

// Patterns 返回注册的拦截模式
func (r *Registration) Patterns() []string { return slices.Clone(r.patterns) }

// Bound 会话建立或注册失败后关闭
func (r *Registration) Bound() <-chan struct{} { return r.done }

// Result 返回结果；Bound 关闭前调用返回 (nil, nil)
func (r *Registration) Result() (*session.Session, error) {
	select {
	case <-r.done:
		return r.sess, r.err
	default:
		return nil, nil
	}
}

// Wait 阻塞直到会话建立、注册失败或 ctx 结束
func (r *Registration) Wait(ctx context.Context) (*session.Session, error) {
	select {
	case <-r.done:
		return r.sess, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registration) resolve(s *session.Session, err error) {
	r.once.Do(func() {
		r.sess, r.err = s, err
		if s == nil && err == nil {
			r.err = ErrNotBound
		}
		close(r.done)
	})
}

func resolveAll(regs []*Registration, s *session.Session, err error) {
	for _, r := range regs {
		r.resolve(s, err)
	}
}
