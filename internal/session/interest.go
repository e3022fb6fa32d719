package session

import "strings"

// Reason 需要为目标建立会话的原因
type Reason uint8

const (
	// ReasonInterception 调用方通过目标判定函数注册了原始拦截
	ReasonInterception Reason = iota
	// ReasonResponseCapture 捕获规则命中了目标 URL
	ReasonResponseCapture

	numReasons
)

func (r Reason) String() string {
	switch r {
	case ReasonInterception:
		return "interception"
	case ReasonResponseCapture:
		return "response_capture"
	default:
		return "unknown"
	}
}

// Interest 原因集合；任一原因存在即必须有会话，集合为空则不得有会话
type Interest struct {
	reasons [numReasons]bool
}

// InterestOf 由若干原因构造集合
func InterestOf(rs ...Reason) Interest {
	var i Interest
	for _, r := range rs {
		i = i.With(r)
	}
	return i
}

// With 返回加入 r 后的集合
func (i Interest) With(r Reason) Interest {
	if r < numReasons {
		i.reasons[r] = true
	}
	return i
}

// Union 集合并
func (i Interest) Union(o Interest) Interest {
	for r := Reason(0); r < numReasons; r++ {
		if o.reasons[r] {
			i.reasons[r] = true
		}
	}
	return i
}

// Has 是否包含 r
func (i Interest) Has(r Reason) bool {
	return r < numReasons && i.reasons[r]
}

// Empty 集合是否为空
func (i Interest) Empty() bool {
	return len(i.Reasons()) == 0
}

// Reasons 按固定顺序列出原因
func (i Interest) Reasons() []Reason {
	var out []Reason
	for r := Reason(0); r < numReasons; r++ {
		if i.reasons[r] {
			out = append(out, r)
		}
	}
	return out
}

func (i Interest) String() string {
	rs := i.Reasons()
	if len(rs) == 0 {
		return "none"
	}
	parts := make([]string, len(rs))
	for k, r := range rs {
		parts[k] = r.String()
	}
	return strings.Join(parts, "+")
}
