package domain

// ConnState 连接生命周期状态
//
// Connecting → Unauthenticated | Authenticated → Closed，Closed 为终态。
type ConnState int32

const (
	ConnStateConnecting ConnState = iota
	ConnStateUnauthenticated
	ConnStateAuthenticated
	ConnStateClosed
)

// String 返回状态名称
func (s ConnState) String() string {
	switch s {
	case ConnStateConnecting:
		return "connecting"
	case ConnStateUnauthenticated:
		return "unauthenticated"
	case ConnStateAuthenticated:
		return "authenticated"
	case ConnStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CanTransition 判断状态迁移是否合法
func (s ConnState) CanTransition(next ConnState) bool {
	switch s {
	case ConnStateConnecting:
		return next == ConnStateUnauthenticated || next == ConnStateAuthenticated || next == ConnStateClosed
	case ConnStateUnauthenticated, ConnStateAuthenticated:
		return next == ConnStateClosed
	default:
		return false
	}
}
