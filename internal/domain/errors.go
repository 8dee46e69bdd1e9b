package domain

import "errors"

var (
	// ErrUnauthenticated 令牌缺失或无效
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrMissingToken 未携带令牌
	ErrMissingToken = errors.New("missing authentication token")
	// ErrValidation 请求参数不合法
	ErrValidation = errors.New("validation failed")
	// ErrPersistence 消息持久化失败
	ErrPersistence = errors.New("persistence failed")
	// ErrIdentityConflict 连接已绑定到其他身份
	ErrIdentityConflict = errors.New("connection already bound to a different identity")
	// ErrConnectionNotFound 连接未注册
	ErrConnectionNotFound = errors.New("connection not found")
	// ErrConnectionExists 连接ID重复注册
	ErrConnectionExists = errors.New("connection already registered")
)
