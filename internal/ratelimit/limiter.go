package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ConnectionLimiter WebSocket 连接准入限流器
type ConnectionLimiter struct {
	maxConns int
	current  int
	mu       sync.Mutex
	accept   *rate.Limiter
}

// NewConnectionLimiter 创建连接限流器
//
// 参数:
//   - maxConns: 最大并发连接数
//   - maxRate: 每秒最大新建连接数
func NewConnectionLimiter(maxConns int, maxRate float64) *ConnectionLimiter {
	burst := int(maxRate)
	if burst < 1 {
		burst = 1
	}
	return &ConnectionLimiter{
		maxConns: maxConns,
		accept:   rate.NewLimiter(rate.Limit(maxRate), burst),
	}
}

// Acquire 获取连接许可
//
// 返回值:
//   - bool: 是否获取成功，成功后必须调用 Release
func (l *ConnectionLimiter) Acquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	// 检查连接数限制
	if l.current >= l.maxConns {
		return false
	}

	// 检查速率限制
	if !l.accept.Allow() {
		return false
	}

	l.current++
	return true
}

// Release 释放连接
func (l *ConnectionLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current > 0 {
		l.current--
	}
}

// Current 当前连接数
func (l *ConnectionLimiter) Current() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

type keyedEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter 按身份划分的进程内发送配额（令牌桶）
//
// 每个窗口允许 limit 次发送，桶容量同为 limit。
// 空闲超过一个窗口的条目在下一次 Allow 时被清理。
type KeyedLimiter struct {
	mu        sync.Mutex
	entries   map[string]*keyedEntry
	every     rate.Limit
	burst     int
	idle      time.Duration
	nextPrune time.Time
	now       func() time.Time
}

// NewKeyedLimiter 创建按身份的限流器
func NewKeyedLimiter(limit int, window time.Duration) *KeyedLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &KeyedLimiter{
		entries: make(map[string]*keyedEntry),
		every:   rate.Limit(float64(limit) / window.Seconds()),
		burst:   limit,
		idle:    window,
		now:     time.Now,
	}
}

// Allow 消耗身份的一个令牌，返回是否允许
func (l *KeyedLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	e, ok := l.entries[key]
	if !ok {
		e = &keyedEntry{limiter: rate.NewLimiter(l.every, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now

	return e.limiter.AllowN(now, 1), nil
}

// Len 返回当前跟踪的身份数量
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *KeyedLimiter) pruneLocked(now time.Time) {
	if now.Before(l.nextPrune) {
		return
	}
	for key, e := range l.entries {
		if now.Sub(e.lastSeen) > l.idle {
			delete(l.entries, key)
		}
	}
	l.nextPrune = now.Add(l.idle)
}
