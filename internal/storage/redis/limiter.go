package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const sendRateKeyPrefix = "chat:send_rate:"

// countSendScript 计数并在窗口首次计数时设置过期时间
var countSendScript = goredis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// SendLimiter 基于 Redis 固定窗口计数的发送配额，多实例共享
type SendLimiter struct {
	client *Client
	limit  int64
	window time.Duration
}

// NewSendLimiter 创建发送配额限制器
//
// 参数:
//   - limit: 每个窗口内允许的消息数
//   - window: 窗口长度
func NewSendLimiter(client *Client, limit int, window time.Duration) *SendLimiter {
	if window < time.Millisecond {
		window = time.Millisecond
	}
	return &SendLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
	}
}

// Allow 为身份计数一次发送，返回是否仍在配额内
func (l *SendLimiter) Allow(ctx context.Context, identityID string) (bool, error) {
	key := sendRateKeyPrefix + identityID

	count, err := countSendScript.Run(ctx, l.client.rdb, []string{key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to count send rate: %w", err)
	}

	return count <= l.limit, nil
}
