package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// Pinger 可以探活的依赖（Redis 等）
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker 消息存储健康检查
type StoreChecker interface {
	Health() error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	store  StoreChecker
	redis  Pinger
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器
//
// 参数:
//   - store: 消息存储
//   - redis: Redis 客户端，未启用时为 nil
//   - maxGoroutines: 协程数上限，超过时存活检查失败
func NewHealthChecker(store StoreChecker, redis Pinger, maxGoroutines int, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		redis:  redis,
		logger: logger,
	}

	hc.addChecks(maxGoroutines)

	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks(maxGoroutines int) {
	// 协程泄漏检查（每个连接两个协程）
	if maxGoroutines > 0 {
		hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	}

	// 数据库连接检查
	hc.health.AddReadinessCheck("database", healthcheck.Timeout(hc.store.Health, 5*time.Second))

	// Redis 连接检查
	if hc.redis != nil {
		hc.health.AddReadinessCheck("redis", RedisHealthCheck(hc.redis))
	}
}

// LiveHandler 存活检查处理器
func (hc *HealthChecker) LiveHandler() http.Handler {
	return http.HandlerFunc(hc.health.LiveEndpoint)
}

// ReadyHandler 就绪检查处理器
func (hc *HealthChecker) ReadyHandler() http.Handler {
	return http.HandlerFunc(hc.health.ReadyEndpoint)
}

// CheckHealth 执行健康检查，返回各依赖状态
func (hc *HealthChecker) CheckHealth() map[string]string {
	results := make(map[string]string)

	if err := hc.store.Health(); err != nil {
		results["database"] = fmt.Sprintf("ERROR: %v", err)
		hc.logger.Warn("database health check failed", zap.Error(err))
	} else {
		results["database"] = "OK"
	}

	if hc.redis == nil {
		results["redis"] = "NOT_AVAILABLE"
	} else if err := RedisHealthCheck(hc.redis)(); err != nil {
		results["redis"] = fmt.Sprintf("ERROR: %v", err)
		hc.logger.Warn("redis health check failed", zap.Error(err))
	} else {
		results["redis"] = "OK"
	}

	return results
}

// RedisHealthCheck Redis 健康检查
func RedisHealthCheck(redis Pinger) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		return redis.Ping(ctx)
	}
}
