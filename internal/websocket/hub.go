package websocket

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"huggingheart/backend/internal/auth"
	"huggingheart/backend/internal/chat"
	"huggingheart/backend/internal/config"
	"huggingheart/backend/internal/domain"
	"huggingheart/backend/internal/monitoring"
	"huggingheart/backend/internal/ratelimit"
	"huggingheart/backend/internal/registry"
)

// statsInterval 在线统计刷新周期
const statsInterval = 15 * time.Second

// Verifier 令牌校验器
type Verifier interface {
	Verify(rawToken string) (domain.Identity, error)
}

// HubDependencies Hub 依赖项
type HubDependencies struct {
	Registry       *registry.Registry
	Relay          *chat.Relay
	Typing         *chat.Broadcaster
	Verifier       Verifier
	Admission      *ratelimit.ConnectionLimiter
	Config         config.WebSocketConfig
	AllowedOrigins []string
	Metrics        *monitoring.Metrics
	Logger         *zap.Logger
}

// Hub 管理所有WebSocket连接
type Hub struct {
	registry       *registry.Registry
	relay          *chat.Relay
	typing         *chat.Broadcaster
	verifier       Verifier
	admission      *ratelimit.ConnectionLimiter
	cfg            config.WebSocketConfig
	allowedOrigins []string
	metrics        *monitoring.Metrics
	log            *zap.Logger

	// sendCtx 发送路径使用的上下文，与单个连接的生命周期无关
	sendCtx context.Context
}

// NewHub 创建WebSocket Hub
func NewHub(deps HubDependencies) *Hub {
	// 如果没有配置，默认允许所有
	allowedOrigins := deps.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Hub{
		registry:       deps.Registry,
		relay:          deps.Relay,
		typing:         deps.Typing,
		verifier:       deps.Verifier,
		admission:      deps.Admission,
		cfg:            deps.Config,
		allowedOrigins: allowedOrigins,
		metrics:        deps.Metrics,
		log:            log.Named("websocket"),
		sendCtx:        context.Background(),
	}
}

// Run 启动Hub，ctx 取消时关闭全部连接
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			closed := h.registry.Shutdown()
			h.refreshStats()
			h.log.Info("websocket hub stopped", zap.Int("closed_connections", closed))
			return

		case <-ticker.C:
			h.refreshStats()
		}
	}
}

// authenticate 校验握手请求中的令牌
//
// 缺少或无效的令牌不会拒绝连接，连接以未认证状态继续，发送消息时才会被拒绝。
func (h *Hub) authenticate(r *http.Request) (domain.Identity, bool) {
	token := auth.ExtractToken(r)
	if token == "" {
		h.log.Debug("no token provided, connecting unauthenticated",
			zap.String("remote_addr", r.RemoteAddr))
		return domain.Identity{}, false
	}

	identity, err := h.verifier.Verify(token)
	if err != nil {
		h.log.Warn("token verification failed, connecting unauthenticated",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		return domain.Identity{}, false
	}

	return identity, true
}

func (h *Hub) refreshStats() {
	stats := h.registry.Stats()
	h.metrics.UpdateConnections(stats.Connections, stats.Identities)
}
