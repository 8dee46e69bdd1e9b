package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"huggingheart/backend/internal/domain"
	"huggingheart/backend/internal/logger"
)

// 连接结果（指标标签）
const (
	resultAuthenticated   = "authenticated"
	resultUnauthenticated = "unauthenticated"
	resultRejected        = "rejected"
)

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			// 非浏览器客户端不带 Origin
			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}

			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
					return true
				}
			}

			return false
		},
	}
}

// HandleWebSocket 处理WebSocket连接
//
// 超过准入限制时在升级前返回 503；令牌缺失或无效时连接以未认证状态建立。
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		if !hub.admission.Acquire() {
			hub.metrics.RecordConnection(resultRejected)
			hub.log.Warn("connection rejected by admission limit",
				zap.Int("current", hub.admission.Current()),
				zap.String("remote_addr", c.ClientIP()))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"success": false,
				"message": "Too many connections",
			})
			return
		}

		identity, authenticated := hub.authenticate(c.Request)

		// 升级连接
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.admission.Release()
			hub.log.Warn("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := newClient(hub, conn)
		if err := hub.registry.Register(client); err != nil {
			hub.log.Error("failed to register client", logger.ConnID(client.id), zap.Error(err))
			conn.Close()
			hub.admission.Release()
			return
		}

		result := resultUnauthenticated
		if authenticated {
			if err := hub.registry.Bind(client.id, identity); err != nil {
				hub.log.Error("failed to bind identity", logger.ConnID(client.id), zap.Error(err))
				authenticated = false
			} else {
				result = resultAuthenticated
			}
		}

		if authenticated {
			client.transition(domain.ConnStateAuthenticated)
			client.log = client.log.With(logger.UserID(identity.ID))
		} else {
			client.transition(domain.ConnStateUnauthenticated)
		}

		hub.metrics.RecordConnection(result)
		hub.refreshStats()
		client.log.Info("client connected",
			zap.String("state", client.State().String()),
			zap.String("remote_addr", c.ClientIP()))

		go client.writePump()
		go client.readPump()
	}
}
