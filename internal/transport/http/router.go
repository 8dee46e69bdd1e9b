package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"huggingheart/backend/internal/config"
	"huggingheart/backend/internal/health"
	"huggingheart/backend/internal/middleware"
	"huggingheart/backend/internal/monitoring"
	"huggingheart/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config        *config.Config
	WebSocketHub  *websocket.Hub // 为 nil 时不注册 /ws
	HealthChecker *health.HealthChecker
	Metrics       *monitoring.Metrics
	Logger        *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()
	router.HandleMethodNotAllowed = true

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)
	router.Use(monitor.PanicRecovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(monitor.HTTPMetrics())
	router.Use(middleware.SecurityHeaders())

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"message":   "HuggingHeart API is running",
			"timestamp": time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			"checks":    deps.HealthChecker.CheckHealth(),
		})
	})

	// 健康检查处理器（用于 Kubernetes 等）
	router.GET("/health/live", gin.WrapH(deps.HealthChecker.LiveHandler()))
	router.GET("/health/ready", gin.WrapH(deps.HealthChecker.ReadyHandler()))

	// Prometheus 指标端点
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	if deps.WebSocketHub != nil {
		router.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
	}

	router.NoRoute(func(c *gin.Context) {
		NotFound(c, MsgRouteNotFound)
	})
	router.NoMethod(func(c *gin.Context) {
		Error(c, http.StatusMethodNotAllowed, MsgMethodNotAllowed)
	})

	return router
}
