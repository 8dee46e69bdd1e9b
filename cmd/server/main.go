package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	jwtpkg "huggingheart/backend/internal/auth/jwt"
	"huggingheart/backend/internal/chat"
	"huggingheart/backend/internal/config"
	"huggingheart/backend/internal/health"
	"huggingheart/backend/internal/logger"
	"huggingheart/backend/internal/monitoring"
	"huggingheart/backend/internal/ratelimit"
	"huggingheart/backend/internal/registry"
	"huggingheart/backend/internal/storage"
	"huggingheart/backend/internal/storage/memory"
	"huggingheart/backend/internal/storage/postgres"
	redisstore "huggingheart/backend/internal/storage/redis"
	sqlstore "huggingheart/backend/internal/storage/sql"
	httptransport "huggingheart/backend/internal/transport/http"
	"huggingheart/backend/internal/websocket"
)

// maxGoroutines 存活检查的协程数上限，每个连接占用两个协程
const maxGoroutines = 50000

// main 启动实时聊天服务
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.NewLogger(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("starting heartchat server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化存储层
	store, err := initializeStorage(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize message store", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("message store close warning", zap.Error(err))
		}
	}()

	// 发送配额：启用 Redis 时跨实例共享，否则使用进程内限流
	var (
		limiter     chat.SendLimiter
		redisPinger health.Pinger
	)
	if cfg.Redis.Enabled {
		redisClient, err := redisstore.New(&cfg.Redis, log)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()

		limiter = redisstore.NewSendLimiter(redisClient, cfg.Chat.SendRate, cfg.Chat.SendWindow)
		redisPinger = redisClient
		log.Info("using redis send limiter", zap.String("address", cfg.Redis.Address))
	} else {
		limiter = ratelimit.NewKeyedLimiter(cfg.Chat.SendRate, cfg.Chat.SendWindow)
		log.Info("using in-process send limiter")
	}

	// 初始化监控系统
	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(store, redisPinger, maxGoroutines, log)

	// 令牌校验
	jwtManager := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TokenExpiry)
	log.Info("JWT configuration", zap.String("issuer", cfg.JWT.Issuer))

	// 连接注册表与消息转发
	connRegistry := registry.New(log)
	relay := chat.NewRelay(connRegistry, store, limiter, chat.RelayConfig{
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		PersistTimeout:   cfg.Chat.PersistTimeout,
	}, metrics, log.Named("relay"))
	typing := chat.NewBroadcaster(connRegistry, metrics, log.Named("typing"))

	wsHub := websocket.NewHub(websocket.HubDependencies{
		Registry:       connRegistry,
		Relay:          relay,
		Typing:         typing,
		Verifier:       jwtManager,
		Admission:      ratelimit.NewConnectionLimiter(cfg.WebSocket.MaxConnections, cfg.WebSocket.ConnectRate),
		Config:         cfg.WebSocket,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Metrics:        metrics,
		Logger:         log,
	})

	// 创建 HTTP 服务器
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:        cfg,
		WebSocketHub:  wsHub,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        log,
	})

	httpServer := &http.Server{
		Addr:              cfg.Address(),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", cfg.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// WebSocket Hub goroutine，退出时关闭全部连接
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// 已升级的连接不受 Shutdown 管理，由 Hub 负责关闭
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", zap.Error(err))
		return
	}

	log.Info("server exited cleanly")
}

// initializeStorage 根据配置选择消息存储
func initializeStorage(cfg *config.Config, log *zap.Logger) (storage.MessageStore, error) {
	switch cfg.Database.Type {
	case "postgres", "mysql":
		store, err := sqlstore.NewStore(cfg.Database.Type, cfg.Database.DSN, sqlstore.Options{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			AutoMigrate:     cfg.Database.AutoMigrate,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create sql store: %w", err)
		}
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
		return store, nil

	case "pgx":
		client, err := postgres.New(&cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		store, err := postgres.NewStore(client, cfg.Database.AutoMigrate)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create pgx store: %w", err)
		}
		log.Info("using pgx storage")
		return store, nil

	default:
		log.Warn("using memory storage (development mode), messages are lost on restart")
		return memory.NewStore(), nil
	}
}
