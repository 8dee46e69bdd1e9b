package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	jwtpkg "huggingheart/backend/internal/auth/jwt"
	"huggingheart/backend/internal/config"
	"huggingheart/backend/internal/domain"
)

// 为本地调试签发连接令牌，生产令牌由外部身份服务签发
func main() {
	id := flag.String("id", "", "用户ID")
	name := flag.String("name", "", "显示名")
	expiry := flag.Duration("expiry", 0, "有效期，默认使用 HEARTCHAT_JWT_TOKEN_EXPIRY")
	flag.Parse()

	if *id == "" {
		fmt.Println("Usage: issue-token -id <user id> [-name <display name>] [-expiry 24h]")
		os.Exit(1)
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ttl := cfg.JWT.TokenExpiry
	if *expiry > 0 {
		ttl = *expiry
	}

	manager := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, ttl)
	token, err := manager.Issue(domain.Identity{ID: *id, DisplayName: *name})
	if err != nil {
		fmt.Printf("Failed to issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "Token for %s (expires %s):\n", *id, time.Now().Add(ttl).Format(time.RFC3339))
	fmt.Println(token)
}
