package auth

import (
	"net/http"
	"strings"
)

// ExtractToken 从握手请求中提取令牌
//
// 查找顺序：
//  1. URL 参数 token
//  2. Authorization: Bearer <token>
//
// 都不存在时返回空字符串（允许匿名连接）。
func ExtractToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	return ""
}
