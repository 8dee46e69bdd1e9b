package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"huggingheart/backend/internal/domain"
)

var (
	// ErrInvalidToken 无效的令牌
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken 令牌已过期
	ErrExpiredToken = errors.New("token expired")
)

// Claims 签发方写入的声明，id 与 name 对应用户ID和显示名
type Claims struct {
	UserID domain.FlexibleID `json:"id"`
	Name   string            `json:"name"`
	jwt.RegisteredClaims
}

// Manager 令牌校验器
//
// Verify 是纯函数：不访问存储，不重试，任何失败都归为未认证。
// Issue 仅供开发工具和测试使用，生产令牌由外部身份服务签发。
type Manager struct {
	secret []byte
	issuer string
	expiry time.Duration
	parser *jwt.Parser
}

// NewManager 创建令牌管理器
//
// 参数:
//   - secret: HMAC 签名密钥
//   - issuer: 期望的签发者，留空则不校验 iss
//   - expiry: Issue 签发令牌的有效期
func NewManager(secret, issuer string, expiry time.Duration) *Manager {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{
			jwt.SigningMethodHS256.Alg(),
			jwt.SigningMethodHS384.Alg(),
			jwt.SigningMethodHS512.Alg(),
		}),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	return &Manager{
		secret: []byte(secret),
		issuer: issuer,
		expiry: expiry,
		parser: jwt.NewParser(opts...),
	}
}

// Verify 校验令牌并提取身份
//
// 返回值:
//   - domain.Identity: 令牌中的用户ID和显示名
//   - error: 令牌缺失时为 domain.ErrMissingToken，其余失败均包装 domain.ErrUnauthenticated
func (m *Manager) Verify(rawToken string) (domain.Identity, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return domain.Identity{}, domain.ErrMissingToken
	}

	claims := &Claims{}
	token, err := m.parser.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Identity{}, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, ErrExpiredToken)
		}
		return domain.Identity{}, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, ErrInvalidToken)
	}
	if !token.Valid {
		return domain.Identity{}, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, ErrInvalidToken)
	}

	userID := claims.UserID.String()
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return domain.Identity{}, fmt.Errorf("%w: %w: missing user id claim", domain.ErrUnauthenticated, ErrInvalidToken)
	}

	return domain.Identity{ID: userID, DisplayName: claims.Name}, nil
}

// Issue 为指定身份签发令牌
func (m *Manager) Issue(identity domain.Identity) (string, error) {
	if identity.IsZero() {
		return "", fmt.Errorf("identity id is required")
	}

	now := time.Now()
	claims := Claims{
		UserID: domain.FlexibleID(identity.ID),
		Name:   identity.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   identity.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
