package chat

import (
	"context"

	"huggingheart/backend/internal/domain"
)

// Registry Relay 与 Broadcaster 依赖的连接注册表操作
type Registry interface {
	IdentityOf(connID string) (domain.Identity, bool)
	Deliver(connID string, ev domain.Event) bool
	DeliverToMailbox(identityID string, ev domain.Event, excludeConnID string) domain.DeliveryReport
}

// SendLimiter 每个身份的发送配额
type SendLimiter interface {
	Allow(ctx context.Context, identityID string) (bool, error)
}
