package chat

import (
	"go.uber.org/zap"

	"huggingheart/backend/internal/domain"
	"huggingheart/backend/internal/logger"
	"huggingheart/backend/internal/monitoring"
)

// Broadcaster 输入状态转发，不持久化、不确认、不重试
type Broadcaster struct {
	registry Registry
	metrics  *monitoring.Metrics
	log      *zap.Logger
}

// NewBroadcaster 创建输入状态转发器
func NewBroadcaster(registry Registry, metrics *monitoring.Metrics, log *zap.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		metrics:  metrics,
		log:      log,
	}
}

// HandleTyping 把输入状态转发给接收方的所有连接，发送连接本身除外
//
// 发送连接未认证或未指定接收方时静默丢弃。
func (b *Broadcaster) HandleTyping(senderConnID, receiverID string, isTyping bool) {
	sender, ok := b.registry.IdentityOf(senderConnID)
	if !ok || receiverID == "" {
		return
	}

	signal := domain.TypingSignal{FromID: sender.ID, ToID: receiverID, IsTyping: isTyping}
	report := b.registry.DeliverToMailbox(signal.ToID, domain.NewUserTypingEvent(sender, signal.IsTyping), senderConnID)

	b.metrics.RecordTypingSignal()
	b.metrics.RecordDelivery(string(domain.EventUserTyping), report.Delivered, report.Dropped())

	b.log.Debug("typing forwarded",
		logger.ConnID(senderConnID),
		logger.UserID(signal.FromID),
		zap.String("receiver_id", signal.ToID),
		zap.Bool("is_typing", signal.IsTyping),
		zap.Int("delivered", report.Delivered))
}
