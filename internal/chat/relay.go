package chat

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"huggingheart/backend/internal/domain"
	"huggingheart/backend/internal/logger"
	"huggingheart/backend/internal/monitoring"
	"huggingheart/backend/internal/storage"
)

// 发送失败原因（指标标签）
const (
	reasonUnauthenticated = "unauthenticated"
	reasonValidation      = "validation"
	reasonRateLimited     = "rate_limited"
	reasonPersistence     = "persistence"
)

type sendInput struct {
	ReceiverID string `validate:"required"`
	Message    string `validate:"required"`
}

// RelayConfig Relay 配置
type RelayConfig struct {
	MaxMessageLength int           // 0 表示不限制
	PersistTimeout   time.Duration // 单次持久化超时
}

// Relay 私聊消息发送路径：校验、持久化、扇出、确认
type Relay struct {
	registry       Registry
	store          storage.MessageStore
	limiter        SendLimiter
	validate       *validator.Validate
	maxLength      int
	persistTimeout time.Duration
	metrics        *monitoring.Metrics
	log            *zap.Logger
}

// NewRelay 创建 Relay
//
// 参数:
//   - registry: 连接注册表
//   - store: 消息存储
//   - limiter: 发送配额，为 nil 时不限制
//   - cfg: 长度与超时配置
func NewRelay(registry Registry, store storage.MessageStore, limiter SendLimiter, cfg RelayConfig, metrics *monitoring.Metrics, log *zap.Logger) *Relay {
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	return &Relay{
		registry:       registry,
		store:          store,
		limiter:        limiter,
		validate:       validator.New(),
		maxLength:      cfg.MaxMessageLength,
		persistTimeout: cfg.PersistTimeout,
		metrics:        metrics,
		log:            log,
	}
}

// HandleSend 处理一次 send_message 请求
//
// 结果全部以事件形式发出：接收方每个在线连接一条 receive_message，
// 发送连接一条 message_sent；任何失败只向发送连接回一条 error。
// 消息先持久化再扇出，持久化期间不持有注册表的锁。
// ctx 应为服务生命周期上下文而不是连接上下文，连接中途关闭时已开始的持久化照常完成。
func (r *Relay) HandleSend(ctx context.Context, senderConnID, receiverID, body string) {
	sender, ok := r.registry.IdentityOf(senderConnID)
	if !ok {
		r.reject(senderConnID, domain.MsgAuthRequired, reasonUnauthenticated)
		return
	}

	log := r.log.With(logger.ConnID(senderConnID), logger.UserID(sender.ID))

	if msg, err := r.validateSend(receiverID, body); err != nil {
		log.Debug("send rejected", zap.Error(err))
		r.reject(senderConnID, msg, reasonValidation)
		return
	}

	if r.limiter != nil {
		allowed, err := r.limiter.Allow(ctx, sender.ID)
		switch {
		case err != nil:
			log.Warn("send limiter unavailable, allowing message", zap.Error(err))
		case !allowed:
			log.Info("send rate limited")
			r.reject(senderConnID, domain.MsgSendRateLimited, reasonRateLimited)
			return
		}
	}

	persistCtx, cancel := context.WithTimeout(ctx, r.persistTimeout)
	start := time.Now()
	msg, err := r.store.Append(persistCtx, sender.ID, receiverID, body)
	cancel()
	if err != nil {
		log.Error("failed to persist message",
			zap.String("receiver_id", receiverID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		r.reject(senderConnID, domain.MsgSendFailed, reasonPersistence)
		return
	}
	r.metrics.RecordMessageSent(time.Since(start))

	report := r.registry.DeliverToMailbox(receiverID, domain.NewReceiveMessageEvent(msg, sender.DisplayName), "")
	r.metrics.RecordDelivery(string(domain.EventReceiveMessage), report.Delivered, report.Dropped())
	if report.Targets == 0 {
		r.metrics.RecordDeliveryGap()
	}

	acked := r.registry.Deliver(senderConnID, domain.NewMessageSentEvent(msg))
	if !acked {
		log.Debug("sender connection gone, acknowledgment dropped", zap.String("message_id", msg.ID))
	}

	log.Info("message relayed",
		zap.String("message_id", msg.ID),
		zap.String("receiver_id", receiverID),
		zap.Int("receiver_connections", report.Targets),
		zap.Int("delivered", report.Delivered),
		zap.Bool("acknowledged", acked))
}

// validateSend 校验请求，返回给客户端的错误消息和内部错误
func (r *Relay) validateSend(receiverID, body string) (string, error) {
	if err := r.validate.Struct(sendInput{ReceiverID: receiverID, Message: body}); err != nil {
		return domain.MsgMessageRequired, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	if r.maxLength > 0 {
		if err := r.validate.Var(body, "max="+strconv.Itoa(r.maxLength)); err != nil {
			return domain.MsgMessageTooLong, fmt.Errorf("%w: %w", domain.ErrValidation, err)
		}
	}

	return "", nil
}

func (r *Relay) reject(connID, message, reason string) {
	r.metrics.RecordMessageFailed(reason)
	r.registry.Deliver(connID, domain.NewErrorEvent(message))
}
