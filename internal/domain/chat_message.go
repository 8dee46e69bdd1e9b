package domain

import "time"

// ChatMessage 表示一条已持久化的私聊消息。
//
// 消息在一次成功的发送请求中创建且只创建一次，之后不可修改。
type ChatMessage struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	SenderID   string    `json:"sender_id" gorm:"type:varchar(64);not null;index:idx_chat_messages_pair,priority:1"`
	ReceiverID string    `json:"receiver_id" gorm:"type:varchar(64);not null;index:idx_chat_messages_pair,priority:2;index"`
	Body       string    `json:"message" gorm:"column:message;type:text;not null"`
	CreatedAt  time.Time `json:"created_at" gorm:"not null;precision:6;index"`
}

// TableName 指定表名
func (ChatMessage) TableName() string {
	return "chat_messages"
}

// TypingSignal 输入状态信号，只存在于一次转发过程中，从不持久化
type TypingSignal struct {
	FromID   string
	ToID     string
	IsTyping bool
}

// DeliveryReport 一次信箱投递的结果
type DeliveryReport struct {
	Targets   int // 信箱中的目标连接数（已排除的连接不计入）
	Delivered int // 成功写入发送队列的连接数
}

// Dropped 返回被丢弃的投递数量
func (r DeliveryReport) Dropped() int {
	return r.Targets - r.Delivered
}
