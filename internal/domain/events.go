package domain

import "time"

// EventName 事件名称
type EventName string

// 入站事件
const (
	EventSendMessage EventName = "send_message"
	EventTyping      EventName = "typing"
	EventDisconnect  EventName = "disconnect"
)

// 出站事件
const (
	EventReceiveMessage EventName = "receive_message"
	EventMessageSent    EventName = "message_sent"
	EventUserTyping     EventName = "user_typing"
	EventError          EventName = "error"
)

// 返回给客户端的错误消息
const (
	MsgAuthRequired    = "Authentication required"
	MsgMessageRequired = "Message and receiver_id are required"
	MsgSendFailed      = "Failed to send message"
	MsgMessageTooLong  = "Message is too long"
	MsgSendRateLimited = "Too many messages, please slow down"
	MsgTooManyRequests = "Too many requests"
	MsgInvalidPayload  = "Invalid payload"
	MsgUnknownEvent    = "Unknown event"
)

// Event 发往某个连接的出站事件
type Event struct {
	Name    EventName
	Payload interface{}
}

// SendMessageRequest send_message 请求体
type SendMessageRequest struct {
	ReceiverID FlexibleID `json:"receiver_id"`
	Message    string     `json:"message"`
}

// TypingRequest typing 请求体
type TypingRequest struct {
	ReceiverID FlexibleID `json:"receiver_id"`
	IsTyping   bool       `json:"is_typing"`
}

// ReceiveMessagePayload receive_message 事件数据
type ReceiveMessagePayload struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	ReceiverID string    `json:"receiver_id"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

// MessageSentPayload message_sent 事件数据
type MessageSentPayload struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// UserTypingPayload user_typing 事件数据
type UserTypingPayload struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	IsTyping bool   `json:"is_typing"`
}

// ErrorPayload error 事件数据
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewErrorEvent 创建错误事件
func NewErrorEvent(msg string) Event {
	return Event{Name: EventError, Payload: ErrorPayload{Message: msg}}
}

// NewReceiveMessageEvent 根据已持久化的消息创建 receive_message 事件
func NewReceiveMessageEvent(msg *ChatMessage, senderName string) Event {
	return Event{
		Name: EventReceiveMessage,
		Payload: ReceiveMessagePayload{
			ID:         msg.ID,
			SenderID:   msg.SenderID,
			SenderName: senderName,
			ReceiverID: msg.ReceiverID,
			Message:    msg.Body,
			CreatedAt:  msg.CreatedAt,
		},
	}
}

// NewMessageSentEvent 创建发送确认事件
func NewMessageSentEvent(msg *ChatMessage) Event {
	return Event{
		Name: EventMessageSent,
		Payload: MessageSentPayload{
			ID:        msg.ID,
			Message:   msg.Body,
			CreatedAt: msg.CreatedAt,
		},
	}
}

// NewUserTypingEvent 创建输入状态事件
func NewUserTypingEvent(from Identity, isTyping bool) Event {
	return Event{
		Name: EventUserTyping,
		Payload: UserTypingPayload{
			UserID:   from.ID,
			UserName: from.DisplayName,
			IsTyping: isTyping,
		},
	}
}
