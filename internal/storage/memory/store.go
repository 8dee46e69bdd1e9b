package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"huggingheart/backend/internal/domain"
	"huggingheart/backend/internal/storage"
)

// Store 使用内存保存聊天消息，主要用于开发验证。
type Store struct {
	mu       sync.RWMutex
	messages []domain.ChatMessage
	now      func() time.Time
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		now: time.Now,
	}
}

// Append 追加一条消息
func (s *Store) Append(ctx context.Context, senderID, receiverID, body string) (*domain.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.PersistenceError("append message", err)
	}

	msg := domain.ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
		CreatedAt:  s.now().UTC(),
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	return &msg, nil
}

// ListMessages 按时间顺序返回两人之间的消息（双向）
func (s *Store) ListMessages(userA, userB string) []domain.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ChatMessage, 0)
	for _, msg := range s.messages {
		if (msg.SenderID == userA && msg.ReceiverID == userB) ||
			(msg.SenderID == userB && msg.ReceiverID == userA) {
			result = append(result, msg)
		}
	}
	return result
}

// Count 返回消息总数
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Health 内存存储始终健康
func (s *Store) Health() error {
	return nil
}

// Close 内存存储无需关闭
func (s *Store) Close() error {
	return nil
}
