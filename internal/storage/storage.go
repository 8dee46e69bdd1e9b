package storage

import (
	"context"
	"fmt"

	"huggingheart/backend/internal/domain"
)

// MessageStore 消息持久化网关
//
// Append 成功返回时消息已持久化，ID 与 CreatedAt 由存储分配。
// 失败时返回的错误包装 domain.ErrPersistence，本层不做重试。
type MessageStore interface {
	Append(ctx context.Context, senderID, receiverID, body string) (*domain.ChatMessage, error)
	Health() error
	Close() error
}

// PersistenceError 将底层错误包装为持久化错误
func PersistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}
