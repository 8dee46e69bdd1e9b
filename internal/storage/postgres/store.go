package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"huggingheart/backend/internal/domain"
	"huggingheart/backend/internal/storage"
	"huggingheart/backend/internal/storage/migrate"
)

const insertMessageSQL = `INSERT INTO chat_messages (id, sender_id, receiver_id, message, created_at)
VALUES ($1, $2, $3, $4, NOW())
RETURNING created_at`

// querier 连接池中 Append 用到的方法
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store 基于 pgx 连接池的消息存储，created_at 由数据库生成
type Store struct {
	client *Client
	db     querier
}

// NewStore 创建 pgx 消息存储
func NewStore(client *Client, autoMigrate bool) (*Store, error) {
	if autoMigrate {
		db := stdlib.OpenDBFromPool(client.Pool())
		err := migrate.Run(db, "postgres")
		db.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	return &Store{client: client, db: client.Pool()}, nil
}

// Append 写入一条消息并返回数据库分配的时间戳
func (s *Store) Append(ctx context.Context, senderID, receiverID, body string) (*domain.ChatMessage, error) {
	msg := &domain.ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
	}

	var createdAt time.Time
	if err := s.db.QueryRow(ctx, insertMessageSQL, msg.ID, senderID, receiverID, body).Scan(&createdAt); err != nil {
		return nil, storage.PersistenceError("insert chat message", err)
	}
	msg.CreatedAt = createdAt.UTC()

	return msg, nil
}

// Health 检查数据库健康状态
func (s *Store) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.client.Ping(ctx)
}

// Close 关闭连接池
func (s *Store) Close() error {
	s.client.Close()
	return nil
}
