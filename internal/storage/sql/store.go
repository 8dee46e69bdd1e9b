package sql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"huggingheart/backend/internal/domain"
	"huggingheart/backend/internal/storage"
	"huggingheart/backend/internal/storage/migrate"
)

// Store SQL 数据库消息存储（支持 MySQL 5.7+ 和 PostgreSQL）
type Store struct {
	db         *sql.DB
	driverName string // "mysql" or "postgres"
	now        func() time.Time
}

// Options 连接池与迁移选项
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// NewStore 创建SQL数据库存储
func NewStore(driverName, dsn string, opts Options) (*Store, error) {
	// 验证驱动类型
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if opts.AutoMigrate {
		if err := migrate.Run(db, driverName); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	return NewStoreFromDB(db, driverName), nil
}

// NewStoreFromDB 使用已有连接创建存储
func NewStoreFromDB(db *sql.DB, driverName string) *Store {
	return &Store{
		db:         db,
		driverName: driverName,
		now:        time.Now,
	}
}

// Append 写入一条消息
//
// 时间戳截断到微秒，与 PostgreSQL timestamptz 及迁移创建的 MySQL datetime(6) 精度一致，
// 返回给客户端的 created_at 与库中记录相同。
func (s *Store) Append(ctx context.Context, senderID, receiverID, body string) (*domain.ChatMessage, error) {
	msg := &domain.ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
		CreatedAt:  s.now().UTC().Truncate(time.Microsecond),
	}

	query := fmt.Sprintf(
		"INSERT INTO chat_messages (id, sender_id, receiver_id, message, created_at) VALUES (%s, %s, %s, %s, %s)",
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5),
	)

	result, err := s.db.ExecContext(ctx, query, msg.ID, msg.SenderID, msg.ReceiverID, msg.Body, msg.CreatedAt)
	if err != nil {
		return nil, storage.PersistenceError("insert chat message", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, storage.PersistenceError("insert chat message", err)
	}
	if rows != 1 {
		return nil, storage.PersistenceError("insert chat message", fmt.Errorf("unexpected rows affected: %d", rows))
	}

	return msg, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (s *Store) Health() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.Ping()
}

// placeholder 根据数据库类型返回占位符
func (s *Store) placeholder(n int) string {
	if s.driverName == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}
