package migrate

import (
	"database/sql"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"huggingheart/backend/internal/domain"
)

// Run 在已有连接上执行 chat_messages 表迁移（GORM AutoMigrate）
//
// driverName 支持 postgres 与 mysql。
func Run(db *sql.DB, driverName string) error {
	dialector, err := dialectorFor(db, driverName)
	if err != nil {
		return err
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize GORM: %w", err)
	}

	if err := gormDB.AutoMigrate(&domain.ChatMessage{}); err != nil {
		return fmt.Errorf("failed to migrate chat_messages: %w", err)
	}
	return nil
}

func dialectorFor(db *sql.DB, driverName string) (gorm.Dialector, error) {
	switch driverName {
	case "postgres":
		return postgres.New(postgres.Config{Conn: db}), nil
	case "mysql":
		return mysql.New(mysql.Config{Conn: db}), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}
}
