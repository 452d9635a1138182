package database

import (
	"context"
	"fmt"
	"time"

	"PriceKeeper/pkg/config"
	"PriceKeeper/pkg/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TimescaleDB 数据库连接
type TimescaleDB struct {
	db *gorm.DB
}

// NewTimescaleDB 创建新的数据库连接并迁移表结构
func NewTimescaleDB(cfg *config.Config) (*TimescaleDB, error) {
	return Open(cfg.DSN())
}

// Open 按连接串打开数据库
func Open(dsn string) (*TimescaleDB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取数据库连接池失败: %w", err)
	}
	// 设置连接池参数
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("测试数据库连接失败: %w", err)
	}

	if err := db.AutoMigrate(&model.PriceUpdateEvent{}, &AnomalyModelRecord{}); err != nil {
		return nil, fmt.Errorf("迁移表结构失败: %w", err)
	}

	return &TimescaleDB{db: db}, nil
}

// Ping 健康检查
func (t *TimescaleDB) Ping(ctx context.Context) error {
	sqlDB, err := t.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (t *TimescaleDB) Close() error {
	sqlDB, err := t.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
