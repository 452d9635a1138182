package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PriceKeeper/pkg/engine"

	"gorm.io/gorm"
)

// keepModelVersions 保留的模型版本数
const keepModelVersions = 5

// AnomalyModelRecord 序列化后的异常检测模型
type AnomalyModelRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Data      []byte    `gorm:"type:bytea;not null"`
	CreatedAt time.Time `gorm:"index"`
}

func (AnomalyModelRecord) TableName() string {
	return "anomaly_models"
}

// ModelDB 以数据库保存模型，实现 engine.ModelStore
type ModelDB struct {
	db      *gorm.DB
	timeout time.Duration
}

var _ engine.ModelStore = (*ModelDB)(nil)

func (t *TimescaleDB) Model() *ModelDB {
	return &ModelDB{db: t.db, timeout: 10 * time.Second}
}

// SaveModel 写入新版本并清理旧版本
func (m *ModelDB) SaveModel(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := &AnomalyModelRecord{Data: data}
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("保存模型失败: %w", err)
		}
		err := tx.Where("id <= ?", int64(rec.ID)-keepModelVersions).Delete(&AnomalyModelRecord{}).Error
		if err != nil {
			return fmt.Errorf("清理旧模型失败: %w", err)
		}
		return nil
	})
}

// LoadModel 读取最新版本
func (m *ModelDB) LoadModel() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var rec AnomalyModelRecord
	err := m.db.WithContext(ctx).Order("id DESC").First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, engine.ErrModelNotFound
		}
		return nil, fmt.Errorf("读取模型失败: %w", err)
	}
	return rec.Data, nil
}
