package database

import (
	"context"
	"fmt"
	"time"

	"PriceKeeper/pkg/model"

	"gorm.io/gorm"
)

// PriceUpdateDB 调价审计记录
type PriceUpdateDB struct {
	db *gorm.DB
}

func (t *TimescaleDB) PriceUpdate() *PriceUpdateDB {
	return &PriceUpdateDB{db: t.db}
}

func (p *PriceUpdateDB) Save(ctx context.Context, event *model.PriceUpdateEvent) error {
	if err := p.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("保存调价记录失败: %w", err)
	}
	return nil
}

// RecordPriceUpdate 作为调价控制器的记录器
func (p *PriceUpdateDB) RecordPriceUpdate(ctx context.Context, event model.PriceUpdateEvent) error {
	return p.Save(ctx, &event)
}

// GetRecent 最近的调价记录，按时间倒序
func (p *PriceUpdateDB) GetRecent(ctx context.Context, limit int) ([]model.PriceUpdateEvent, error) {
	var events []model.PriceUpdateEvent
	err := p.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("查询调价记录失败: %w", err)
	}
	return events, nil
}

// GetByListing 单个广告的调价记录，按时间倒序
func (p *PriceUpdateDB) GetByListing(ctx context.Context, listingID string, limit int) ([]model.PriceUpdateEvent, error) {
	var events []model.PriceUpdateEvent
	err := p.db.WithContext(ctx).
		Where("listing_id = ?", listingID).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("查询广告调价记录失败: %w", err)
	}
	return events, nil
}

// DeleteOldData 删除 days 天之前的记录
func (p *PriceUpdateDB) DeleteOldData(ctx context.Context, days int) (int64, error) {
	cutoffTime := time.Now().AddDate(0, 0, -days)
	res := p.db.WithContext(ctx).Where("created_at < ?", cutoffTime).Delete(&model.PriceUpdateEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("清理调价记录失败: %w", res.Error)
	}
	return res.RowsAffected, nil
}
