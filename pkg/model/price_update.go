package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PriceSource 目标价格来源
type PriceSource string

const (
	PriceSourceFiltered PriceSource = "filtered"
	PriceSourceFallback PriceSource = "fallback"
)

// PriceUpdateEvent 一次调价记录
type PriceUpdateEvent struct {
	ID          string      `gorm:"type:uuid;primaryKey" json:"id"`
	ListingID   string      `gorm:"type:varchar(64);not null;index" json:"listing_id"`
	Asset       string      `gorm:"type:varchar(20);index" json:"asset"`
	Currency    string      `gorm:"type:varchar(20);index" json:"currency"`
	Direction   Direction   `gorm:"type:varchar(10)" json:"direction"`
	OldPrice    string      `gorm:"type:varchar(40)" json:"old_price"`
	NewPrice    string      `gorm:"type:varchar(40)" json:"new_price"`
	DiffPercent float64     `gorm:"type:decimal(10,4)" json:"diff_percent"`
	Source      PriceSource `gorm:"type:varchar(20)" json:"source"`
	Success     bool        `gorm:"index" json:"success"`
	Error       string      `gorm:"type:text" json:"error,omitempty"`
	CreatedAt   time.Time   `gorm:"index:idx_price_updates_created_at" json:"created_at"`
}

func (e *PriceUpdateEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}

func (PriceUpdateEvent) TableName() string {
	return "price_updates"
}

// NewPriceUpdateEvent 生成带ID的调价记录
func NewPriceUpdateEvent(l Listing, newPrice string, diff float64, source PriceSource) PriceUpdateEvent {
	return PriceUpdateEvent{
		ID:          uuid.New().String(),
		ListingID:   l.ListingID,
		Asset:       l.Asset,
		Currency:    l.Currency,
		Direction:   l.Direction,
		OldPrice:    l.Price.String(),
		NewPrice:    newPrice,
		DiffPercent: diff,
		Source:      source,
		CreatedAt:   time.Now(),
	}
}

// BotFlagEvent 异常检测新标记的疑似机器人
type BotFlagEvent struct {
	AdvertiserIDs []string  `json:"advertiser_ids"`
	FlaggedAt     time.Time `json:"flagged_at"`
}

// UpdaterStatus 调价器状态
type UpdaterStatus struct {
	Running         bool `json:"running"`
	IntervalSeconds int  `json:"interval_seconds"`
}
