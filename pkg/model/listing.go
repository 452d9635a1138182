package model

import "github.com/shopspring/decimal"

// ListingStatus 广告状态
type ListingStatus string

const (
	ListingOnline  ListingStatus = "ONLINE"
	ListingOffline ListingStatus = "OFFLINE"
)

// Listing 交易者自己的在线广告
type Listing struct {
	ListingID string          `json:"listing_id"`
	Asset     string          `json:"asset"`
	Currency  string          `json:"currency"`
	Direction Direction       `json:"direction"`
	Price     decimal.Decimal `json:"price"`
	Status    ListingStatus   `json:"status"`
}

// IsOnline 只有在线广告受控制器管理
func (l Listing) IsOnline() bool {
	return l.Status == ListingOnline
}
