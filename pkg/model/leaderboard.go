package model

import "github.com/shopspring/decimal"

// 排行榜排序字段
const (
	LeaderboardSortVolume = "volume"
	LeaderboardSortOrders = "orders"

	LeaderboardSize = 30
)

// LeaderboardQuery 排行榜查询条件，Direction 为空表示买卖双向
type LeaderboardQuery struct {
	Asset     string
	Fiat      string
	Direction Direction
	Days      int
	SortBy    string
}

// TraderStats 单个交易者在统计区间内的成交汇总
type TraderStats struct {
	Nickname string          `json:"nickname"`
	Volume   decimal.Decimal `json:"volume"`
	Orders   int             `json:"orders"`
	Assets   []string        `json:"assets"`
}
