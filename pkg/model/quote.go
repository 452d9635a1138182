package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction 交易方向
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// ParseDirection 解析交易方向，大小写不敏感
func ParseDirection(s string) (Direction, bool) {
	switch Direction(strings.ToUpper(strings.TrimSpace(s))) {
	case DirectionBuy:
		return DirectionBuy, true
	case DirectionSell:
		return DirectionSell, true
	}
	return "", false
}

// Quote 订单簿中的一条报价（归一化后不可变）
type Quote struct {
	AdvertID            string          `json:"advert_id"`
	AdvertiserID        string          `json:"advertiser_id"`
	AdvertiserNickname  string          `json:"advertiser_nickname"`
	Price               decimal.Decimal `json:"price"`
	AvailableAmount     decimal.Decimal `json:"available_amount"`
	MinLimit            decimal.Decimal `json:"min_limit"`
	MaxLimit            decimal.Decimal `json:"max_limit"`
	CompletedOrderCount int             `json:"completed_order_count"`
	CompletionRate      float64         `json:"completion_rate"` // 百分比 0-100
	ObservedAt          time.Time       `json:"observed_at"`
}

// FeatureCount 异常检测特征维度
const FeatureCount = 6

// Features 异常检测使用的特征向量
// 顺序: price, availableAmount, minLimit, maxLimit, completedOrderCount, completionRate
func (q Quote) Features() []float64 {
	return []float64{
		q.Price.InexactFloat64(),
		q.AvailableAmount.InexactFloat64(),
		q.MinLimit.InexactFloat64(),
		q.MaxLimit.InexactFloat64(),
		float64(q.CompletedOrderCount),
		q.CompletionRate,
	}
}
