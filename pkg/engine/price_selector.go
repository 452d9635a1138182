package engine

import (
	"log"

	"PriceKeeper/pkg/model"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PriceSelector 从可信报价中计算有竞争力的价格
type PriceSelector struct {
	filter *QualityFilter
}

// NewPriceSelector 创建价格选择器
func NewPriceSelector(filter *QualityFilter) *PriceSelector {
	return &PriceSelector{filter: filter}
}

// SelectPrice 过滤后取最优价并按方向调整
// 没有可用报价时返回 false，不会报错
func (s *PriceSelector) SelectPrice(quotes []model.Quote, direction model.Direction, adjustmentPercent float64) (decimal.Decimal, bool) {
	filtered := s.filter.ProcessQuotes(quotes)
	if len(filtered) == 0 {
		log.Println("警告: 过滤后没有有效报价")
		return decimal.Zero, false
	}

	base, ok := BestPrice(filtered, direction)
	if !ok {
		return decimal.Zero, false
	}
	price := AdjustPrice(base, direction, adjustmentPercent)
	log.Printf("计算 %s 最优价格: %s (基准: %s, 调整: %v%%)", direction, price.StringFixed(2), base.StringFixed(2), adjustmentPercent)
	return price, true
}

// BestPrice BUY 取最低价，SELL 取最高价，忽略非正价格
func BestPrice(quotes []model.Quote, direction model.Direction) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	for _, q := range quotes {
		if !q.Price.IsPositive() {
			continue
		}
		if !found {
			best, found = q.Price, true
			continue
		}
		if direction == model.DirectionBuy && q.Price.LessThan(best) {
			best = q.Price
		}
		if direction == model.DirectionSell && q.Price.GreaterThan(best) {
			best = q.Price
		}
	}
	return best, found
}

// AdjustPrice BUY 下调、SELL 上调 percent%
func AdjustPrice(base decimal.Decimal, direction model.Direction, percent float64) decimal.Decimal {
	delta := decimal.NewFromFloat(percent).Div(hundred)
	if direction == model.DirectionBuy {
		return base.Mul(decimal.NewFromInt(1).Sub(delta))
	}
	return base.Mul(decimal.NewFromInt(1).Add(delta))
}
