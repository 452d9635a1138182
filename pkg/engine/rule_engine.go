package engine

import (
	"PriceKeeper/pkg/model"
)

// passesThresholds 全部阈值均为闭区间，逻辑与
// 注意 max_limit 要求报价上限不超过配置值，与 min_limit 方向不对称
func passesThresholds(q model.Quote, f model.FilterConfig) bool {
	if q.MinLimit.InexactFloat64() < f.MinLimit {
		return false
	}
	if f.HasMaxLimit() && q.MaxLimit.InexactFloat64() > f.MaxLimit {
		return false
	}
	if q.AvailableAmount.InexactFloat64() < f.MinAvailable {
		return false
	}
	if q.CompletionRate < f.MinCompletionRate {
		return false
	}
	if q.CompletedOrderCount < f.MinOrderCount {
		return false
	}
	return true
}

// applyRules 规则过滤：黑名单、疑似机器人和数值阈值
// 从不报错，输出为输入的子集且保持顺序
func (f *QualityFilter) applyRules(quotes []model.Quote) []model.Quote {
	out := make([]model.Quote, 0, len(quotes))
	f.store.View(func(filters model.FilterConfig, excluded func(advertiserID, advertID string) bool) {
		for _, q := range quotes {
			if excluded(q.AdvertiserID, q.AdvertID) {
				continue
			}
			if !passesThresholds(q, filters) {
				continue
			}
			out = append(out, q)
		}
	})
	return out
}
