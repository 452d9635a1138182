package model

import "math"

// FilterConfig 报价规则过滤阈值
type FilterConfig struct {
	MinLimit          float64 `json:"min_limit"`
	MaxLimit          float64 `json:"max_limit"` // +Inf 表示不限制
	MinAvailable      float64 `json:"min_available"`
	MinCompletionRate float64 `json:"min_completion_rate"`
	MinOrderCount     int     `json:"min_order_count"`
}

// DefaultFilterConfig 默认不过滤任何报价
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MaxLimit: math.Inf(1),
	}
}

// HasMaxLimit 上限是否生效
func (f FilterConfig) HasMaxLimit() bool {
	return !math.IsInf(f.MaxLimit, 1)
}

// FilterPatch 部分更新，nil 字段保持原值
// MaxLimitUnbounded 为 true 时取消上限，不能与 MaxLimit 同时设置
type FilterPatch struct {
	MinLimit          *float64 `json:"min_limit,omitempty"`
	MaxLimit          *float64 `json:"max_limit,omitempty"`
	MaxLimitUnbounded bool     `json:"max_limit_unbounded,omitempty"`
	MinAvailable      *float64 `json:"min_available,omitempty"`
	MinCompletionRate *float64 `json:"min_completion_rate,omitempty"`
	MinOrderCount     *int     `json:"min_order_count,omitempty"`
}

// IsEmpty 没有任何字段
func (p FilterPatch) IsEmpty() bool {
	return p.MinLimit == nil && p.MaxLimit == nil && !p.MaxLimitUnbounded && p.MinAvailable == nil &&
		p.MinCompletionRate == nil && p.MinOrderCount == nil
}

// Apply 返回应用补丁后的新配置
func (p FilterPatch) Apply(f FilterConfig) FilterConfig {
	if p.MinLimit != nil {
		f.MinLimit = *p.MinLimit
	}
	if p.MaxLimit != nil {
		f.MaxLimit = *p.MaxLimit
	}
	if p.MaxLimitUnbounded {
		f.MaxLimit = math.Inf(1)
	}
	if p.MinAvailable != nil {
		f.MinAvailable = *p.MinAvailable
	}
	if p.MinCompletionRate != nil {
		f.MinCompletionRate = *p.MinCompletionRate
	}
	if p.MinOrderCount != nil {
		f.MinOrderCount = *p.MinOrderCount
	}
	return f
}

// Restrictions 黑名单快照
type Restrictions struct {
	BannedAdvertisers []string `json:"banned_advertisers"`
	BannedListings    []string `json:"banned_listings"`
}
