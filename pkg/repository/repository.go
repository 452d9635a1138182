package repository

import (
	"log"
	"math"
	"sort"
	"sync"

	"PriceKeeper/pkg/apperr"
	"PriceKeeper/pkg/model"
)

// RestrictionStore 黑名单与过滤阈值
// 运营封禁、广告黑名单和异常检测标记的疑似机器人共用一把锁
type RestrictionStore struct {
	bannedAdvertisers map[string]struct{}
	bannedListings    map[string]struct{}
	suspectedBots     map[string]struct{}
	filters           model.FilterConfig
	mutex             sync.RWMutex
}

// NewRestrictionStore 创建空的黑名单存储
func NewRestrictionStore() *RestrictionStore {
	return &RestrictionStore{
		bannedAdvertisers: make(map[string]struct{}),
		bannedListings:    make(map[string]struct{}),
		suspectedBots:     make(map[string]struct{}),
		filters:           model.DefaultFilterConfig(),
	}
}

// BanAdvertiser 封禁广告主
func (r *RestrictionStore) BanAdvertiser(id string) {
	if id == "" {
		return
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.bannedAdvertisers[id] = struct{}{}
	log.Printf("封禁广告主: %s", id)
}

// UnbanAdvertiser 解封广告主，不存在时忽略
func (r *RestrictionStore) UnbanAdvertiser(id string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.bannedAdvertisers[id]; !exists {
		return
	}
	delete(r.bannedAdvertisers, id)
	log.Printf("解封广告主: %s", id)
}

// BanListing 拉黑广告
func (r *RestrictionStore) BanListing(id string) {
	if id == "" {
		return
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.bannedListings[id] = struct{}{}
	log.Printf("拉黑广告: %s", id)
}

// UnbanListing 移出广告黑名单，不存在时忽略
func (r *RestrictionStore) UnbanListing(id string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.bannedListings[id]; !exists {
		return
	}
	delete(r.bannedListings, id)
	log.Printf("移出广告黑名单: %s", id)
}

// FlagSuspectedBots 标记疑似机器人，返回新增的ID
func (r *RestrictionStore) FlagSuspectedBots(ids []string) []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var added []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, exists := r.suspectedBots[id]; exists {
			continue
		}
		r.suspectedBots[id] = struct{}{}
		added = append(added, id)
	}
	return added
}

// ClearSuspectedBot 清除误判的疑似机器人标记
func (r *RestrictionStore) ClearSuspectedBot(id string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.suspectedBots[id]; !exists {
		return false
	}
	delete(r.suspectedBots, id)
	return true
}

// IsSuspectedBot 是否已被标记
func (r *RestrictionStore) IsSuspectedBot(id string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	_, exists := r.suspectedBots[id]
	return exists
}

// IsExcluded 任一集合命中即排除
func (r *RestrictionStore) IsExcluded(advertiserID, advertID string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.isExcludedLocked(advertiserID, advertID)
}

func (r *RestrictionStore) isExcludedLocked(advertiserID, advertID string) bool {
	if _, ok := r.bannedAdvertisers[advertiserID]; ok {
		return true
	}
	if _, ok := r.suspectedBots[advertiserID]; ok {
		return true
	}
	if advertID != "" {
		if _, ok := r.bannedListings[advertID]; ok {
			return true
		}
	}
	return false
}

// View 在同一读锁下同时读取阈值和黑名单
func (r *RestrictionStore) View(fn func(filters model.FilterConfig, excluded func(advertiserID, advertID string) bool)) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	fn(r.filters, r.isExcludedLocked)
}

// Filters 当前阈值快照
func (r *RestrictionStore) Filters() model.FilterConfig {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.filters
}

// SetFilters 部分更新阈值，省略的字段保持不变
func (r *RestrictionStore) SetFilters(patch model.FilterPatch) error {
	if err := validatePatch(patch); err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if patch.IsEmpty() {
		return nil
	}
	r.filters = patch.Apply(r.filters)
	if r.filters.HasMaxLimit() && r.filters.MaxLimit < r.filters.MinLimit {
		log.Printf("警告: 过滤上限 %.2f 小于下限 %.2f，所有报价都将被过滤", r.filters.MaxLimit, r.filters.MinLimit)
	}
	log.Printf("更新过滤阈值: min_limit=%v, max_limit=%v, min_available=%v, min_completion_rate=%v, min_order_count=%d",
		r.filters.MinLimit, r.filters.MaxLimit, r.filters.MinAvailable, r.filters.MinCompletionRate, r.filters.MinOrderCount)
	return nil
}

func validatePatch(p model.FilterPatch) error {
	check := func(name string, v *float64) error {
		if v == nil {
			return nil
		}
		if math.IsNaN(*v) || *v < 0 {
			return apperr.Validation("%s 必须为非负数", name)
		}
		return nil
	}
	if err := check("min_limit", p.MinLimit); err != nil {
		return err
	}
	if err := check("max_limit", p.MaxLimit); err != nil {
		return err
	}
	if p.MaxLimit != nil && p.MaxLimitUnbounded {
		return apperr.Validation("max_limit 与 max_limit_unbounded 不能同时设置")
	}
	if err := check("min_available", p.MinAvailable); err != nil {
		return err
	}
	if err := check("min_completion_rate", p.MinCompletionRate); err != nil {
		return err
	}
	if p.MinCompletionRate != nil && *p.MinCompletionRate > 100 {
		return apperr.Validation("min_completion_rate 不能超过 100")
	}
	if p.MinOrderCount != nil && *p.MinOrderCount < 0 {
		return apperr.Validation("min_order_count 必须为非负数")
	}
	return nil
}

// Snapshot 黑名单只读快照（不含疑似机器人）
func (r *RestrictionStore) Snapshot() model.Restrictions {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return model.Restrictions{
		BannedAdvertisers: sortedKeys(r.bannedAdvertisers),
		BannedListings:    sortedKeys(r.bannedListings),
	}
}

// SuspectedBots 疑似机器人快照
func (r *RestrictionStore) SuspectedBots() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return sortedKeys(r.suspectedBots)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
