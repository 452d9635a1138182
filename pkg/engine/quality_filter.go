package engine

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"PriceKeeper/pkg/apperr"
	"PriceKeeper/pkg/metrics"
	"PriceKeeper/pkg/model"
	"PriceKeeper/pkg/repository"
)

// FilterOptions 训练参数
type FilterOptions struct {
	MinDataPoints    int
	TrainingInterval time.Duration
	Trees            int
	Seed             int64
}

// DefaultFilterOptions 默认每24小时最多训练一次
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{
		MinDataPoints:    10,
		TrainingInterval: 24 * time.Hour,
		Trees:            defaultTrees,
		Seed:             42,
	}
}

// ModelInfo 模型状态
type ModelInfo struct {
	Trained     bool      `json:"trained"`
	TrainedAt   time.Time `json:"trained_at,omitempty"`
	Samples     int       `json:"samples"`
	HistorySize int       `json:"history_size"`
}

// QualityFilter 报价质量过滤：规则过滤 + 异常检测
type QualityFilter struct {
	store      *repository.RestrictionStore
	modelStore ModelStore
	opts       FilterOptions

	model atomic.Pointer[AnomalyModel]

	histMu  sync.Mutex
	history []model.Quote

	// trainMu 保证同一时刻只有一次训练
	trainMu     sync.Mutex
	lastTrained time.Time

	onFlagged func(ids []string)
	now       func() time.Time
}

// NewQualityFilter 创建过滤器，存储中已有模型时直接加载
func NewQualityFilter(store *repository.RestrictionStore, modelStore ModelStore, opts FilterOptions) *QualityFilter {
	if opts.MinDataPoints <= 0 {
		opts.MinDataPoints = DefaultFilterOptions().MinDataPoints
	}
	if opts.TrainingInterval <= 0 {
		opts.TrainingInterval = DefaultFilterOptions().TrainingInterval
	}
	f := &QualityFilter{
		store:      store,
		modelStore: modelStore,
		opts:       opts,
		now:        time.Now,
	}
	f.loadModel()
	return f
}

// OnBotsFlagged 注册新标记疑似机器人时的回调
func (f *QualityFilter) OnBotsFlagged(fn func(ids []string)) {
	f.onFlagged = fn
}

func (f *QualityFilter) loadModel() {
	if f.modelStore == nil {
		return
	}
	data, err := f.modelStore.LoadModel()
	if err != nil {
		if !errors.Is(err, ErrModelNotFound) {
			log.Printf("加载异常检测模型失败: %v", err)
		}
		return
	}
	m, err := UnmarshalAnomalyModel(data)
	if err != nil {
		log.Printf("加载异常检测模型失败: %v", err)
		return
	}
	f.model.Store(m)
	f.lastTrained = m.TrainedAt
	log.Printf("已加载异常检测模型, 训练时间 %s, 样本数 %d", m.TrainedAt.Format(time.RFC3339), m.Samples)
}

// ProcessQuotes 过滤报价
// 副作用: 记录历史、可能触发训练、可能新增疑似机器人
func (f *QualityFilter) ProcessQuotes(batch []model.Quote) []model.Quote {
	if len(batch) == 0 {
		return []model.Quote{}
	}

	f.histMu.Lock()
	f.history = append(f.history, batch...)
	f.histMu.Unlock()

	f.maybeTrain()

	filtered := f.applyRules(batch)
	if removed := len(batch) - len(filtered); removed > 0 {
		metrics.QuotesFilteredTotal.WithLabelValues("rules").Add(float64(removed))
	}

	if m := f.model.Load(); m != nil && len(filtered) > 0 {
		before := len(filtered)
		filtered = f.applyAnomaly(m, filtered)
		if removed := before - len(filtered); removed > 0 {
			metrics.QuotesFilteredTotal.WithLabelValues("anomaly").Add(float64(removed))
		}
	}

	log.Printf("处理 %d 条报价, 过滤后剩余 %d 条", len(batch), len(filtered))
	return filtered
}

// applyAnomaly 分类失败时原样返回输入
func (f *QualityFilter) applyAnomaly(m *AnomalyModel, quotes []model.Quote) []model.Quote {
	rows := make([][]float64, len(quotes))
	for i, q := range quotes {
		rows[i] = q.Features()
	}
	outliers, err := m.Classify(rows)
	if err != nil {
		log.Printf("异常检测失败, 跳过该阶段: %v", err)
		return quotes
	}

	kept := make([]model.Quote, 0, len(quotes))
	var flagged []string
	for i, q := range quotes {
		if outliers[i] {
			flagged = append(flagged, q.AdvertiserID)
			continue
		}
		kept = append(kept, q)
	}
	if len(flagged) > 0 {
		added := f.store.FlagSuspectedBots(flagged)
		if len(added) > 0 {
			log.Printf("新增 %d 个疑似机器人广告主", len(added))
			metrics.SuspectedBots.Set(float64(len(f.store.SuspectedBots())))
			if f.onFlagged != nil {
				f.onFlagged(added)
			}
		}
	}
	return kept
}

// maybeTrain 历史足够且距上次训练超过间隔时训练
// 已有训练在进行时直接跳过
func (f *QualityFilter) maybeTrain() {
	if !f.trainMu.TryLock() {
		return
	}
	defer f.trainMu.Unlock()

	f.histMu.Lock()
	size := len(f.history)
	f.histMu.Unlock()
	if size < f.opts.MinDataPoints {
		return
	}
	now := f.now()
	if !f.lastTrained.IsZero() && now.Sub(f.lastTrained) <= f.opts.TrainingInterval {
		return
	}

	// 失败也记录尝试时间，避免每次调用都在退化数据上重训
	f.lastTrained = now
	if err := f.train(); err != nil {
		metrics.ModelTrainingsTotal.WithLabelValues("failure").Inc()
		log.Printf("训练异常检测模型失败, 保留旧模型: %v", err)
		return
	}
	metrics.ModelTrainingsTotal.WithLabelValues("success").Inc()
}

// train 在全部历史上重新训练并原子替换模型
func (f *QualityFilter) train() error {
	f.histMu.Lock()
	rows := make([][]float64, len(f.history))
	for i, q := range f.history {
		rows[i] = q.Features()
	}
	f.histMu.Unlock()

	if len(rows) < f.opts.MinDataPoints {
		return apperr.Model("样本数 %d 少于 %d", len(rows), f.opts.MinDataPoints)
	}
	log.Printf("开始训练异常检测模型, 样本数 %d", len(rows))

	m, err := TrainAnomalyModel(rows, f.opts.Trees, f.opts.Seed)
	if err != nil {
		return err
	}
	m.TrainedAt = f.now().UTC()
	f.model.Store(m)

	if f.modelStore != nil {
		data, err := m.Marshal()
		if err == nil {
			err = f.modelStore.SaveModel(data)
		}
		if err != nil {
			log.Printf("警告: 保存异常检测模型失败: %v", err)
		}
	}
	log.Println("异常检测模型训练完成")
	return nil
}

// SetFilters 部分更新过滤阈值
func (f *QualityFilter) SetFilters(patch model.FilterPatch) error {
	return f.store.SetFilters(patch)
}

// CurrentFilters 当前阈值快照
func (f *QualityFilter) CurrentFilters() model.FilterConfig {
	return f.store.Filters()
}

func (f *QualityFilter) BanAdvertiser(id string)   { f.store.BanAdvertiser(id) }
func (f *QualityFilter) UnbanAdvertiser(id string) { f.store.UnbanAdvertiser(id) }
func (f *QualityFilter) BanListing(id string)      { f.store.BanListing(id) }
func (f *QualityFilter) UnbanListing(id string)    { f.store.UnbanListing(id) }

// CurrentRestrictions 黑名单快照
func (f *QualityFilter) CurrentRestrictions() model.Restrictions {
	return f.store.Snapshot()
}

// SuspectedBots 疑似机器人快照
func (f *QualityFilter) SuspectedBots() []string {
	return f.store.SuspectedBots()
}

// ClearSuspectedBot 清除误判
func (f *QualityFilter) ClearSuspectedBot(id string) bool {
	ok := f.store.ClearSuspectedBot(id)
	if ok {
		metrics.SuspectedBots.Set(float64(len(f.store.SuspectedBots())))
	}
	return ok
}

// ModelInfo 模型状态
func (f *QualityFilter) ModelInfo() ModelInfo {
	f.histMu.Lock()
	size := len(f.history)
	f.histMu.Unlock()

	info := ModelInfo{HistorySize: size}
	if m := f.model.Load(); m != nil {
		info.Trained = true
		info.TrainedAt = m.TrainedAt
		info.Samples = m.Samples
	}
	return info
}
