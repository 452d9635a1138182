package updater

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"PriceKeeper/pkg/apperr"
	"PriceKeeper/pkg/collector"
	"PriceKeeper/pkg/engine"
	"PriceKeeper/pkg/metrics"
	"PriceKeeper/pkg/model"
	"PriceKeeper/pkg/monitor"

	"github.com/shopspring/decimal"
)

// MinIntervalSeconds 最小调价间隔
const MinIntervalSeconds = 5

// Recorder 接收每次改价尝试
type Recorder interface {
	RecordPriceUpdate(ctx context.Context, event model.PriceUpdateEvent) error
}

// Options 控制器参数
type Options struct {
	AdjustmentPercent     float64
	FallbackMarginPercent float64
	ThresholdPercent      float64
	PricePrecision        int32
	PageSize              int
	RequestTimeout        time.Duration
	StopTimeout           time.Duration
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		AdjustmentPercent:     0.5,
		FallbackMarginPercent: 0.5,
		ThresholdPercent:      0.5,
		PricePrecision:        2,
		PageSize:              collector.DefaultPageSize,
		RequestTimeout:        10 * time.Second,
		StopTimeout:           5 * time.Second,
	}
}

// Controller 周期性调整自己的广告价格
type Controller struct {
	gateway   collector.QuoteGateway
	selector  *engine.PriceSelector
	opts      Options
	monitor   *monitor.Monitor
	recorders []Recorder

	mu       sync.Mutex
	running  bool
	interval int
	cancel   context.CancelFunc
	done     chan struct{}

	// tickMu 保证同一时刻只有一个 tick，nickname 受其保护
	tickMu   sync.Mutex
	nickname string
}

// NewController 创建控制器，mon 可为 nil
func NewController(gateway collector.QuoteGateway, selector *engine.PriceSelector, opts Options, mon *monitor.Monitor, recorders ...Recorder) *Controller {
	def := DefaultOptions()
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = def.RequestTimeout
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = def.StopTimeout
	}
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	if opts.PricePrecision < 0 {
		opts.PricePrecision = def.PricePrecision
	}
	if mon != nil {
		mon.RegisterComponent(monitor.ComponentGateway)
		mon.RegisterComponent(monitor.ComponentUpdater)
	}
	return &Controller{
		gateway:   gateway,
		selector:  selector,
		opts:      opts,
		monitor:   mon,
		recorders: recorders,
	}
}

// Start 启动调价循环，首个 tick 立即执行
func (c *Controller) Start(intervalSeconds int) error {
	if intervalSeconds < MinIntervalSeconds {
		return apperr.Validation("调价间隔不能小于 %d 秒: %d", MinIntervalSeconds, intervalSeconds)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		log.Println("警告: 调价器已在运行")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.running = true
	c.interval = intervalSeconds
	c.cancel = cancel
	c.done = done

	go c.run(ctx, time.Duration(intervalSeconds)*time.Second, done)
	log.Printf("调价器已启动, 间隔 %d 秒", intervalSeconds)
	return nil
}

// Stop 停止调价循环，最多等待 StopTimeout
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		log.Println("警告: 调价器未在运行")
		return
	}
	c.running = false
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	cancel()
	select {
	case <-done:
		log.Println("调价器已停止")
	case <-time.After(c.opts.StopTimeout):
		log.Printf("警告: 等待调价循环退出超时 (%s)", c.opts.StopTimeout)
	}
}

// Status 当前状态
func (c *Controller) Status() model.UpdaterStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.UpdaterStatus{Running: c.running, IntervalSeconds: c.interval}
}

func (c *Controller) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := c.tick(ctx); err != nil {
			log.Printf("调价周期失败: %v", err)
		}
		timer.Reset(interval)
	}
}

// RunOnce 同步执行一个调价周期
func (c *Controller) RunOnce(ctx context.Context) error {
	return c.tick(ctx)
}

func (c *Controller) tick(ctx context.Context) error {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	start := time.Now()
	defer func() {
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()

	listings, err := c.fetchListings(ctx)
	if err != nil {
		metrics.TicksTotal.WithLabelValues("failure").Inc()
		c.setStatus(monitor.ComponentGateway, monitor.StatusUnhealthy, err.Error())
		return fmt.Errorf("获取自己的广告失败: %w", err)
	}
	c.setStatus(monitor.ComponentGateway, monitor.StatusHealthy, "")

	self, err := c.resolveNickname(ctx)
	if err != nil {
		metrics.TicksTotal.WithLabelValues("failure").Inc()
		return err
	}

	online := 0
	for _, l := range listings {
		if ctx.Err() != nil {
			break
		}
		if !l.IsOnline() {
			metrics.ListingsSkippedTotal.WithLabelValues("offline").Inc()
			continue
		}
		online++
		if err := c.processListing(ctx, l, self); err != nil {
			log.Printf("处理广告 %s 失败: %v", l.ListingID, err)
		}
	}
	if online == 0 {
		log.Println("没有在线广告需要调价")
	}

	metrics.TicksTotal.WithLabelValues("success").Inc()
	c.setStatus(monitor.ComponentUpdater, monitor.StatusHealthy, "")
	return nil
}

func (c *Controller) fetchListings(ctx context.Context) ([]model.Listing, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	return c.gateway.FetchOwnListings(callCtx)
}

// resolveNickname 失败时沿用上次的昵称，从未获取过则跳过本周期
func (c *Controller) resolveNickname(ctx context.Context) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	name, err := c.gateway.FetchOwnNickname(callCtx)
	if err == nil && name != "" {
		c.nickname = name
		return name, nil
	}
	if c.nickname != "" {
		log.Printf("警告: 获取昵称失败, 沿用 %s: %v", c.nickname, err)
		return c.nickname, nil
	}
	return "", fmt.Errorf("获取昵称失败, 跳过本周期: %v", err)
}

func (c *Controller) processListing(ctx context.Context, l model.Listing, self string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if !l.Price.IsPositive() {
		metrics.ListingsSkippedTotal.WithLabelValues("invalid_price").Inc()
		return apperr.Data("广告 %s 当前价格非正: %s", l.ListingID, l.Price)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	quotes, err := c.gateway.FetchQuotes(callCtx, l.Asset, l.Currency, l.Direction, c.opts.PageSize)
	cancel()
	if err != nil {
		metrics.ListingsSkippedTotal.WithLabelValues("fetch_failed").Inc()
		return fmt.Errorf("获取报价失败: %w", err)
	}

	others := make([]model.Quote, 0, len(quotes))
	for _, q := range quotes {
		if q.AdvertiserNickname == self {
			continue
		}
		others = append(others, q)
	}

	target, source, ok := c.targetPrice(others, l.Direction)
	if !ok {
		metrics.ListingsSkippedTotal.WithLabelValues("no_quotes").Inc()
		log.Printf("广告 %s %s/%s %s 没有可用报价, 跳过", l.ListingID, l.Asset, l.Currency, l.Direction)
		return nil
	}
	target = target.Round(c.opts.PricePrecision)

	diff := target.Sub(l.Price).Abs().Div(l.Price).Mul(decimal.NewFromInt(100))
	if !diff.GreaterThan(decimal.NewFromFloat(c.opts.ThresholdPercent)) {
		metrics.ListingsSkippedTotal.WithLabelValues("below_threshold").Inc()
		log.Printf("广告 %s 价差 %s%% 未超过阈值, 保持 %s", l.ListingID, diff.StringFixed(2), l.Price)
		return nil
	}

	log.Printf("广告 %s 调价 %s -> %s (价差 %s%%, 来源 %s)", l.ListingID, l.Price, target, diff.StringFixed(2), source)
	callCtx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
	accepted, updErr := c.gateway.UpdateListingPrice(callCtx, l.ListingID, target)
	cancel()

	event := model.NewPriceUpdateEvent(l, target.String(), diff.InexactFloat64(), source)
	event.Success = updErr == nil && accepted
	result := "success"
	switch {
	case updErr != nil:
		event.Error = updErr.Error()
		result = "failure"
	case !accepted:
		event.Error = "rejected"
		result = "rejected"
	}
	metrics.PriceUpdatesTotal.WithLabelValues(string(l.Direction), string(source), result).Inc()
	c.record(ctx, event)

	if updErr != nil {
		return fmt.Errorf("改价失败: %w", updErr)
	}
	return nil
}

// targetPrice 先走过滤路径，没有结果时在未过滤报价上用固定幅度兜底
func (c *Controller) targetPrice(quotes []model.Quote, direction model.Direction) (decimal.Decimal, model.PriceSource, bool) {
	if price, ok := c.selector.SelectPrice(quotes, direction, c.opts.AdjustmentPercent); ok {
		return price, model.PriceSourceFiltered, true
	}
	base, ok := engine.BestPrice(quotes, direction)
	if !ok {
		return decimal.Zero, "", false
	}
	log.Printf("使用未过滤报价兜底, 基准 %s", base)
	return engine.AdjustPrice(base, direction, c.opts.FallbackMarginPercent), model.PriceSourceFallback, true
}

func (c *Controller) record(ctx context.Context, event model.PriceUpdateEvent) {
	for _, r := range c.recorders {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.RequestTimeout)
		if err := r.RecordPriceUpdate(callCtx, event); err != nil {
			log.Printf("警告: 记录改价事件失败: %v", err)
		}
		cancel()
	}
}

func (c *Controller) setStatus(component, status, message string) {
	if c.monitor != nil {
		c.monitor.UpdateStatus(component, status, message)
	}
}
