package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"PriceKeeper/pkg/apperr"
	"PriceKeeper/pkg/collector"
	"PriceKeeper/pkg/engine"
	"PriceKeeper/pkg/model"
	"PriceKeeper/pkg/monitor"

	"github.com/gin-gonic/gin"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// UpdaterControl 调价器控制
type UpdaterControl interface {
	Start(intervalSeconds int) error
	Stop()
	Status() model.UpdaterStatus
}

// AuditReader 调价记录查询
type AuditReader interface {
	GetRecent(ctx context.Context, limit int) ([]model.PriceUpdateEvent, error)
	GetByListing(ctx context.Context, listingID string, limit int) ([]model.PriceUpdateEvent, error)
}

// LeaderboardSource 成交排行榜
type LeaderboardSource interface {
	FetchLeaderboard(ctx context.Context, query model.LeaderboardQuery) ([]model.TraderStats, error)
}

// Handlers API处理程序
type Handlers struct {
	updater         UpdaterControl
	filter          *engine.QualityFilter
	gateway         collector.QuoteGateway
	monitor         *monitor.Monitor
	audit           AuditReader
	leaderboard     LeaderboardSource
	defaultInterval int
	requestTimeout  time.Duration
	pageSize        int
}

// HandlerDeps 处理程序依赖，Audit 为 nil 表示未启用数据库
type HandlerDeps struct {
	Updater         UpdaterControl
	Filter          *engine.QualityFilter
	Gateway         collector.QuoteGateway
	Monitor         *monitor.Monitor
	Audit           AuditReader
	Leaderboard     LeaderboardSource
	DefaultInterval int
	RequestTimeout  time.Duration
	PageSize        int
}

// NewHandlers 创建新的API处理程序
func NewHandlers(deps HandlerDeps) *Handlers {
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 10 * time.Second
	}
	if deps.PageSize <= 0 {
		deps.PageSize = collector.DefaultPageSize
	}
	return &Handlers{
		updater:         deps.Updater,
		filter:          deps.Filter,
		gateway:         deps.Gateway,
		monitor:         deps.Monitor,
		audit:           deps.Audit,
		leaderboard:     deps.Leaderboard,
		defaultInterval: deps.DefaultInterval,
		requestTimeout:  deps.RequestTimeout,
		pageSize:        deps.PageSize,
	}
}

func errorJSON(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

// HealthCheck 健康检查处理程序
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// GetStatus 组件状态汇总
func (h *Handlers) GetStatus(c *gin.Context) {
	resp := gin.H{"updater": h.updater.Status()}
	if h.monitor != nil {
		resp["status"] = h.monitor.Overall()
		resp["components"] = h.monitor.GetAllStatus()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) GetUpdaterStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.updater.Status())
}

// StartRequest 启动请求，interval 省略时使用配置值
type StartRequest struct {
	Interval *int `json:"interval"`
}

// StartUpdater 启动调价器
func (h *Handlers) StartUpdater(c *gin.Context) {
	var req StartRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errorJSON(c, http.StatusBadRequest, "无效的请求参数: "+err.Error())
			return
		}
	}
	interval := h.defaultInterval
	if req.Interval != nil {
		interval = *req.Interval
	}
	if err := h.updater.Start(interval); err != nil {
		if apperr.IsValidation(err) {
			errorJSON(c, http.StatusBadRequest, err.Error())
			return
		}
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, h.updater.Status())
}

// StopUpdater 停止调价器
func (h *Handlers) StopUpdater(c *gin.Context) {
	h.updater.Stop()
	c.JSON(http.StatusOK, h.updater.Status())
}

// filtersResponse JSON 无法表示 +Inf，上限不生效时为 null
type filtersResponse struct {
	MinLimit          float64  `json:"min_limit"`
	MaxLimit          *float64 `json:"max_limit"`
	MinAvailable      float64  `json:"min_available"`
	MinCompletionRate float64  `json:"min_completion_rate"`
	MinOrderCount     int      `json:"min_order_count"`
}

func toFiltersResponse(f model.FilterConfig) filtersResponse {
	resp := filtersResponse{
		MinLimit:          f.MinLimit,
		MinAvailable:      f.MinAvailable,
		MinCompletionRate: f.MinCompletionRate,
		MinOrderCount:     f.MinOrderCount,
	}
	if f.HasMaxLimit() {
		v := f.MaxLimit
		resp.MaxLimit = &v
	}
	return resp
}

func (h *Handlers) GetFilters(c *gin.Context) {
	c.JSON(http.StatusOK, toFiltersResponse(h.filter.CurrentFilters()))
}

// SetFilters 部分更新阈值
func (h *Handlers) SetFilters(c *gin.Context) {
	var patch model.FilterPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		errorJSON(c, http.StatusBadRequest, "无效的请求参数: "+err.Error())
		return
	}
	if err := h.filter.SetFilters(patch); err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, toFiltersResponse(h.filter.CurrentFilters()))
}

func (h *Handlers) GetRestrictions(c *gin.Context) {
	r := h.filter.CurrentRestrictions()
	c.JSON(http.StatusOK, gin.H{
		"banned_advertisers": r.BannedAdvertisers,
		"banned_listings":    r.BannedListings,
		"suspected_bots":     h.filter.SuspectedBots(),
	})
}

type advertiserRequest struct {
	AdvertiserID string `json:"advertiser_id" binding:"required"`
}

type listingRequest struct {
	AdID string `json:"ad_id" binding:"required"`
}

func (h *Handlers) BanAdvertiser(c *gin.Context) {
	var req advertiserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "advertiser_id 不能为空")
		return
	}
	h.filter.BanAdvertiser(req.AdvertiserID)
	c.JSON(http.StatusOK, gin.H{"status": "success", "advertiser_id": req.AdvertiserID})
}

func (h *Handlers) UnbanAdvertiser(c *gin.Context) {
	var req advertiserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "advertiser_id 不能为空")
		return
	}
	h.filter.UnbanAdvertiser(req.AdvertiserID)
	c.JSON(http.StatusOK, gin.H{"status": "success", "advertiser_id": req.AdvertiserID})
}

func (h *Handlers) BanListing(c *gin.Context) {
	var req listingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "ad_id 不能为空")
		return
	}
	h.filter.BanListing(req.AdID)
	c.JSON(http.StatusOK, gin.H{"status": "success", "ad_id": req.AdID})
}

func (h *Handlers) UnbanListing(c *gin.Context) {
	var req listingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "ad_id 不能为空")
		return
	}
	h.filter.UnbanListing(req.AdID)
	c.JSON(http.StatusOK, gin.H{"status": "success", "ad_id": req.AdID})
}

// ClearSuspectedBot 清除误判的疑似机器人
func (h *Handlers) ClearSuspectedBot(c *gin.Context) {
	id := c.Param("id")
	if !h.filter.ClearSuspectedBot(id) {
		errorJSON(c, http.StatusNotFound, "该广告主未被标记")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "advertiser_id": id})
}

func (h *Handlers) GetModel(c *gin.Context) {
	c.JSON(http.StatusOK, h.filter.ModelInfo())
}

type topPrice struct {
	Price    string `json:"price"`
	Nickname string `json:"nickname"`
}

// GetTopPrice 订单簿最优价（未过滤）
// trade_type 省略时同时返回 BUY 和 SELL
func (h *Handlers) GetTopPrice(c *gin.Context) {
	asset := c.DefaultQuery("asset", "USDT")
	fiat := c.DefaultQuery("fiat", "TZS")

	directions := []model.Direction{model.DirectionBuy, model.DirectionSell}
	if s := c.Query("trade_type"); s != "" {
		d, ok := model.ParseDirection(s)
		if !ok {
			errorJSON(c, http.StatusBadRequest, "trade_type 只能是 BUY 或 SELL")
			return
		}
		directions = []model.Direction{d}
	}

	result := gin.H{"asset": asset, "fiat": fiat}
	for _, d := range directions {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.requestTimeout)
		quotes, err := h.gateway.FetchQuotes(ctx, asset, fiat, d, h.pageSize)
		cancel()
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, apperr.ErrTransport) {
				status = http.StatusBadGateway
			}
			errorJSON(c, status, "获取报价失败: "+err.Error())
			return
		}
		result[lowerDirection(d)] = bestQuote(quotes, d)
	}
	c.JSON(http.StatusOK, result)
}

func lowerDirection(d model.Direction) string {
	if d == model.DirectionBuy {
		return "buy"
	}
	return "sell"
}

func bestQuote(quotes []model.Quote, d model.Direction) *topPrice {
	best, ok := engine.BestPrice(quotes, d)
	if !ok {
		return nil
	}
	for _, q := range quotes {
		if q.Price.Equal(best) {
			return &topPrice{Price: best.String(), Nickname: q.AdvertiserNickname}
		}
	}
	return nil
}

// GetLeaderboard 最近 days 天的成交排行
func (h *Handlers) GetLeaderboard(c *gin.Context) {
	if h.leaderboard == nil {
		errorJSON(c, http.StatusServiceUnavailable, "排行榜未启用")
		return
	}
	query := model.LeaderboardQuery{
		Asset:  c.DefaultQuery("asset", "USDT"),
		Fiat:   c.DefaultQuery("fiat", "TZS"),
		SortBy: strings.ToLower(c.DefaultQuery("sort_by", model.LeaderboardSortVolume)),
		Days:   30,
	}
	if query.SortBy != model.LeaderboardSortVolume && query.SortBy != model.LeaderboardSortOrders {
		errorJSON(c, http.StatusBadRequest, "sort_by 只能是 volume 或 orders")
		return
	}
	if s := c.Query("trade_type"); s != "" {
		d, ok := model.ParseDirection(s)
		if !ok {
			errorJSON(c, http.StatusBadRequest, "trade_type 只能是 BUY 或 SELL")
			return
		}
		query.Direction = d
	}
	if s := c.Query("days"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			errorJSON(c, http.StatusBadRequest, "days 必须为正整数")
			return
		}
		query.Days = v
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.requestTimeout)
	defer cancel()
	traders, err := h.leaderboard.FetchLeaderboard(ctx, query)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, apperr.ErrTransport) {
			status = http.StatusBadGateway
		}
		errorJSON(c, status, "获取排行榜失败: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sort_by": query.SortBy,
		"days":    query.Days,
		"count":   len(traders),
		"traders": traders,
	})
}

// GetUpdateHistory 调价记录，listing_id 可选
func (h *Handlers) GetUpdateHistory(c *gin.Context) {
	if h.audit == nil {
		errorJSON(c, http.StatusServiceUnavailable, "数据库未启用")
		return
	}
	limit := defaultHistoryLimit
	if s := c.Query("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			errorJSON(c, http.StatusBadRequest, "limit 必须为正整数")
			return
		}
		limit = v
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	var events []model.PriceUpdateEvent
	var err error
	if listingID := c.Query("listing_id"); listingID != "" {
		events, err = h.audit.GetByListing(c.Request.Context(), listingID, limit)
	} else {
		events, err = h.audit.GetRecent(c.Request.Context(), limit)
	}
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, "获取调价记录失败: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": events})
}
