package collector

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"PriceKeeper/pkg/apperr"
	"PriceKeeper/pkg/model"
)

const ordersEndpoint = "/sapi/v1/c2c/orderMatch/listOrders"

const unknownField = "Unknown"

type rawOrder struct {
	AdvertiserNickname string    `json:"advertiserNickname"`
	TotalPrice         flexValue `json:"totalPrice"`
	Asset              string    `json:"asset"`
}

// FetchLeaderboard 统计最近 Days 天的成交订单，按交易额或单数排出前 30 名
func (g *BinanceGateway) FetchLeaderboard(ctx context.Context, query model.LeaderboardQuery) ([]model.TraderStats, error) {
	if query.SortBy != model.LeaderboardSortVolume && query.SortBy != model.LeaderboardSortOrders {
		return nil, apperr.Validation("sort_by 只能是 volume 或 orders: %q", query.SortBy)
	}
	if query.Days <= 0 {
		return nil, apperr.Validation("days 必须为正: %d", query.Days)
	}

	now := g.now()
	params := url.Values{}
	if query.Direction != "" {
		params.Set("tradeType", string(query.Direction))
	}
	params.Set("asset", query.Asset)
	params.Set("fiat", query.Fiat)
	params.Set("startTimestamp", strconv.FormatInt(now.AddDate(0, 0, -query.Days).UnixMilli(), 10))
	params.Set("endTimestamp", strconv.FormatInt(now.UnixMilli(), 10))

	resp, err := g.client.Execute(ctx, http.MethodGet, ordersEndpoint, params, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return nil, apperr.Data("订单列表没有返回数据")
	}
	var orders []rawOrder
	if err := json.Unmarshal(resp.Data, &orders); err != nil {
		return nil, apperr.Data("解析订单列表失败: %v", err)
	}

	board := buildLeaderboard(orders, query.SortBy, model.LeaderboardSize)
	log.Printf("统计 %d 条订单, 排行榜 %d 人", len(orders), len(board))
	return board, nil
}

// buildLeaderboard 按昵称汇总订单，交易额无法解析的订单被跳过
func buildLeaderboard(orders []rawOrder, sortBy string, limit int) []model.TraderStats {
	stats := make(map[string]*model.TraderStats)
	assets := make(map[string]map[string]struct{})
	var order []string

	for _, o := range orders {
		volume, err := o.TotalPrice.decimalOrZero("totalPrice")
		if err != nil {
			log.Printf("警告: 跳过订单: %v", err)
			continue
		}
		name := o.AdvertiserNickname
		if name == "" {
			name = unknownField
		}
		asset := o.Asset
		if asset == "" {
			asset = unknownField
		}

		s, ok := stats[name]
		if !ok {
			s = &model.TraderStats{Nickname: name}
			stats[name] = s
			assets[name] = make(map[string]struct{})
			order = append(order, name)
		}
		s.Volume = s.Volume.Add(volume)
		s.Orders++
		assets[name][asset] = struct{}{}
	}

	board := make([]model.TraderStats, 0, len(order))
	for _, name := range order {
		s := stats[name]
		for a := range assets[name] {
			s.Assets = append(s.Assets, a)
		}
		sort.Strings(s.Assets)
		board = append(board, *s)
	}

	sort.SliceStable(board, func(i, j int) bool {
		if sortBy == model.LeaderboardSortOrders {
			return board[i].Orders > board[j].Orders
		}
		return board[i].Volume.GreaterThan(board[j].Volume)
	})
	if len(board) > limit {
		board = board[:limit]
	}
	return board
}
