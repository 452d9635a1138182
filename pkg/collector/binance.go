package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"PriceKeeper/pkg/apperr"
	"PriceKeeper/pkg/model"

	"github.com/shopspring/decimal"
)

const (
	searchEndpoint   = "/sapi/v1/c2c/ads/search"
	listAdsEndpoint  = "/sapi/v1/c2c/ads/list-user-ads"
	userInfoEndpoint = "/sapi/v1/c2c/user-info"
	updateEndpoint   = "/sapi/v1/c2c/ads/update"

	DefaultPageSize = 20
)

// BinanceGateway 币安 C2C 市场实现
type BinanceGateway struct {
	client *BinanceClient
	now    func() time.Time
}

// 确保实现了接口
var _ QuoteGateway = (*BinanceGateway)(nil)

// NewBinanceGateway 创建币安网关
func NewBinanceGateway(client *BinanceClient) *BinanceGateway {
	return &BinanceGateway{client: client, now: time.Now}
}

// flexValue 兼容字符串和数字两种写法的字段
type flexValue struct {
	raw     string
	present bool
}

func (v *flexValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v.raw = strings.TrimSpace(s)
		v.present = v.raw != ""
		return nil
	}
	v.raw = string(b)
	v.present = true
	return nil
}

// decimalOrZero 缺失为 0，存在但无法解析为错误
func (v flexValue) decimalOrZero(field string) (decimal.Decimal, error) {
	if !v.present {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v.raw)
	if err != nil {
		return decimal.Zero, apperr.Data("字段 %s 无法解析: %q", field, v.raw)
	}
	return d, nil
}

type rawAdvertiser struct {
	UserNo          string    `json:"userNo"`
	NickName        string    `json:"nickName"`
	MonthOrderCount flexValue `json:"monthOrderCount"`
	MonthFinishRate flexValue `json:"monthFinishRate"`
}

type rawAdv struct {
	AdvNo                string         `json:"advNo"`
	Price                flexValue      `json:"price"`
	SurplusAmount        flexValue      `json:"surplusAmount"`
	MinSingleTransAmount flexValue      `json:"minSingleTransAmount"`
	MaxSingleTransAmount flexValue      `json:"maxSingleTransAmount"`
	Advertiser           *rawAdvertiser `json:"advertiser"`
}

type rawAd struct {
	Adv        rawAdv         `json:"adv"`
	Advertiser *rawAdvertiser `json:"advertiser"`
}

type rawListing struct {
	AdvID     flexValue `json:"advId"`
	AdvNo     flexValue `json:"advNo"`
	Asset     string    `json:"asset"`
	Fiat      string    `json:"fiat"`
	TradeType string    `json:"tradeType"`
	Price     flexValue `json:"price"`
	Status    string    `json:"status"`
}

// normalizeAd 把市场原始记录转换成 Quote
func normalizeAd(ad rawAd, observedAt time.Time) (model.Quote, error) {
	adv := ad.Advertiser
	if adv == nil {
		adv = ad.Adv.Advertiser
	}
	if adv == nil || strings.TrimSpace(adv.UserNo) == "" {
		return model.Quote{}, apperr.Data("报价 %s 缺少广告主", ad.Adv.AdvNo)
	}
	if !ad.Adv.Price.present {
		return model.Quote{}, apperr.Data("报价 %s 缺少价格", ad.Adv.AdvNo)
	}
	price, err := decimal.NewFromString(ad.Adv.Price.raw)
	if err != nil {
		return model.Quote{}, apperr.Data("报价 %s 价格无法解析: %q", ad.Adv.AdvNo, ad.Adv.Price.raw)
	}
	if !price.IsPositive() {
		return model.Quote{}, apperr.Data("报价 %s 价格非正: %s", ad.Adv.AdvNo, price)
	}

	q := model.Quote{
		AdvertID:           ad.Adv.AdvNo,
		AdvertiserID:       strings.TrimSpace(adv.UserNo),
		AdvertiserNickname: adv.NickName,
		Price:              price,
		ObservedAt:         observedAt,
	}
	if q.AvailableAmount, err = ad.Adv.SurplusAmount.decimalOrZero("surplusAmount"); err != nil {
		return model.Quote{}, err
	}
	if q.MinLimit, err = ad.Adv.MinSingleTransAmount.decimalOrZero("minSingleTransAmount"); err != nil {
		return model.Quote{}, err
	}
	if q.MaxLimit, err = ad.Adv.MaxSingleTransAmount.decimalOrZero("maxSingleTransAmount"); err != nil {
		return model.Quote{}, err
	}
	orders, err := adv.MonthOrderCount.decimalOrZero("monthOrderCount")
	if err != nil {
		return model.Quote{}, err
	}
	q.CompletedOrderCount = int(orders.IntPart())
	rate, err := adv.MonthFinishRate.decimalOrZero("monthFinishRate")
	if err != nil {
		return model.Quote{}, err
	}
	// 市场返回 0-1 的比例
	q.CompletionRate = rate.Mul(decimal.NewFromInt(100)).InexactFloat64()
	return q, nil
}

// normalizeListing 把自己的广告转换成 Listing
func normalizeListing(raw rawListing) (model.Listing, error) {
	id := raw.AdvID.raw
	if !raw.AdvID.present {
		id = raw.AdvNo.raw
	}
	if id == "" {
		return model.Listing{}, apperr.Data("广告缺少编号")
	}
	direction, ok := model.ParseDirection(raw.TradeType)
	if !ok {
		return model.Listing{}, apperr.Data("广告 %s 交易方向非法: %q", id, raw.TradeType)
	}
	if raw.Asset == "" || raw.Fiat == "" {
		return model.Listing{}, apperr.Data("广告 %s 缺少币种", id)
	}
	if !raw.Price.present {
		return model.Listing{}, apperr.Data("广告 %s 缺少价格", id)
	}
	price, err := decimal.NewFromString(raw.Price.raw)
	if err != nil {
		return model.Listing{}, apperr.Data("广告 %s 价格无法解析: %q", id, raw.Price.raw)
	}
	return model.Listing{
		ListingID: id,
		Asset:     raw.Asset,
		Currency:  raw.Fiat,
		Direction: direction,
		Price:     price,
		Status:    model.ListingStatus(strings.ToUpper(strings.TrimSpace(raw.Status))),
	}, nil
}

// FetchQuotes 获取订单簿报价，格式错误的记录被丢弃
func (g *BinanceGateway) FetchQuotes(ctx context.Context, asset, currency string, direction model.Direction, pageSize int) ([]model.Quote, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	body := map[string]interface{}{
		"asset":     asset,
		"fiat":      currency,
		"tradeType": string(direction),
		"rows":      pageSize,
		"page":      1,
	}
	resp, err := g.client.Execute(ctx, http.MethodPost, searchEndpoint, nil, body)
	if err != nil {
		return nil, err
	}

	var ads []rawAd
	if len(resp.Data) > 0 && string(resp.Data) != "null" {
		if err := json.Unmarshal(resp.Data, &ads); err != nil {
			return nil, apperr.Data("解析报价列表失败: %v", err)
		}
	}

	observedAt := g.now().UTC()
	quotes := make([]model.Quote, 0, len(ads))
	for _, ad := range ads {
		q, err := normalizeAd(ad, observedAt)
		if err != nil {
			log.Printf("警告: 丢弃报价: %v", err)
			continue
		}
		quotes = append(quotes, q)
	}
	log.Printf("获取 %s/%s %s 报价 %d 条, 有效 %d 条", asset, currency, direction, len(ads), len(quotes))
	return quotes, nil
}

// FetchOwnListings 获取自己的广告
func (g *BinanceGateway) FetchOwnListings(ctx context.Context) ([]model.Listing, error) {
	resp, err := g.client.Execute(ctx, http.MethodGet, listAdsEndpoint, nil, nil)
	if err != nil {
		return nil, err
	}
	var raws []rawListing
	if len(resp.Data) > 0 && string(resp.Data) != "null" {
		if err := json.Unmarshal(resp.Data, &raws); err != nil {
			return nil, apperr.Data("解析广告列表失败: %v", err)
		}
	}
	listings := make([]model.Listing, 0, len(raws))
	for _, raw := range raws {
		l, err := normalizeListing(raw)
		if err != nil {
			log.Printf("警告: 跳过广告: %v", err)
			continue
		}
		listings = append(listings, l)
	}
	return listings, nil
}

// FetchOwnNickname 获取自己的昵称
func (g *BinanceGateway) FetchOwnNickname(ctx context.Context) (string, error) {
	resp, err := g.client.Execute(ctx, http.MethodGet, userInfoEndpoint, nil, nil)
	if err != nil {
		return "", err
	}
	var info struct {
		NickName string `json:"nickName"`
	}
	if err := json.Unmarshal(resp.Data, &info); err != nil {
		return "", apperr.Data("解析用户信息失败: %v", err)
	}
	if info.NickName == "" {
		return "", apperr.Data("用户信息缺少昵称")
	}
	return info.NickName, nil
}

// UpdateListingPrice 修改广告价格
func (g *BinanceGateway) UpdateListingPrice(ctx context.Context, listingID string, price decimal.Decimal) (bool, error) {
	params := url.Values{}
	params.Set("advertiseId", listingID)
	params.Set("price", price.String())
	resp, err := g.client.Execute(ctx, http.MethodPost, updateEndpoint, params, nil)
	if err != nil {
		return false, err
	}
	if resp.Success == nil || !*resp.Success {
		log.Printf("警告: 广告 %s 改价被拒绝: code=%v message=%s", listingID, resp.Code, resp.Message)
		return false, nil
	}
	log.Printf("广告 %s 价格已更新为 %s", listingID, price.String())
	return true, nil
}
