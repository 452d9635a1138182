package collector

import (
	"context"

	"PriceKeeper/pkg/model"

	"github.com/shopspring/decimal"
)

// QuoteGateway 交易市场访问接口
type QuoteGateway interface {
	// FetchQuotes 获取订单簿报价，按市场返回顺序
	FetchQuotes(ctx context.Context, asset, currency string, direction model.Direction, pageSize int) ([]model.Quote, error)
	// FetchOwnListings 获取自己的广告
	FetchOwnListings(ctx context.Context) ([]model.Listing, error)
	// FetchOwnNickname 获取自己的昵称
	FetchOwnNickname(ctx context.Context) (string, error)
	// UpdateListingPrice 修改广告价格，返回市场是否接受
	UpdateListingPrice(ctx context.Context, listingID string, price decimal.Decimal) (bool, error)
}
