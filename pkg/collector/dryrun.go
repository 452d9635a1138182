package collector

import (
	"context"
	"log"
	"sync"

	"PriceKeeper/pkg/model"

	"github.com/shopspring/decimal"
)

// PlannedUpdate 模拟模式下记录的改价
type PlannedUpdate struct {
	ListingID string
	Price     decimal.Decimal
}

// DryRunGateway 只读包装，改价只记录不发送
type DryRunGateway struct {
	inner QuoteGateway

	mu      sync.Mutex
	planned []PlannedUpdate
}

var _ QuoteGateway = (*DryRunGateway)(nil)

// NewDryRunGateway 包装真实网关
func NewDryRunGateway(inner QuoteGateway) *DryRunGateway {
	return &DryRunGateway{inner: inner}
}

func (g *DryRunGateway) FetchQuotes(ctx context.Context, asset, currency string, direction model.Direction, pageSize int) ([]model.Quote, error) {
	return g.inner.FetchQuotes(ctx, asset, currency, direction, pageSize)
}

func (g *DryRunGateway) FetchOwnListings(ctx context.Context) ([]model.Listing, error) {
	return g.inner.FetchOwnListings(ctx)
}

func (g *DryRunGateway) FetchOwnNickname(ctx context.Context) (string, error) {
	return g.inner.FetchOwnNickname(ctx)
}

// UpdateListingPrice 不调用市场，视为成功
func (g *DryRunGateway) UpdateListingPrice(_ context.Context, listingID string, price decimal.Decimal) (bool, error) {
	g.mu.Lock()
	g.planned = append(g.planned, PlannedUpdate{ListingID: listingID, Price: price})
	g.mu.Unlock()
	log.Printf("[模拟] 广告 %s 将改价为 %s", listingID, price.String())
	return true, nil
}

// Planned 返回已记录的改价
func (g *DryRunGateway) Planned() []PlannedUpdate {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]PlannedUpdate, len(g.planned))
	copy(out, g.planned)
	return out
}
