package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"PriceKeeper/pkg/apperr"
	"PriceKeeper/pkg/engine"
	"PriceKeeper/pkg/model"
	"PriceKeeper/pkg/monitor"
	"PriceKeeper/pkg/repository"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type fakeUpdater struct {
	status model.UpdaterStatus
}

func (u *fakeUpdater) Start(interval int) error {
	if interval < 5 {
		return apperr.Validation("interval %d", interval)
	}
	u.status = model.UpdaterStatus{Running: true, IntervalSeconds: interval}
	return nil
}

func (u *fakeUpdater) Stop() { u.status.Running = false }

func (u *fakeUpdater) Status() model.UpdaterStatus { return u.status }

type fakeGateway struct {
	quotes []model.Quote
	err    error
}

func (g *fakeGateway) FetchQuotes(context.Context, string, string, model.Direction, int) ([]model.Quote, error) {
	return g.quotes, g.err
}
func (g *fakeGateway) FetchOwnListings(context.Context) ([]model.Listing, error) { return nil, nil }
func (g *fakeGateway) FetchOwnNickname(context.Context) (string, error)         { return "me", nil }
func (g *fakeGateway) UpdateListingPrice(context.Context, string, decimal.Decimal) (bool, error) {
	return true, nil
}

type fakeAudit struct {
	limit     int
	listingID string
}

func (a *fakeAudit) GetRecent(_ context.Context, limit int) ([]model.PriceUpdateEvent, error) {
	a.limit = limit
	return []model.PriceUpdateEvent{{ID: "e1", ListingID: "L1"}}, nil
}

func (a *fakeAudit) GetByListing(_ context.Context, listingID string, limit int) ([]model.PriceUpdateEvent, error) {
	a.limit = limit
	a.listingID = listingID
	return []model.PriceUpdateEvent{{ID: "e2", ListingID: listingID}}, nil
}

type testEnv struct {
	router  *gin.Engine
	updater *fakeUpdater
	gateway *fakeGateway
	store   *repository.RestrictionStore
}

type fakeLeaderboard struct {
	query model.LeaderboardQuery
	err   error
}

func (l *fakeLeaderboard) FetchLeaderboard(_ context.Context, query model.LeaderboardQuery) ([]model.TraderStats, error) {
	l.query = query
	if l.err != nil {
		return nil, l.err
	}
	return []model.TraderStats{{Nickname: "bob", Volume: decimal.NewFromInt(3000), Orders: 1, Assets: []string{"USDT"}}}, nil
}

func newTestEnv(t *testing.T, audit AuditReader) *testEnv {
	t.Helper()
	return newTestEnvWith(t, audit, nil)
}

func newTestEnvWith(t *testing.T, audit AuditReader, leaderboard LeaderboardSource) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repository.NewRestrictionStore()
	opts := engine.DefaultFilterOptions()
	opts.MinDataPoints = 1 << 20
	filter := engine.NewQualityFilter(store, nil, opts)

	env := &testEnv{
		updater: &fakeUpdater{},
		gateway: &fakeGateway{},
		store:   store,
	}
	h := NewHandlers(HandlerDeps{
		Updater:         env.updater,
		Filter:          filter,
		Gateway:         env.gateway,
		Monitor:         monitor.NewMonitor(nil),
		Audit:           audit,
		Leaderboard:     leaderboard,
		DefaultInterval: 60,
	})
	srv := NewServer("0", 0, 0)
	srv.SetupRoutes(h)
	env.router = srv.Router()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	out := map[string]interface{}{}
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return w.Code, out
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	if code, body := env.do(t, http.MethodGet, "/health", ""); code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health got=%d %v", code, body)
	}
	if code, _ := env.do(t, http.MethodGet, "/metrics", ""); code != http.StatusOK {
		t.Fatalf("metrics got=%d", code)
	}
	if code, body := env.do(t, http.MethodGet, "/api/v1/status", ""); code != http.StatusOK || body["updater"] == nil {
		t.Fatalf("status got=%d %v", code, body)
	}
}

func TestUpdaterStartStop(t *testing.T) {
	env := newTestEnv(t, nil)

	if code, _ := env.do(t, http.MethodPost, "/api/v1/updater/start", `{"interval":3}`); code != http.StatusBadRequest {
		t.Fatalf("short interval got=%d want=400", code)
	}
	code, body := env.do(t, http.MethodPost, "/api/v1/updater/start", `{"interval":10}`)
	if code != http.StatusOK || body["running"] != true || body["interval_seconds"] != float64(10) {
		t.Fatalf("start got=%d %v", code, body)
	}
	env.do(t, http.MethodPost, "/api/v1/updater/stop", "")
	code, body = env.do(t, http.MethodPost, "/api/v1/updater/start", "")
	if code != http.StatusOK || body["interval_seconds"] != float64(60) {
		t.Fatalf("start with default interval got=%d %v", code, body)
	}
	if code, _ := env.do(t, http.MethodPost, "/api/v1/updater/start", `{"interval":"x"}`); code != http.StatusBadRequest {
		t.Fatalf("malformed body got=%d want=400", code)
	}
}

func TestFilters(t *testing.T) {
	env := newTestEnv(t, nil)

	code, body := env.do(t, http.MethodGet, "/api/v1/filters", "")
	if code != http.StatusOK || body["max_limit"] != nil {
		t.Fatalf("default filters got=%d %v", code, body)
	}
	if code, _ := env.do(t, http.MethodPost, "/api/v1/filters", `{"min_available":-1}`); code != http.StatusBadRequest {
		t.Fatalf("negative threshold got=%d want=400", code)
	}
	code, body = env.do(t, http.MethodPost, "/api/v1/filters", `{"min_order_count":60,"max_limit":5000}`)
	if code != http.StatusOK || body["min_order_count"] != float64(60) || body["max_limit"] != float64(5000) {
		t.Fatalf("set filters got=%d %v", code, body)
	}
	if f := env.store.Filters(); f.MinOrderCount != 60 || f.MinLimit != 0 {
		t.Fatalf("partial update not applied: %+v", f)
	}

	// null 不清除上限
	if _, body = env.do(t, http.MethodPost, "/api/v1/filters", `{"max_limit":null}`); body["max_limit"] != float64(5000) {
		t.Fatalf("null max_limit changed filters: %v", body)
	}
	code, body = env.do(t, http.MethodPost, "/api/v1/filters", `{"max_limit_unbounded":true}`)
	if code != http.StatusOK || body["max_limit"] != nil || env.store.Filters().HasMaxLimit() {
		t.Fatalf("reset max limit got=%d %v", code, body)
	}
}

func TestRestrictions(t *testing.T) {
	env := newTestEnv(t, nil)

	if code, _ := env.do(t, http.MethodPost, "/api/v1/restrictions/advertisers/ban", `{}`); code != http.StatusBadRequest {
		t.Fatalf("missing advertiser_id got=%d want=400", code)
	}
	env.do(t, http.MethodPost, "/api/v1/restrictions/advertisers/ban", `{"advertiser_id":"u1"}`)
	env.do(t, http.MethodPost, "/api/v1/restrictions/ads/ban", `{"ad_id":"a1"}`)
	if !env.store.IsExcluded("u1", "") || !env.store.IsExcluded("other", "a1") {
		t.Fatal("bans not applied")
	}

	code, body := env.do(t, http.MethodGet, "/api/v1/restrictions", "")
	if code != http.StatusOK {
		t.Fatalf("restrictions got=%d", code)
	}
	if ids, _ := body["banned_advertisers"].([]interface{}); len(ids) != 1 || ids[0] != "u1" {
		t.Fatalf("unexpected banned advertisers %v", body["banned_advertisers"])
	}

	env.do(t, http.MethodPost, "/api/v1/restrictions/advertisers/unban", `{"advertiser_id":"u1"}`)
	env.do(t, http.MethodPost, "/api/v1/restrictions/ads/unban", `{"ad_id":"a1"}`)
	if env.store.IsExcluded("u1", "a1") {
		t.Fatal("unban not applied")
	}

	if code, _ := env.do(t, http.MethodDelete, "/api/v1/restrictions/bots/nobody", ""); code != http.StatusNotFound {
		t.Fatalf("clear unknown bot got=%d want=404", code)
	}
	env.store.FlagSuspectedBots([]string{"bot1"})
	if code, _ := env.do(t, http.MethodDelete, "/api/v1/restrictions/bots/bot1", ""); code != http.StatusOK {
		t.Fatalf("clear bot got=%d want=200", code)
	}
}

func TestTopPrice(t *testing.T) {
	env := newTestEnv(t, nil)
	env.gateway.quotes = []model.Quote{
		{AdvertiserID: "A", AdvertiserNickname: "alice", Price: decimal.NewFromInt(100)},
		{AdvertiserID: "B", AdvertiserNickname: "bob", Price: decimal.NewFromInt(90)},
	}

	if code, _ := env.do(t, http.MethodGet, "/api/v1/top-price?trade_type=HOLD", ""); code != http.StatusBadRequest {
		t.Fatalf("bad trade_type got=%d want=400", code)
	}
	code, body := env.do(t, http.MethodGet, "/api/v1/top-price", "")
	if code != http.StatusOK {
		t.Fatalf("top price got=%d", code)
	}
	buy, _ := body["buy"].(map[string]interface{})
	sell, _ := body["sell"].(map[string]interface{})
	if buy["price"] != "90" || buy["nickname"] != "bob" || sell["price"] != "100" {
		t.Fatalf("unexpected top prices %v", body)
	}

	env.gateway.err = apperr.Transport("search", errors.New("down"))
	if code, _ := env.do(t, http.MethodGet, "/api/v1/top-price?trade_type=buy", ""); code != http.StatusBadGateway {
		t.Fatalf("gateway failure got=%d want=502", code)
	}
}

func TestUpdateHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	if code, _ := env.do(t, http.MethodGet, "/api/v1/updates/history", ""); code != http.StatusServiceUnavailable {
		t.Fatalf("history without database got=%d want=503", code)
	}

	audit := &fakeAudit{}
	env = newTestEnv(t, audit)
	if code, _ := env.do(t, http.MethodGet, "/api/v1/updates/history?limit=abc", ""); code != http.StatusBadRequest {
		t.Fatalf("bad limit got=%d want=400", code)
	}
	code, body := env.do(t, http.MethodGet, "/api/v1/updates/history?limit=1000", "")
	if code != http.StatusOK || audit.limit != maxHistoryLimit {
		t.Fatalf("history got=%d limit=%d", code, audit.limit)
	}
	if data, _ := body["data"].([]interface{}); len(data) != 1 {
		t.Fatalf("unexpected history %v", body)
	}

	code, body = env.do(t, http.MethodGet, "/api/v1/updates/history?listing_id=L9", "")
	if code != http.StatusOK || audit.listingID != "L9" || audit.limit != defaultHistoryLimit {
		t.Fatalf("listing history got=%d listing=%q limit=%d", code, audit.listingID, audit.limit)
	}
	data, _ := body["data"].([]interface{})
	if len(data) != 1 || data[0].(map[string]interface{})["listing_id"] != "L9" {
		t.Fatalf("unexpected listing history %v", body)
	}
}

func TestLeaderboard(t *testing.T) {
	env := newTestEnv(t, nil)
	if code, _ := env.do(t, http.MethodGet, "/api/v1/leaderboard", ""); code != http.StatusServiceUnavailable {
		t.Fatalf("leaderboard without source got=%d want=503", code)
	}

	lb := &fakeLeaderboard{}
	env = newTestEnvWith(t, nil, lb)
	if code, _ := env.do(t, http.MethodGet, "/api/v1/leaderboard?sort_by=price", ""); code != http.StatusBadRequest {
		t.Fatalf("bad sort_by got=%d want=400", code)
	}
	if code, _ := env.do(t, http.MethodGet, "/api/v1/leaderboard?days=-1", ""); code != http.StatusBadRequest {
		t.Fatalf("bad days got=%d want=400", code)
	}

	code, body := env.do(t, http.MethodGet, "/api/v1/leaderboard?sort_by=ORDERS&trade_type=buy&days=7", "")
	if code != http.StatusOK || body["sort_by"] != "orders" || body["days"] != float64(7) || body["count"] != float64(1) {
		t.Fatalf("leaderboard got=%d %v", code, body)
	}
	if lb.query.Direction != model.DirectionBuy || lb.query.Asset != "USDT" || lb.query.Fiat != "TZS" {
		t.Fatalf("unexpected query %+v", lb.query)
	}
	traders, _ := body["traders"].([]interface{})
	if len(traders) != 1 || traders[0].(map[string]interface{})["volume"] != "3000" {
		t.Fatalf("unexpected traders %v", body["traders"])
	}

	env.do(t, http.MethodGet, "/api/v1/leaderboard", "")
	if lb.query.Days != 30 || lb.query.SortBy != model.LeaderboardSortVolume || lb.query.Direction != "" {
		t.Fatalf("unexpected default query %+v", lb.query)
	}

	lb.err = apperr.Transport("listOrders", errors.New("down"))
	if code, _ := env.do(t, http.MethodGet, "/api/v1/leaderboard", ""); code != http.StatusBadGateway {
		t.Fatalf("gateway failure got=%d want=502", code)
	}
}
