package engine

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"PriceKeeper/pkg/model"
	"PriceKeeper/pkg/repository"

	"github.com/shopspring/decimal"
)

func quote(advertiser string, price, minLimit, maxLimit, available float64, orders int, rate float64) model.Quote {
	return model.Quote{
		AdvertID:            "ad-" + advertiser,
		AdvertiserID:        advertiser,
		AdvertiserNickname:  "nick-" + advertiser,
		Price:               decimal.NewFromFloat(price),
		AvailableAmount:     decimal.NewFromFloat(available),
		MinLimit:            decimal.NewFromFloat(minLimit),
		MaxLimit:            decimal.NewFromFloat(maxLimit),
		CompletedOrderCount: orders,
		CompletionRate:      rate,
		ObservedAt:          time.Now(),
	}
}

func scenarioBatch() []model.Quote {
	return []model.Quote{
		quote("A", 100, 10, 1000, 500, 50, 99),
		quote("B", 90, 10, 1000, 500, 50, 99),
	}
}

// clusterBatch 60 条正常报价 + 1 条明显离群报价 + 1 条居中报价
func clusterBatch() []model.Quote {
	batch := make([]model.Quote, 0, 62)
	for i := 0; i < 60; i++ {
		batch = append(batch, quote(
			fmt.Sprintf("N%02d", i),
			100+float64(i%10)*0.1,
			10+float64(i%3),
			1000+float64(i%5)*10,
			500+float64(i%7)*5,
			50+i%11,
			95+float64(i%4)*0.5,
		))
	}
	batch = append(batch, quote("BOT", 10, 5000, 100000, 50000, 1, 20))
	batch = append(batch, quote("CENTER", 100.45, 11, 1020, 515, 55, 95.75))
	return batch
}

// newTestFilter 规则相关测试用，训练门槛足够高不会触发训练
func newTestFilter(t *testing.T) (*QualityFilter, *repository.RestrictionStore) {
	t.Helper()
	store := repository.NewRestrictionStore()
	opts := DefaultFilterOptions()
	opts.MinDataPoints = 1 << 20
	return NewQualityFilter(store, nil, opts), store
}

func newTrainingFilter(t *testing.T) (*QualityFilter, *repository.RestrictionStore) {
	t.Helper()
	store := repository.NewRestrictionStore()
	return NewQualityFilter(store, nil, DefaultFilterOptions()), store
}

func TestRuleStageOutputIsValidSubset(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		f, store := newTestFilter(t)

		minLimit := float64(rng.Intn(50))
		maxLimit := float64(500 + rng.Intn(1000))
		minAvail := float64(rng.Intn(300))
		minRate := float64(rng.Intn(100))
		minOrders := rng.Intn(80)
		if err := f.SetFilters(model.FilterPatch{
			MinLimit: &minLimit, MaxLimit: &maxLimit, MinAvailable: &minAvail,
			MinCompletionRate: &minRate, MinOrderCount: &minOrders,
		}); err != nil {
			t.Fatalf("set filters: %v", err)
		}
		store.BanAdvertiser("A3")
		store.BanListing("ad-A5")
		store.FlagSuspectedBots([]string{"A7"})

		batch := make([]model.Quote, 0, 20)
		for i := 0; i < 20; i++ {
			batch = append(batch, quote(fmt.Sprintf("A%d", i),
				80+rng.Float64()*40, float64(rng.Intn(100)), float64(rng.Intn(2000)),
				float64(rng.Intn(1000)), rng.Intn(120), rng.Float64()*100))
		}

		out := f.applyRules(batch)
		cfg := f.CurrentFilters()
		j := 0
		for _, q := range out {
			for j < len(batch) && batch[j].AdvertiserID != q.AdvertiserID {
				j++
			}
			if j == len(batch) {
				t.Fatalf("round %d: output %s not an ordered subset of input", round, q.AdvertiserID)
			}
			if store.IsExcluded(q.AdvertiserID, q.AdvertID) {
				t.Fatalf("round %d: restricted quote %s passed", round, q.AdvertiserID)
			}
			if q.MinLimit.InexactFloat64() < cfg.MinLimit || q.MaxLimit.InexactFloat64() > cfg.MaxLimit ||
				q.AvailableAmount.InexactFloat64() < cfg.MinAvailable || q.CompletionRate < cfg.MinCompletionRate ||
				q.CompletedOrderCount < cfg.MinOrderCount {
				t.Fatalf("round %d: quote %+v violates %+v", round, q, cfg)
			}
		}
	}
}

func TestRuleStageThresholdsAreInclusive(t *testing.T) {
	f, _ := newTestFilter(t)
	minLimit, maxLimit, avail, rate, orders := 10.0, 1000.0, 500.0, 99.0, 50
	if err := f.SetFilters(model.FilterPatch{
		MinLimit: &minLimit, MaxLimit: &maxLimit, MinAvailable: &avail,
		MinCompletionRate: &rate, MinOrderCount: &orders,
	}); err != nil {
		t.Fatalf("set filters: %v", err)
	}
	if out := f.applyRules(scenarioBatch()); len(out) != 2 {
		t.Fatalf("boundary values must pass, got %d quotes", len(out))
	}

	orders = 51
	if err := f.SetFilters(model.FilterPatch{MinOrderCount: &orders}); err != nil {
		t.Fatalf("set filters: %v", err)
	}
	if out := f.applyRules(scenarioBatch()); len(out) != 0 {
		t.Fatalf("expected all quotes dropped, got %d", len(out))
	}
}

func TestSetFiltersEmptyPatchIsNoop(t *testing.T) {
	f, _ := newTestFilter(t)
	orders := 3
	if err := f.SetFilters(model.FilterPatch{MinOrderCount: &orders}); err != nil {
		t.Fatalf("set filters: %v", err)
	}
	before := f.CurrentFilters()
	if err := f.SetFilters(model.FilterPatch{}); err != nil {
		t.Fatalf("empty patch: %v", err)
	}
	if f.CurrentFilters() != before {
		t.Fatalf("empty patch changed filters: %+v -> %+v", before, f.CurrentFilters())
	}
}

func TestBanUnbanRestoresFiltering(t *testing.T) {
	f, _ := newTestFilter(t)
	if out := f.ProcessQuotes(scenarioBatch()); len(out) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(out))
	}

	f.BanAdvertiser("B")
	out := f.ProcessQuotes(scenarioBatch())
	if len(out) != 1 || out[0].AdvertiserID != "A" {
		t.Fatalf("ban not applied: %+v", out)
	}
	if r := f.CurrentRestrictions(); len(r.BannedAdvertisers) != 1 || r.BannedAdvertisers[0] != "B" {
		t.Fatalf("unexpected restrictions %+v", r)
	}

	f.UnbanAdvertiser("B")
	if out := f.ProcessQuotes(scenarioBatch()); len(out) != 2 {
		t.Fatalf("unban did not restore filtering, got %d", len(out))
	}

	f.BanListing("ad-A")
	if out := f.ProcessQuotes(scenarioBatch()); len(out) != 1 || out[0].AdvertiserID != "B" {
		t.Fatalf("listing ban not applied: %+v", out)
	}
	f.UnbanListing("ad-A")
	f.UnbanListing("missing")
	if r := f.CurrentRestrictions(); len(r.BannedListings) != 0 {
		t.Fatalf("expected no banned listings, got %+v", r)
	}
}

func TestNoModelBeforeEnoughData(t *testing.T) {
	f, _ := newTestFilter(t)
	f.ProcessQuotes(scenarioBatch())
	if info := f.ModelInfo(); info.Trained || info.HistorySize != 2 {
		t.Fatalf("unexpected model info %+v", info)
	}
	if out := f.ProcessQuotes(nil); len(out) != 0 {
		t.Fatalf("empty batch should give empty result, got %d", len(out))
	}
}

func TestAnomalyStageFlagsOutlierAsBot(t *testing.T) {
	f, store := newTrainingFilter(t)
	out := f.ProcessQuotes(clusterBatch())

	if !f.ModelInfo().Trained {
		t.Fatal("expected model to be trained on first eligible batch")
	}
	seen := map[string]bool{}
	for _, q := range out {
		seen[q.AdvertiserID] = true
	}
	if seen["BOT"] {
		t.Fatal("outlier quote survived anomaly stage")
	}
	if !seen["CENTER"] {
		t.Fatal("central quote should be an inlier")
	}
	if !store.IsSuspectedBot("BOT") {
		t.Fatal("outlier advertiser not flagged")
	}

	// 已标记的广告主在规则阶段就被排除
	again := f.applyRules([]model.Quote{quote("BOT", 100, 10, 1000, 500, 50, 99)})
	if len(again) != 0 {
		t.Fatal("flagged advertiser must be excluded by rules")
	}
}

func TestOnBotsFlaggedCallback(t *testing.T) {
	f, _ := newTrainingFilter(t)
	var got []string
	f.OnBotsFlagged(func(ids []string) { got = append(got, ids...) })
	f.ProcessQuotes(clusterBatch())

	found := false
	for _, id := range got {
		if id == "BOT" {
			found = true
		}
	}
	if !found {
		t.Fatalf("callback did not report BOT, got %v", got)
	}
}

type countingStore struct {
	mu    sync.Mutex
	saves int
	data  []byte
}

func (s *countingStore) SaveModel(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.data = data
	return nil
}

func (s *countingStore) LoadModel() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, ErrModelNotFound
	}
	return s.data, nil
}

func TestConcurrentProcessTrainsOnce(t *testing.T) {
	ms := &countingStore{}
	f := NewQualityFilter(repository.NewRestrictionStore(), ms, DefaultFilterOptions())
	batch := clusterBatch()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				f.ProcessQuotes(batch)
			}
		}()
	}
	wg.Wait()

	if ms.saves != 1 {
		t.Fatalf("expected exactly one training within the interval, got %d", ms.saves)
	}
}

func TestRetrainAfterInterval(t *testing.T) {
	ms := &countingStore{}
	opts := DefaultFilterOptions()
	opts.TrainingInterval = time.Hour
	f := NewQualityFilter(repository.NewRestrictionStore(), ms, opts)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }

	f.ProcessQuotes(clusterBatch())
	now = now.Add(30 * time.Minute)
	f.ProcessQuotes(clusterBatch())
	if ms.saves != 1 {
		t.Fatalf("retrained too early: %d", ms.saves)
	}
	now = now.Add(31 * time.Minute)
	f.ProcessQuotes(clusterBatch())
	if ms.saves != 2 {
		t.Fatalf("expected retrain after interval, got %d", ms.saves)
	}
	if info := f.ModelInfo(); info.Samples != 3*len(clusterBatch()) {
		t.Fatalf("retrain must use the full history, got %d samples", info.Samples)
	}
}

func TestModelSurvivesRestart(t *testing.T) {
	path := t.TempDir() + "/models/advertiser_model.json"
	store := NewFileModelStore(path)
	f := NewQualityFilter(repository.NewRestrictionStore(), store, DefaultFilterOptions())
	f.ProcessQuotes(clusterBatch())
	trained := f.model.Load()
	if trained == nil {
		t.Fatal("expected trained model")
	}

	restarted := NewQualityFilter(repository.NewRestrictionStore(), store, DefaultFilterOptions())
	info := restarted.ModelInfo()
	if !info.Trained || !info.TrainedAt.Equal(trained.TrainedAt) {
		t.Fatalf("model not reloaded: %+v", info)
	}

	rows := make([][]float64, 0)
	for _, q := range clusterBatch() {
		rows = append(rows, q.Features())
	}
	a, err := trained.Classify(rows)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	b, err := restarted.model.Load().Classify(rows)
	if err != nil {
		t.Fatalf("classify reloaded: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("row %d classified differently after reload", i)
		}
	}

	// 重启后未超过训练间隔，不会立即重训
	restarted.ProcessQuotes(clusterBatch())
	if got := restarted.ModelInfo().TrainedAt; !got.Equal(trained.TrainedAt) {
		t.Fatalf("restarted filter retrained immediately: %s", got)
	}
}
