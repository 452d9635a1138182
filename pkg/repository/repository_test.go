package repository

import (
	"errors"
	"sync"
	"testing"

	"PriceKeeper/pkg/apperr"
	"PriceKeeper/pkg/model"
)

func TestBanUnbanRoundTrip(t *testing.T) {
	store := NewRestrictionStore()
	if store.IsExcluded("A", "") {
		t.Fatal("fresh store should exclude nothing")
	}

	store.BanAdvertiser("A")
	if !store.IsExcluded("A", "") {
		t.Fatal("banned advertiser not excluded")
	}
	store.UnbanAdvertiser("A")
	store.UnbanAdvertiser("A")
	if store.IsExcluded("A", "") {
		t.Fatal("unban did not restore advertiser")
	}

	store.BanListing("ad-1")
	if !store.IsExcluded("B", "ad-1") || store.IsExcluded("B", "ad-2") {
		t.Fatal("listing ban mismatch")
	}
	store.UnbanListing("ad-1")
	if store.IsExcluded("B", "ad-1") {
		t.Fatal("listing unban failed")
	}
}

func TestSuspectedBotsAreIndependentOfBans(t *testing.T) {
	store := NewRestrictionStore()
	added := store.FlagSuspectedBots([]string{"X", "X", "", "Y"})
	if len(added) != 2 {
		t.Fatalf("expected 2 newly flagged, got %v", added)
	}
	if again := store.FlagSuspectedBots([]string{"X"}); len(again) != 0 {
		t.Fatalf("re-flagging should add nothing, got %v", again)
	}

	store.UnbanAdvertiser("X")
	if !store.IsExcluded("X", "") {
		t.Fatal("operator unban must not clear bot flag")
	}
	if snap := store.Snapshot(); len(snap.BannedAdvertisers) != 0 {
		t.Fatalf("bot flags leaked into bans: %+v", snap)
	}
	if !store.ClearSuspectedBot("X") || store.IsExcluded("X", "") {
		t.Fatal("clearing bot flag failed")
	}
}

func TestSetFiltersPartialAndValidation(t *testing.T) {
	store := NewRestrictionStore()
	before := store.Filters()
	if err := store.SetFilters(model.FilterPatch{}); err != nil {
		t.Fatalf("empty patch: %v", err)
	}
	if store.Filters() != before {
		t.Fatal("empty patch changed filters")
	}

	orders := 60
	if err := store.SetFilters(model.FilterPatch{MinOrderCount: &orders}); err != nil {
		t.Fatalf("set filters: %v", err)
	}
	rate := 95.0
	if err := store.SetFilters(model.FilterPatch{MinCompletionRate: &rate}); err != nil {
		t.Fatalf("set filters: %v", err)
	}
	got := store.Filters()
	if got.MinOrderCount != 60 || got.MinCompletionRate != 95 || got.HasMaxLimit() {
		t.Fatalf("unexpected filters %+v", got)
	}

	bad := -1.0
	err := store.SetFilters(model.FilterPatch{MinAvailable: &bad})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	tooHigh := 101.0
	if err := store.SetFilters(model.FilterPatch{MinCompletionRate: &tooHigh}); !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if store.Filters() != got {
		t.Fatal("rejected patch must not change filters")
	}
}

func TestConcurrentFlaggingAndReads(t *testing.T) {
	store := NewRestrictionStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				store.FlagSuspectedBots([]string{"bot"})
				store.IsExcluded("bot", "")
				store.Snapshot()
			}
		}()
	}
	wg.Wait()
	if got := store.SuspectedBots(); len(got) != 1 || got[0] != "bot" {
		t.Fatalf("unexpected bots %v", got)
	}
}

func TestSetFiltersResetsMaxLimit(t *testing.T) {
	store := NewRestrictionStore()
	limit := 5000.0
	if err := store.SetFilters(model.FilterPatch{MaxLimit: &limit}); err != nil {
		t.Fatalf("set max limit: %v", err)
	}
	if !store.Filters().HasMaxLimit() {
		t.Fatal("max limit not applied")
	}

	err := store.SetFilters(model.FilterPatch{MaxLimit: &limit, MaxLimitUnbounded: true})
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error for conflicting patch, got %v", err)
	}
	if err := store.SetFilters(model.FilterPatch{MaxLimitUnbounded: true}); err != nil {
		t.Fatalf("reset max limit: %v", err)
	}
	if store.Filters().HasMaxLimit() {
		t.Fatalf("max limit still set: %v", store.Filters().MaxLimit)
	}
}
