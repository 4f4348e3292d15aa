package pricing

import (
	"testing"
	"time"
)

func expiry(year int) *time.Time {
	ts := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return &ts
}

func TestSelectLotsDefaultOrder(t *testing.T) {
	lots := []Lot{
		{ID: "b0", Tier: TierBasic, Amount: 50, Remaining: 50},
		{ID: "g0", Tier: TierGuaranteed, Amount: 10, Remaining: 10, ExpiresAt: expiry(2030)},
		{ID: "p0", Tier: TierPriority, Amount: 20, Remaining: 20},
		{ID: "g1", Tier: TierGuaranteed, Amount: 5, Remaining: 5, ExpiresAt: expiry(2029)},
	}

	sel := SelectLots(lots, 25, SelectOptions{})
	if sel.Leftover != 0 {
		t.Fatalf("expected full satisfaction, leftover %d", sel.Leftover)
	}
	want := []struct {
		id  string
		use int64
	}{
		{"g1", 5},
		{"g0", 10},
		{"p0", 10},
	}
	if len(sel.Picks) != len(want) {
		t.Fatalf("expected %d picks, got %d: %+v", len(want), len(sel.Picks), sel.Picks)
	}
	for i, w := range want {
		if sel.Picks[i].Lot.ID != w.id || sel.Picks[i].Use != w.use {
			t.Fatalf("pick %d: expected %s/%d, got %s/%d", i, w.id, w.use, sel.Picks[i].Lot.ID, sel.Picks[i].Use)
		}
	}
}

func TestSelectLotsOrderOverride(t *testing.T) {
	lots := []Lot{
		{ID: "g", Tier: TierGuaranteed, Amount: 10, Remaining: 10},
		{ID: "p", Tier: TierPriority, Amount: 10, Remaining: 10},
		{ID: "b", Tier: TierBasic, Amount: 10, Remaining: 10},
	}

	sel := SelectLots(lots, 15, SelectOptions{Order: []Tier{TierBasic, TierPriority, TierGuaranteed}})
	if sel.Leftover != 0 {
		t.Fatalf("expected leftover 0, got %d", sel.Leftover)
	}
	if len(sel.Picks) != 2 {
		t.Fatalf("expected 2 picks, got %+v", sel.Picks)
	}
	if sel.Picks[0].Lot.ID != "b" || sel.Picks[0].Use != 10 {
		t.Fatalf("unexpected first pick: %+v", sel.Picks[0])
	}
	if sel.Picks[1].Lot.ID != "p" || sel.Picks[1].Use != 5 {
		t.Fatalf("unexpected second pick: %+v", sel.Picks[1])
	}
}

func TestSelectLotsSkipsExpiredAndDrained(t *testing.T) {
	now := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	lots := []Lot{
		{ID: "expired", Tier: TierGuaranteed, Amount: 10, Remaining: 10, ExpiresAt: &past},
		{ID: "drained", Tier: TierGuaranteed, Amount: 10, Remaining: 0},
		{ID: "live", Tier: TierBasic, Amount: 10, Remaining: 8},
	}

	sel := SelectLots(lots, 20, SelectOptions{Now: now})
	if len(sel.Picks) != 1 || sel.Picks[0].Lot.ID != "live" || sel.Picks[0].Use != 8 {
		t.Fatalf("unexpected picks: %+v", sel.Picks)
	}
	if sel.Leftover != 12 {
		t.Fatalf("expected leftover 12, got %d", sel.Leftover)
	}
}

func TestSelectLotsDoesNotMutateInput(t *testing.T) {
	lots := []Lot{{ID: "g", Tier: TierGuaranteed, Amount: 10, Remaining: 10}}
	_ = SelectLots(lots, 4, SelectOptions{})
	if lots[0].Remaining != 10 {
		t.Fatalf("input lot mutated: %+v", lots[0])
	}
}

func TestPriceSpendSumsPerLotFees(t *testing.T) {
	lots := []Lot{
		{ID: "g", Tier: TierGuaranteed, Amount: 10, Remaining: 10},
		{ID: "p", Tier: TierPriority, Amount: 10, Remaining: 10},
		{ID: "b", Tier: TierBasic, Amount: 10, Remaining: 10},
	}

	quote, err := PriceSpend(lots, 25, Surcharges{Urgent: true})
	if err != nil {
		t.Fatalf("price spend: %v", err)
	}
	if quote.Leftover != 0 {
		t.Fatalf("expected leftover 0, got %d", quote.Leftover)
	}
	// Per-lot rounded fees: 10@0.23 -> 2, 10@0.17 -> 2, 5@0.13 -> 1.
	wantFees := []int64{2, 2, 1}
	if len(quote.Breakdown) != len(wantFees) {
		t.Fatalf("expected %d lines, got %+v", len(wantFees), quote.Breakdown)
	}
	for i, want := range wantFees {
		if quote.Breakdown[i].Fee != want {
			t.Fatalf("line %d: expected fee %d, got %d", i, want, quote.Breakdown[i].Fee)
		}
	}
	if quote.TotalFee != 5 {
		t.Fatalf("expected total fee 5, got %d", quote.TotalFee)
	}
}
