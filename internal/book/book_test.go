package book

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Francis-builds/polymarket-hourly-bot/pkg/types"
)

func testBook() *Orderbook {
	return NewOrderbook(&types.MarketTokens{
		Symbol:   "BTC",
		PeriodTS: 1767707100,
	})
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func TestApplySnapshotSortsAndFilters(t *testing.T) {
	t.Parallel()
	b := testBook()

	err := b.ApplySnapshot(types.OutcomeUp,
		[]types.RawLevel{{Price: "0.40", Size: "50"}, {Price: "0.45", Size: "100"}},
		[]types.RawLevel{
			{Price: "0.52", Size: "200"},
			{Price: "0.48", Size: "500"},
			{Price: "0.50", Size: "0"}, // zero size: deleted
		},
	)
	if err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}

	best, ok := b.BestAsk(types.OutcomeUp)
	if !ok {
		t.Fatal("no best ask after snapshot")
	}
	if !best.Price.Equal(dec(t, "0.48")) {
		t.Errorf("best ask = %s, want 0.48", best.Price)
	}

	depth := b.Depth(types.OutcomeUp, 10)
	if len(depth) != 2 {
		t.Fatalf("depth = %d levels, want 2 (zero-size dropped)", len(depth))
	}
	if !depth[0].Price.LessThan(depth[1].Price) {
		t.Error("asks not ascending")
	}
}

func TestApplySnapshotRejectsDuplicates(t *testing.T) {
	t.Parallel()
	b := testBook()

	err := b.ApplySnapshot(types.OutcomeUp, nil,
		[]types.RawLevel{{Price: "0.48", Size: "100"}, {Price: "0.48", Size: "200"}},
	)
	if err == nil {
		t.Error("expected duplicate-price error")
	}
}

func TestReadyRequiresBothSides(t *testing.T) {
	t.Parallel()
	b := testBook()

	if b.Ready() {
		t.Error("empty book reported ready")
	}

	b.ApplySnapshot(types.OutcomeUp, nil, []types.RawLevel{{Price: "0.48", Size: "100"}})
	if b.Ready() {
		t.Error("one-sided book reported ready")
	}

	b.ApplySnapshot(types.OutcomeDown, nil, []types.RawLevel{{Price: "0.47", Size: "100"}})
	if !b.Ready() {
		t.Error("two-sided book not ready")
	}
}

func TestPriceChangeWithSizeReplacesBest(t *testing.T) {
	t.Parallel()
	b := testBook()

	b.ApplySnapshot(types.OutcomeUp, nil, []types.RawLevel{
		{Price: "0.48", Size: "100"},
		{Price: "0.50", Size: "200"},
	})

	b.ApplyPriceChange(types.OutcomeUp, types.WSPriceChange{
		Price: "0.46", Size: "80", Side: "SELL",
	})

	best, _ := b.BestAsk(types.OutcomeUp)
	if !best.Price.Equal(dec(t, "0.46")) || !best.Size.Equal(dec(t, "80")) {
		t.Errorf("best = %s @ %s, want 80 @ 0.46", best.Size, best.Price)
	}

	// Deeper level beyond the new best survives.
	depth := b.Depth(types.OutcomeUp, 10)
	if len(depth) != 2 || !depth[1].Price.Equal(dec(t, "0.50")) {
		t.Errorf("depth = %v, want 0.46 then 0.50", depth)
	}

	// Full depth still trusted for sizing.
	plan, ok := b.WalkAsks(types.OutcomeUp, dec(t, "150"))
	if !ok {
		t.Fatal("WalkAsks failed")
	}
	if plan.Levels != 2 {
		t.Errorf("levels = %d, want 2", plan.Levels)
	}
}

func TestPriceChangeKeepsLadderSorted(t *testing.T) {
	t.Parallel()
	b := testBook()

	b.ApplySnapshot(types.OutcomeUp, nil, []types.RawLevel{
		{Price: "0.48", Size: "100"},
		{Price: "0.49", Size: "50"},
		{Price: "0.55", Size: "200"},
	})

	// New best above the old second level: the crossed level is dropped.
	b.ApplyPriceChange(types.OutcomeUp, types.WSPriceChange{
		Price: "0.51", Size: "30", Side: "SELL",
	})

	depth := b.Depth(types.OutcomeUp, 10)
	if len(depth) != 2 {
		t.Fatalf("depth = %v", depth)
	}
	if !depth[0].Price.Equal(dec(t, "0.51")) || !depth[1].Price.Equal(dec(t, "0.55")) {
		t.Errorf("ladder = %v, want 0.51 then 0.55", depth)
	}
}

func TestPriceChangeZeroSizeDeletes(t *testing.T) {
	t.Parallel()
	b := testBook()

	b.ApplySnapshot(types.OutcomeUp, nil, []types.RawLevel{
		{Price: "0.48", Size: "100"},
		{Price: "0.50", Size: "200"},
	})

	b.ApplyPriceChange(types.OutcomeUp, types.WSPriceChange{
		Price: "0.48", Size: "0", Side: "SELL",
	})

	best, ok := b.BestAsk(types.OutcomeUp)
	if !ok || !best.Price.Equal(dec(t, "0.50")) {
		t.Errorf("best after delete = %v ok=%v, want 0.50", best, ok)
	}
}

func TestQuoteOnlyChangeDistrustsDepth(t *testing.T) {
	t.Parallel()
	b := testBook()

	b.ApplySnapshot(types.OutcomeUp, nil, []types.RawLevel{
		{Price: "0.48", Size: "100"},
		{Price: "0.50", Size: "200"},
	})

	// best_ask only, no size
	b.ApplyPriceChange(types.OutcomeUp, types.WSPriceChange{
		Side: "SELL", BestAsk: "0.49",
	})

	best, _ := b.BestAsk(types.OutcomeUp)
	if !best.Price.Equal(dec(t, "0.49")) {
		t.Errorf("best = %s, want 0.49", best.Price)
	}

	// Sizing must now see only level 0.
	plan, ok := b.WalkAsks(types.OutcomeUp, dec(t, "250"))
	if !ok {
		t.Fatal("WalkAsks failed")
	}
	if plan.Levels != 1 {
		t.Errorf("levels = %d, want 1 while depth untrusted", plan.Levels)
	}
	if !plan.Filled.Equal(dec(t, "100")) {
		t.Errorf("filled = %s, want 100 (level 0 carry-over size)", plan.Filled)
	}

	// A fresh snapshot restores trust.
	b.ApplySnapshot(types.OutcomeUp, nil, []types.RawLevel{
		{Price: "0.49", Size: "100"},
		{Price: "0.50", Size: "200"},
	})
	plan, _ = b.WalkAsks(types.OutcomeUp, dec(t, "250"))
	if plan.Levels != 2 {
		t.Errorf("levels after snapshot = %d, want 2", plan.Levels)
	}
}

func TestWalkAsksVWAP(t *testing.T) {
	t.Parallel()
	b := testBook()

	b.ApplySnapshot(types.OutcomeUp, nil, []types.RawLevel{
		{Price: "0.48", Size: "100"},
		{Price: "0.50", Size: "100"},
	})

	// 150 shares: 100 @ 0.48 + 50 @ 0.50 = 73 / 150
	plan, ok := b.WalkAsks(types.OutcomeUp, dec(t, "150"))
	if !ok {
		t.Fatal("WalkAsks failed")
	}
	want := dec(t, "73").Div(dec(t, "150"))
	if !plan.VWAP.Equal(want) {
		t.Errorf("VWAP = %s, want %s", plan.VWAP, want)
	}

	// VWAP is never below the best ask.
	best, _ := b.BestAsk(types.OutcomeUp)
	if plan.VWAP.LessThan(best.Price) {
		t.Error("VWAP below best ask")
	}

	// Request beyond the ladder: partial fill.
	plan, ok = b.WalkAsks(types.OutcomeUp, dec(t, "500"))
	if !ok {
		t.Fatal("WalkAsks failed")
	}
	if !plan.Filled.Equal(dec(t, "200")) {
		t.Errorf("filled = %s, want ladder total 200", plan.Filled)
	}
	if !plan.Liquidity.Equal(dec(t, "200")) {
		t.Errorf("liquidity = %s, want 200", plan.Liquidity)
	}
}

func TestStoreRetain(t *testing.T) {
	t.Parallel()
	s := NewStore()

	b1 := s.GetOrCreate(&types.MarketTokens{Symbol: "BTC", PeriodTS: 1000})
	s.GetOrCreate(&types.MarketTokens{Symbol: "BTC", PeriodTS: 2000})

	if got := s.GetOrCreate(&types.MarketTokens{Symbol: "BTC", PeriodTS: 1000}); got != b1 {
		t.Error("GetOrCreate did not return the existing book")
	}

	s.Retain(map[types.WindowKey]bool{types.NewWindowKey("BTC", 2000): true})
	if s.Get(types.NewWindowKey("BTC", 1000)) != nil {
		t.Error("rotated-out book still present")
	}
	if s.Get(types.NewWindowKey("BTC", 2000)) == nil {
		t.Error("retained book dropped")
	}
}
