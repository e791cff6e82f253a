package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Francis-builds/polymarket-hourly-bot/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func samplePosition(id string) *types.Position {
	return &types.Position{
		ID:             id,
		Market:         "BTC",
		Window:         types.NewWindowKey("BTC", 1767707100),
		PeriodTS:       1767707100,
		OpenedAt:       time.Date(2026, 1, 6, 14, 30, 0, 0, time.UTC),
		Status:         types.PositionOpen,
		CostUp:         50.53,
		CostDown:       49.47,
		SizeUp:         105.26,
		SizeDown:       105.26,
		TotalCost:      100.0,
		ExpectedProfit: 5.26,
		AskUp:          0.48,
		AskDown:        0.47,
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	pos := samplePosition("pos-1")
	slip := 0.004
	lat := int64(12)
	pos.EstSlippage = &slip
	pos.LatencyDetectMS = &lat

	if err := s.Save(pos); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.ByID("pos-1")
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if got == nil {
		t.Fatal("position not found")
	}
	if got.Market != "BTC" || got.Status != types.PositionOpen {
		t.Errorf("got %+v", got)
	}
	if got.Window != pos.Window || got.PeriodTS != pos.PeriodTS {
		t.Errorf("window = %s/%d", got.Window, got.PeriodTS)
	}
	if !got.OpenedAt.Equal(pos.OpenedAt) {
		t.Errorf("opened_at = %v, want %v", got.OpenedAt, pos.OpenedAt)
	}
	if got.EstSlippage == nil || *got.EstSlippage != slip {
		t.Errorf("est_slippage = %v", got.EstSlippage)
	}
	if got.LatencyDetectMS == nil || *got.LatencyDetectMS != lat {
		t.Errorf("latency_detect_ms = %v", got.LatencyDetectMS)
	}
	if got.Outcome != nil || got.Payout != nil {
		t.Error("resolution fields should be nil on an open position")
	}
}

func TestByIDMissing(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	got, err := s.ByID("nope")
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestOpenPositionsAndResolution(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if err := s.Save(samplePosition("pos-1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(samplePosition("pos-2")); err != nil {
		t.Fatal(err)
	}

	open, err := s.OpenPositions()
	if err != nil {
		t.Fatalf("OpenPositions: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("open = %d, want 2", len(open))
	}

	// Resolve pos-1: the upsert must flip it exactly once and keep pos-2 open.
	pos := samplePosition("pos-1")
	now := time.Date(2026, 1, 6, 15, 1, 0, 0, time.UTC)
	outcome := "UP"
	payout := 105.26
	actual := 5.26
	pos.Status = types.PositionResolved
	pos.ResolvedAt = &now
	pos.Outcome = &outcome
	pos.Payout = &payout
	pos.ActualProfit = &actual
	if err := s.Save(pos); err != nil {
		t.Fatal(err)
	}

	open, err = s.OpenPositions()
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || open[0].ID != "pos-2" {
		t.Errorf("open after resolve = %v", open)
	}

	got, _ := s.ByID("pos-1")
	if got.Status != types.PositionResolved || got.Outcome == nil || *got.Outcome != "UP" {
		t.Errorf("resolved position = %+v", got)
	}
	if got.ResolvedAt == nil || !got.ResolvedAt.Equal(now) {
		t.Errorf("resolved_at = %v", got.ResolvedAt)
	}
}

func TestRecentAndByMarket(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	for i, id := range []string{"a", "b", "c"} {
		pos := samplePosition(id)
		pos.OpenedAt = pos.OpenedAt.Add(time.Duration(i) * time.Minute)
		if id == "c" {
			pos.Market = "ETH"
		}
		if err := s.Save(pos); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := s.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].ID != "c" || recent[1].ID != "b" {
		t.Errorf("recent = %v", ids(recent))
	}

	btc, err := s.ByMarket("BTC", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(btc) != 2 {
		t.Errorf("ByMarket(BTC) = %v", ids(btc))
	}
}

func TestByDateRange(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	base := time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		pos := samplePosition(id)
		pos.OpenedAt = base.Add(time.Duration(i) * time.Hour)
		if err := s.Save(pos); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ByDateRange(base.Add(30*time.Minute), base.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Errorf("range = %v", ids(got))
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	win := samplePosition("w")
	profit := 5.0
	win.Status = types.PositionResolved
	win.ActualProfit = &profit
	if err := s.Save(win); err != nil {
		t.Fatal(err)
	}

	loss := samplePosition("l")
	lossProfit := -2.0
	loss.Status = types.PositionResolved
	loss.ActualProfit = &lossProfit
	if err := s.Save(loss); err != nil {
		t.Fatal(err)
	}

	if err := s.Save(samplePosition("o")); err != nil {
		t.Fatal(err)
	}

	failed := samplePosition("f")
	failed.Status = types.PositionFailed
	if err := s.Save(failed); err != nil {
		t.Fatal(err)
	}

	st, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 4 || st.Open != 1 || st.Resolved != 2 || st.Failed != 1 {
		t.Errorf("stats = %+v", st)
	}
	if st.Wins != 1 || st.WinRate != 0.5 {
		t.Errorf("win rate = %v (%d wins)", st.WinRate, st.Wins)
	}
	if st.NetProfit != 3.0 {
		t.Errorf("net profit = %v, want 3.0", st.NetProfit)
	}
}

func TestEvents(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if err := s.LogEvent("DIP_STARTED", map[string]any{"symbol": "BTC"}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if err := s.LogEvent("DIP_ENDED", nil); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}

	n, err := s.EventCount("DIP_STARTED")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestSnapshotTruncatesDepth(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	depth := make([]types.PriceLevel, 15)
	for i := range depth {
		depth[i] = types.PriceLevel{
			Price: decimal.NewFromFloat(0.40 + float64(i)*0.01),
			Size:  decimal.NewFromInt(100),
		}
	}

	posID := "pos-1"
	rec := &SnapshotRecord{
		TS:          time.Now(),
		Market:      "BTC",
		PositionID:  &posID,
		BestAskUp:   0.48,
		BestAskDown: 0.47,
		TotalCost:   0.95,
		DepthUp:     depth,
		DepthDown:   depth[:3],
	}
	if err := s.SaveSnapshot(rec); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	n, err := s.SnapshotCount("BTC")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("snapshots = %d, want 1", n)
	}

	var depthJSON string
	if err := s.sql.QueryRow(`SELECT depth_up_json FROM orderbook_snapshots LIMIT 1`).Scan(&depthJSON); err != nil {
		t.Fatal(err)
	}
	// 10-level cap applied on write.
	var levels []map[string]string
	if err := json.Unmarshal([]byte(depthJSON), &levels); err != nil {
		t.Fatalf("depth json: %v", err)
	}
	if len(levels) != 10 {
		t.Errorf("stored %d levels, want 10", len(levels))
	}
}

// TestMigrationIdempotent re-opens an existing database; migrations must not
// fail or duplicate columns.
func TestMigrationIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := s.Save(samplePosition("pos-1")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()

	got, err := s2.ByID("pos-1")
	if err != nil || got == nil {
		t.Fatalf("position lost across reopen: %v %v", got, err)
	}
}

func ids(positions []*types.Position) []string {
	out := make([]string, len(positions))
	for i, p := range positions {
		out[i] = p.ID
	}
	return out
}
