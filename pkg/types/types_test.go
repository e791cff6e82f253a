package types

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func TestTimeframePeriodSeconds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tf   Timeframe
		want int64
	}{
		{Timeframe15m, 900},
		{Timeframe1h, 3600},
		{Timeframe4h, 14400},
		{TimeframeDaily, 86400},
	}

	for _, tt := range tests {
		if got := tt.tf.PeriodSeconds(); got != tt.want {
			t.Errorf("%s.PeriodSeconds() = %d, want %d", tt.tf, got, tt.want)
		}
	}
}

func TestTimeframeHasFees(t *testing.T) {
	t.Parallel()

	if !Timeframe15m.HasFees() {
		t.Error("15m markets should carry fees")
	}
	for _, tf := range []Timeframe{Timeframe1h, Timeframe4h, TimeframeDaily} {
		if tf.HasFees() {
			t.Errorf("%s markets should be fee-free", tf)
		}
	}
}

func TestFlexStringsArray(t *testing.T) {
	t.Parallel()

	var f FlexStrings
	if err := json.Unmarshal([]byte(`["a","b"]`), &f); err != nil {
		t.Fatalf("unmarshal array: %v", err)
	}
	if len(f) != 2 || f[0] != "a" || f[1] != "b" {
		t.Errorf("got %v, want [a b]", f)
	}
}

func TestFlexStringsEncodedString(t *testing.T) {
	t.Parallel()

	var f FlexStrings
	if err := json.Unmarshal([]byte(`"[\"Up\",\"Down\"]"`), &f); err != nil {
		t.Fatalf("unmarshal encoded string: %v", err)
	}
	if len(f) != 2 || f[0] != "Up" || f[1] != "Down" {
		t.Errorf("got %v, want [Up Down]", f)
	}
}

func TestFlexStringsEmpty(t *testing.T) {
	t.Parallel()

	var f FlexStrings
	if err := json.Unmarshal([]byte(`""`), &f); err != nil {
		t.Fatalf("unmarshal empty string: %v", err)
	}
	if f != nil {
		t.Errorf("got %v, want nil", f)
	}
}

func TestFlexStringsGarbage(t *testing.T) {
	t.Parallel()

	var f FlexStrings
	if err := json.Unmarshal([]byte(`42`), &f); err == nil {
		t.Error("expected error for numeric input")
	}
}

func TestWSBookEventLevelAliases(t *testing.T) {
	t.Parallel()

	evt := WSBookEvent{
		Buys:  []RawLevel{{Price: "0.48", Size: "100"}},
		Sells: []RawLevel{{Price: "0.52", Size: "50"}},
	}
	if got := evt.BidLevels(); len(got) != 1 || got[0].Price != "0.48" {
		t.Errorf("BidLevels = %v, want buys ladder", got)
	}
	if got := evt.AskLevels(); len(got) != 1 || got[0].Price != "0.52" {
		t.Errorf("AskLevels = %v, want sells ladder", got)
	}

	evt2 := WSBookEvent{
		Bids: []RawLevel{{Price: "0.40", Size: "10"}},
		Asks: []RawLevel{{Price: "0.60", Size: "10"}},
	}
	if got := evt2.BidLevels(); len(got) != 1 || got[0].Price != "0.40" {
		t.Errorf("BidLevels = %v, want bids ladder", got)
	}
}

func TestOrderResultFilledShares(t *testing.T) {
	t.Parallel()

	r := OrderResult{Filled: "105.26"}
	if got := r.FilledShares(); !got.Equal(mustDecimal(t, "105.26")) {
		t.Errorf("FilledShares = %s, want 105.26", got)
	}
	r = OrderResult{Filled: ""}
	if got := r.FilledShares(); !got.IsZero() {
		t.Errorf("FilledShares on empty = %s, want 0", got)
	}
}

func TestRawLevelParse(t *testing.T) {
	t.Parallel()

	lvl, err := RawLevel{Price: "0.47", Size: "500"}.Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !lvl.Price.Equal(mustDecimal(t, "0.47")) || !lvl.Size.Equal(mustDecimal(t, "500")) {
		t.Errorf("got %s @ %s", lvl.Size, lvl.Price)
	}

	if _, err := (RawLevel{Price: "x", Size: "1"}).Parse(); err == nil {
		t.Error("expected error for bad price")
	}
}

func TestWindowKey(t *testing.T) {
	t.Parallel()

	mt := MarketTokens{Symbol: "BTC", PeriodTS: 1767707100}
	if got := mt.Key(); got != WindowKey("BTC:1767707100") {
		t.Errorf("Key() = %q", got)
	}
}
