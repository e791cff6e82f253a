package detector

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Francis-builds/polymarket-hourly-bot/internal/book"
	"github.com/Francis-builds/polymarket-hourly-bot/pkg/types"
)

// DipEventType tags dip lifecycle events.
type DipEventType string

const (
	DipStarted DipEventType = "DIP_STARTED"
	DipEnded   DipEventType = "DIP_ENDED"
)

// DipEvent records the start or end of a dip interval for one market.
// End events carry the interval statistics.
type DipEvent struct {
	Type      DipEventType
	Symbol    string
	Window    types.WindowKey
	Timestamp time.Time

	StartCost decimal.Decimal
	MinCost   decimal.Decimal
	EndCost   decimal.Decimal // cost that closed the dip (end events)
	Duration  time.Duration   // end events only
	Updates   int
	MaxLiqUp  decimal.Decimal
	MaxLiqDn  decimal.Decimal
}

// activeDip tracks one in-progress dip interval. Guarded by the detector
// mutex.
type activeDip struct {
	symbol    string
	window    types.WindowKey
	startTS   time.Time
	startCost decimal.Decimal
	minCost   decimal.Decimal
	maxLiqUp  decimal.Decimal
	maxLiqDn  decimal.Decimal
	updates   int
}

func (a *activeDip) endedEvent(now time.Time, endCost decimal.Decimal) DipEvent {
	return DipEvent{
		Type:      DipEnded,
		Symbol:    a.symbol,
		Window:    a.window,
		Timestamp: now,
		StartCost: a.startCost,
		MinCost:   a.minCost,
		EndCost:   endCost,
		Duration:  now.Sub(a.startTS),
		Updates:   a.updates,
		MaxLiqUp:  a.maxLiqUp,
		MaxLiqDn:  a.maxLiqDn,
	}
}

// touchDip advances the dip machine on a below-threshold update: opens a new
// dip (emitting DIP_STARTED) or folds the update into the running one.
func (d *Detector) touchDip(ob *book.Orderbook, window types.WindowKey, now time.Time, cost, liqUp, liqDn decimal.Decimal) {
	d.mu.Lock()
	dip, ok := d.dips[window]
	if !ok {
		dip = &activeDip{
			symbol:    ob.Symbol,
			window:    window,
			startTS:   now,
			startCost: cost,
			minCost:   cost,
			maxLiqUp:  liqUp,
			maxLiqDn:  liqDn,
			updates:   1,
		}
		d.dips[window] = dip
		d.mu.Unlock()

		d.emit(DipEvent{
			Type:      DipStarted,
			Symbol:    ob.Symbol,
			Window:    window,
			Timestamp: now,
			StartCost: cost,
			MinCost:   cost,
		})
		d.logger.Info("dip started",
			"symbol", ob.Symbol,
			"window", window,
			"cost", cost.String(),
		)
		return
	}

	dip.updates++
	if cost.LessThan(dip.minCost) {
		dip.minCost = cost
	}
	if liqUp.GreaterThan(dip.maxLiqUp) {
		dip.maxLiqUp = liqUp
	}
	if liqDn.GreaterThan(dip.maxLiqDn) {
		dip.maxLiqDn = liqDn
	}
	d.mu.Unlock()
}

// closeDip ends the dip for a window, if one is running, emitting DIP_ENDED
// with the interval statistics.
func (d *Detector) closeDip(window types.WindowKey, now time.Time, endCost decimal.Decimal) {
	d.mu.Lock()
	dip, ok := d.dips[window]
	if ok {
		delete(d.dips, window)
	}
	d.mu.Unlock()
	if !ok {
		return
	}

	evt := dip.endedEvent(now, endCost)
	d.emit(evt)
	d.logger.Info("dip ended",
		"symbol", dip.symbol,
		"window", window,
		"duration_ms", evt.Duration.Milliseconds(),
		"min_cost", dip.minCost.String(),
		"updates", dip.updates,
	)
}
