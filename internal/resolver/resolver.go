// Package resolver settles open positions after their market windows close.
//
// The tracker wakes 60 seconds after each window boundary, partitions open
// positions by the window they were opened in, and looks up the outcome of
// every window that has ended. Settlement is at-most-once: the terminal
// state check skips anything a previous wake already resolved. Positions
// whose outcome is not yet published stay open and are retried on the next
// wake; so do positions whose lookup failed.
package resolver

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/Francis-builds/polymarket-hourly-bot/internal/catalog"
	"github.com/Francis-builds/polymarket-hourly-bot/internal/clock"
	"github.com/Francis-builds/polymarket-hourly-bot/internal/detector"
	"github.com/Francis-builds/polymarket-hourly-bot/internal/store"
	"github.com/Francis-builds/polymarket-hourly-bot/pkg/types"

	"github.com/shopspring/decimal"
)

// resolutionGrace is how long after a window close the outcome query fires;
// the exchange needs a moment to publish resolution prices.
const resolutionGrace = 60 * time.Second

// winningPrice is the outcome-price threshold that marks the winning side.
const winningPrice = 0.9

// Resolver schedules and performs outcome lookups.
type Resolver struct {
	store     *store.Store
	cat       *catalog.Catalog
	timeframe types.Timeframe
	paper     bool
	logger    *slog.Logger
}

// New creates a resolution tracker.
func New(st *store.Store, cat *catalog.Catalog, timeframe types.Timeframe, paper bool, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:     st,
		cat:       cat,
		timeframe: timeframe,
		paper:     paper,
		logger:    logger.With("component", "resolver"),
	}
}

// Run wakes after every window close plus grace until ctx is cancelled.
func (r *Resolver) Run(ctx context.Context) {
	for {
		wait := clock.UntilNextBoundary(time.Now(), r.timeframe) + resolutionGrace

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		r.ResolvePass(ctx)
	}
}

// ResolvePass settles every open position whose window has ended.
func (r *Resolver) ResolvePass(ctx context.Context) {
	open, err := r.store.OpenPositions()
	if err != nil {
		r.logger.Error("load open positions", "error", err)
		return
	}
	if len(open) == 0 {
		return
	}

	// Partition by window; one outcome lookup serves every position in it.
	byWindow := make(map[types.WindowKey][]*types.Position)
	for _, pos := range open {
		byWindow[pos.Window] = append(byWindow[pos.Window], pos)
	}

	now := time.Now().Unix()
	for window, positions := range byWindow {
		windowEnd := positions[0].PeriodTS + r.timeframe.PeriodSeconds()
		if windowEnd > now {
			continue // window still running
		}

		outcome, ok := r.lookupOutcome(ctx, positions[0])
		if !ok {
			r.logger.Info("resolution pending", "window", window)
			continue
		}

		for _, pos := range positions {
			r.settle(pos, outcome)
		}
	}
}

// lookupOutcome determines the winning side of a position's window. ok is
// false while the outcome is unknown (not yet resolved, HTTP failure,
// malformed data) — all of which retry on the next wake.
func (r *Resolver) lookupOutcome(ctx context.Context, pos *types.Position) (types.Outcome, bool) {
	if r.paper {
		// Arbitrage profit is outcome-independent; a coin flip keeps the
		// paper ledger realistic.
		if rand.IntN(2) == 0 {
			return types.OutcomeUp, true
		}
		return types.OutcomeDown, true
	}

	slug := r.cat.Slug(pos.Market, pos.PeriodTS)
	m, err := r.cat.FetchRaw(ctx, slug)
	if err != nil {
		r.logger.Warn("outcome lookup failed", "slug", slug, "error", err)
		return "", false
	}
	if m == nil || (!m.Closed && !m.Resolved) {
		return "", false
	}
	if len(m.Outcomes) < 2 || len(m.OutcomePrices) < 2 {
		r.logger.Warn("malformed outcome data", "slug", slug)
		return "", false
	}

	upPrice, dnPrice := -1.0, -1.0
	for i, label := range m.Outcomes {
		if i >= len(m.OutcomePrices) {
			break
		}
		price, err := strconv.ParseFloat(m.OutcomePrices[i], 64)
		if err != nil {
			r.logger.Warn("malformed outcome price", "slug", slug, "price", m.OutcomePrices[i])
			return "", false
		}
		switch strings.ToLower(label) {
		case "up", "yes":
			upPrice = price
		case "down", "no":
			dnPrice = price
		}
	}

	switch {
	case upPrice > winningPrice:
		return types.OutcomeUp, true
	case dnPrice > winningPrice:
		return types.OutcomeDown, true
	default:
		// Prices published but no clear winner yet.
		return "", false
	}
}

// settle transitions one position Open → Resolved. The terminal-state check
// makes settlement at-most-once even if a window is processed twice.
func (r *Resolver) settle(pos *types.Position, outcome types.Outcome) {
	if pos.Status != types.PositionOpen {
		return
	}

	now := time.Now()
	payout := min(pos.SizeUp, pos.SizeDown) * 1.0

	// Fees recomputed from the entry prices under the window's fee model.
	feeUp := detector.FeeRate(r.timeframe, decimal.NewFromFloat(pos.AskUp))
	feeDn := detector.FeeRate(r.timeframe, decimal.NewFromFloat(pos.AskDown))
	fees, _ := decimal.NewFromFloat(pos.CostUp).Mul(feeUp).
		Add(decimal.NewFromFloat(pos.CostDown).Mul(feeDn)).Float64()

	actualProfit := payout - pos.TotalCost - fees
	outcomeStr := string(outcome)

	pos.Status = types.PositionResolved
	pos.ResolvedAt = &now
	pos.Outcome = &outcomeStr
	pos.Payout = &payout
	pos.Fees = &fees
	pos.ActualProfit = &actualProfit

	if err := r.store.Save(pos); err != nil {
		r.logger.Error("persist resolution", "position", pos.ID, "error", err)
		return
	}
	if err := r.store.LogEvent("POSITION_RESOLVED", map[string]any{
		"position_id": pos.ID,
		"market":      pos.Market,
		"outcome":     outcomeStr,
		"payout":      payout,
		"profit":      actualProfit,
	}); err != nil {
		r.logger.Warn("log resolution event", "error", err)
	}

	r.logger.Info("position resolved",
		"position", pos.ID,
		"market", pos.Market,
		"outcome", outcomeStr,
		"payout", payout,
		"profit", actualProfit,
	)
}
