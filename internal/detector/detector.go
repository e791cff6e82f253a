// Package detector evaluates orderbook updates for riskless dip arbitrage.
//
// A dip exists while bestAskUp + bestAskDown trades below the configured
// threshold: buying both sides then costs less than the $1 the winning side
// pays out. Detect runs inline on the ingest goroutine for every book update
// and must never block — it performs no I/O and takes only a short critical
// section over the admission state.
//
// Admission is single-flight per market: a window that produced a Trade
// result is held in the pending set until the executor reports the outcome,
// and a successful trade installs a per-market cooldown.
package detector

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Francis-builds/polymarket-hourly-bot/internal/book"
	"github.com/Francis-builds/polymarket-hourly-bot/internal/config"
	"github.com/Francis-builds/polymarket-hourly-bot/pkg/types"
)

// SkipReason documents why an update produced no trade.
type SkipReason string

const (
	SkipNone         SkipReason = ""
	SkipPending      SkipReason = "trade pending"
	SkipMaxPositions SkipReason = "max open positions"
	SkipCooldown     SkipReason = "cooldown active"
	SkipEmptyBook    SkipReason = "empty orderbook"
	SkipPriceTooLow  SkipReason = "price too low"
	SkipNoDip        SkipReason = "no dip"
	SkipTooSmall     SkipReason = "trade too small"
	SkipSlippage     SkipReason = "slippage too high"
	SkipProfitTooLow SkipReason = "profit too low"
)

// Result is the outcome of one detection pass. When Opportunity is non-nil
// the market has already been inserted into the pending set; the caller owes
// a Release call once the order outcome is known.
type Result struct {
	Opportunity *types.DipOpportunity
	Reason      SkipReason
}

// Admitted reports whether this result carries a tradeable opportunity.
func (r Result) Admitted() bool { return r.Opportunity != nil }

// Detector holds the admission state shared between detection and the
// execution goroutines.
type Detector struct {
	cfg       config.StrategyConfig
	timeframe types.Timeframe
	logger    *slog.Logger

	mu        sync.Mutex
	pending   map[types.WindowKey]bool // admitted, outcome not yet observed
	pendingBy map[string]bool          // same, keyed by symbol
	lastTrade map[types.WindowKey]time.Time
	dips      map[types.WindowKey]*activeDip

	events chan DipEvent

	// decimal forms of the config thresholds, converted once
	threshold   decimal.Decimal
	maxUSD      decimal.Decimal
	minUSD      decimal.Decimal
	maxSlippage decimal.Decimal
	minProfitPc decimal.Decimal
	minProfitUS decimal.Decimal
}

// New creates a detector.
func New(cfg config.StrategyConfig, logger *slog.Logger) *Detector {
	maxUSD := decimal.NewFromFloat(cfg.MaxPositionUSD).
		Mul(decimal.NewFromFloat(cfg.RiskPerTradeFraction))

	return &Detector{
		cfg:         cfg,
		timeframe:   cfg.Timeframe,
		logger:      logger.With("component", "detector"),
		pending:     make(map[types.WindowKey]bool),
		pendingBy:   make(map[string]bool),
		lastTrade:   make(map[types.WindowKey]time.Time),
		dips:        make(map[types.WindowKey]*activeDip),
		events:      make(chan DipEvent, 64),
		threshold:   decimal.NewFromFloat(cfg.Threshold),
		maxUSD:      maxUSD,
		minUSD:      decimal.NewFromFloat(cfg.MinTradeUSD),
		maxSlippage: decimal.NewFromFloat(cfg.MaxSlippagePct),
		minProfitPc: decimal.NewFromFloat(cfg.MinProfitPct),
		minProfitUS: decimal.NewFromFloat(cfg.MinProfitUSD),
	}
}

// Events returns the dip lifecycle event stream.
func (d *Detector) Events() <-chan DipEvent { return d.events }

// Detect evaluates one orderbook. The gate sequence short-circuits on the
// first failure; the dip state machine advances on every pass that reaches
// the cost check.
func (d *Detector) Detect(ob *book.Orderbook) Result {
	now := time.Now()
	window := ob.Window
	symbol := ob.Symbol

	d.mu.Lock()
	if d.pending[window] || d.pendingBy[symbol] {
		d.mu.Unlock()
		return Result{Reason: SkipPending}
	}
	if len(d.pending) >= d.cfg.MaxOpenPositions {
		d.mu.Unlock()
		return Result{Reason: SkipMaxPositions}
	}
	if last, ok := d.lastTrade[window]; ok && now.Sub(last) < d.cfg.Cooldown {
		d.mu.Unlock()
		return Result{Reason: SkipCooldown}
	}
	d.mu.Unlock()

	askUp, okUp := ob.BestAsk(types.OutcomeUp)
	askDn, okDn := ob.BestAsk(types.OutcomeDown)
	if !okUp || !okDn {
		return Result{Reason: SkipEmptyBook}
	}
	if askUp.Price.LessThan(book.MinRealisticPrice) || askDn.Price.LessThan(book.MinRealisticPrice) {
		return Result{Reason: SkipPriceTooLow}
	}

	bestCase := askUp.Price.Add(askDn.Price)
	if bestCase.GreaterThanOrEqual(d.threshold) {
		d.closeDip(window, now, bestCase)
		return Result{Reason: SkipNoDip}
	}

	// Sizing: shares affordable at the best-case cost, bounded by what both
	// ladders can actually fill.
	maxShares := d.maxUSD.Div(bestCase)
	planUp, okUp := ob.WalkAsks(types.OutcomeUp, maxShares)
	planDn, okDn := ob.WalkAsks(types.OutcomeDown, maxShares)
	if !okUp || !okDn {
		d.touchDip(ob, window, now, bestCase, decimal.Zero, decimal.Zero)
		return Result{Reason: SkipTooSmall}
	}
	d.touchDip(ob, window, now, bestCase, planUp.Liquidity, planDn.Liquidity)

	shares := decimal.Min(maxShares, planUp.Filled, planDn.Filled)
	tradeValue := shares.Mul(bestCase)
	if tradeValue.LessThan(d.minUSD) {
		return Result{Reason: SkipTooSmall}
	}

	// Slippage over the actual share count.
	planUp, _ = ob.WalkAsks(types.OutcomeUp, shares)
	planDn, _ = ob.WalkAsks(types.OutcomeDown, shares)
	slipUp := planUp.VWAP.Sub(askUp.Price).Div(askUp.Price)
	slipDn := planDn.VWAP.Sub(askDn.Price).Div(askDn.Price)
	two := decimal.NewFromInt(2)
	combined := slipUp.Add(slipDn).Div(two)
	if combined.GreaterThan(d.maxSlippage) {
		return Result{Reason: SkipSlippage}
	}

	totalCost := planUp.VWAP.Add(planDn.VWAP)
	costUp := shares.Mul(planUp.VWAP)
	costDn := shares.Mul(planDn.VWAP)

	fees := decimal.Zero
	if d.timeframe.HasFees() {
		fees = costUp.Mul(FeeRate(d.timeframe, askUp.Price)).
			Add(costDn.Mul(FeeRate(d.timeframe, askDn.Price)))
	}

	one := decimal.NewFromInt(1)
	expectedProfit := one.Sub(totalCost).Mul(shares).Sub(fees)
	profitPct := decimal.Zero
	if tradeValue.IsPositive() {
		profitPct = expectedProfit.Div(tradeValue).Mul(decimal.NewFromInt(100))
	}
	if profitPct.LessThan(d.minProfitPc) || expectedProfit.LessThan(d.minProfitUS) {
		return Result{Reason: SkipProfitTooLow}
	}

	opp := &types.DipOpportunity{
		Symbol:         symbol,
		Window:         window,
		PeriodTS:       ob.PeriodTS,
		Timestamp:      now,
		DetectedAt:     now,
		AskUp:          askUp.Price,
		AskDown:        askDn.Price,
		Shares:         shares,
		AvgFillUp:      planUp.VWAP,
		AvgFillDn:      planDn.VWAP,
		TotalCost:      totalCost,
		BestCaseCost:   bestCase,
		TradeValue:     tradeValue,
		Fees:           fees,
		ExpectedProfit: expectedProfit,
		ProfitPct:      profitPct,
		SlippageUp:     slipUp,
		SlippageDown:   slipDn,
		LiquidityUp:    planUp.Liquidity,
		LiquidityDown:  planDn.Liquidity,
		LevelsUsedUp:   planUp.Levels,
		LevelsUsedDn:   planDn.Levels,
	}

	// Insert into the pending set before returning: the caller issues orders
	// next, and no concurrent detection pass may admit this market again.
	d.mu.Lock()
	if d.pending[window] || d.pendingBy[symbol] {
		d.mu.Unlock()
		return Result{Reason: SkipPending}
	}
	d.pending[window] = true
	d.pendingBy[symbol] = true
	d.mu.Unlock()

	d.logger.Info("dip admitted",
		"symbol", symbol,
		"window", window,
		"best_case_cost", bestCase.String(),
		"shares", shares.StringFixed(2),
		"expected_profit", expectedProfit.StringFixed(4),
		"profit_pct", profitPct.StringFixed(2),
	)
	return Result{Opportunity: opp}
}

// Release clears the pending admission for a market. A successful trade
// installs the cooldown; a failed one does not, so the market is retried on
// the next qualifying update.
func (d *Detector) Release(window types.WindowKey, symbol string, success bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, window)
	delete(d.pendingBy, symbol)
	if success {
		d.lastTrade[window] = time.Now()
	}
}

// Pending reports whether a window is currently admitted.
func (d *Detector) Pending(window types.WindowKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending[window]
}

// DropWindow discards dip and cooldown state for a rotated-out window,
// ending any active dip.
func (d *Detector) DropWindow(window types.WindowKey) {
	now := time.Now()
	d.mu.Lock()
	dip, ok := d.dips[window]
	delete(d.dips, window)
	delete(d.lastTrade, window)
	d.mu.Unlock()
	if ok {
		d.emit(dip.endedEvent(now, decimal.Zero))
	}
}

// Close ends every active dip, e.g. at shutdown.
func (d *Detector) Close() {
	now := time.Now()
	d.mu.Lock()
	dips := d.dips
	d.dips = make(map[types.WindowKey]*activeDip)
	d.mu.Unlock()
	for _, dip := range dips {
		d.emit(dip.endedEvent(now, decimal.Zero))
	}
}

func (d *Detector) emit(evt DipEvent) {
	select {
	case d.events <- evt:
	default:
		d.logger.Warn("dip event channel full, dropping event", "type", evt.Type)
	}
}
