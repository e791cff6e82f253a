// Package engine is the central orchestrator of the dip-arbitrage bot.
//
// It wires together all subsystems:
//
//  1. The catalog resolves the current and next window markets per symbol.
//  2. The rotation task re-resolves them across every window boundary.
//  3. The feed (live WebSocket or simulator) keeps the orderbooks current
//     and calls back into the engine on every update.
//  4. The detector evaluates each update inline; admitted opportunities
//     spawn an execution goroutine, serialised per market by the admission
//     set.
//  5. The executor submits both legs and writes positions to the store.
//  6. The resolver settles positions after their windows close.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Francis-builds/polymarket-hourly-bot/internal/book"
	"github.com/Francis-builds/polymarket-hourly-bot/internal/catalog"
	"github.com/Francis-builds/polymarket-hourly-bot/internal/config"
	"github.com/Francis-builds/polymarket-hourly-bot/internal/detector"
	"github.com/Francis-builds/polymarket-hourly-bot/internal/exchange"
	"github.com/Francis-builds/polymarket-hourly-bot/internal/executor"
	"github.com/Francis-builds/polymarket-hourly-bot/internal/feed"
	"github.com/Francis-builds/polymarket-hourly-bot/internal/resolver"
	"github.com/Francis-builds/polymarket-hourly-bot/internal/store"
	"github.com/Francis-builds/polymarket-hourly-bot/pkg/types"
)

// hotMargin is how close to the admission threshold a market must trade for
// the pre-signer to warm its cache.
var hotMargin = decimal.NewFromFloat(0.05)

// Engine owns the lifecycle of all tasks.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	registry *catalog.Registry
	books    *book.Store
	cat      *catalog.Catalog
	det      *detector.Detector
	exec     *executor.Executor
	st       *store.Store
	res      *resolver.Resolver
	rotator  *feed.Rotator

	mktFeed   *feed.Feed      // nil when simulate_feed
	simFeed   *feed.Simulator // nil unless simulate_feed
	client    *exchange.Client
	presigner *exchange.Presigner

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup // long-running tasks
	execWG sync.WaitGroup // in-flight executions, drained on shutdown
}

// New creates and wires all engine components.
// In live mode, missing L2 API credentials are derived via L1 auth.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	registry := catalog.NewRegistry()
	books := book.NewStore()
	cat := catalog.New(cfg, logger)
	det := detector.New(cfg.Strategy, logger)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger.With("component", "engine"),
		registry: registry,
		books:    books,
		cat:      cat,
		det:      det,
		st:       st,
	}

	var placer executor.OrderPlacer
	if cfg.PaperMode {
		placer = executor.NewPaperPlacer(uint64(time.Now().UnixNano()), logger)
	} else {
		auth, err := exchange.NewAuth(cfg)
		if err != nil {
			st.Close()
			return nil, err
		}
		e.client = exchange.NewClient(cfg, auth, logger)
		if !auth.HasL2Credentials() {
			logger.Info("no L2 credentials, deriving API key via L1...")
			if _, err := e.client.DeriveAPIKey(context.Background()); err != nil {
				st.Close()
				return nil, err
			}
		}
		if cfg.Presign.Enabled {
			e.presigner = exchange.NewPresigner(e.client, cfg.Presign, logger)
		}
		placer = executor.NewLivePlacer(e.client, e.presigner, logger)
	}

	e.exec = executor.New(placer, st, cfg.Strategy, logger)
	e.res = resolver.New(st, cat, cfg.Strategy.Timeframe, cfg.PaperMode, logger)

	if cfg.SimulateFeed {
		e.simFeed = feed.NewSimulator(registry, books, e.handleUpdate, logger)
	} else {
		e.mktFeed = feed.New(cfg.API.WSMarketURL, registry, books, e.handleUpdate, logger)
	}

	e.rotator = feed.NewRotator(
		cat, registry, books, e.mktFeed,
		cfg.Strategy.Timeframe, cfg.Strategy.Symbols, cfg.Strategy.MaxWindowOffset,
		feed.RotationHooks{WindowsDropped: e.onWindowsDropped},
		logger,
	)

	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

// Start resolves the initial market set and launches all background tasks.
func (e *Engine) Start() error {
	if err := e.rotator.Bootstrap(e.ctx); err != nil {
		return err
	}

	if e.mktFeed != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.mktFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
				e.logger.Error("market feed error", "error", err)
			}
		}()
	}
	if e.simFeed != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.simFeed.Run(e.ctx)
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.rotator.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.res.Run(e.ctx)
	}()

	if e.presigner != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.presigner.Run(e.ctx, e.hotWindows)
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.drainDipEvents()
	}()

	return nil
}

// Stop shuts down: cancels all tasks, lets in-flight executions complete,
// cancels resting orders as a safety net, and flushes the store.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.cancel()
	e.wg.Wait()

	// Let in-flight executions finish; their outcomes still persist.
	e.execWG.Wait()

	// End any dips still open so every DIP_STARTED has a matching end.
	e.det.Close()
	e.flushDipEvents()

	if e.client != nil {
		cancelCtx, cancelCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := e.client.CancelAll(cancelCtx); err != nil {
			e.logger.Error("failed to cancel orders on shutdown", "error", err)
		}
		cancelCancel()
	}

	if e.mktFeed != nil {
		e.mktFeed.Close()
	}
	if err := e.st.Close(); err != nil {
		e.logger.Error("failed to close store", "error", err)
	}

	e.logger.Info("shutdown complete")
}

// handleUpdate runs inline on the ingest goroutine for every book update.
// Detection must not block; execution runs on its own goroutine.
func (e *Engine) handleUpdate(ob *book.Orderbook) {
	res := e.det.Detect(ob)
	if !res.Admitted() {
		return
	}
	opp := res.Opportunity

	e.saveAdmissionSnapshot(ob, opp)

	e.execWG.Add(1)
	go func() {
		defer e.execWG.Done()
		e.runExecution(opp)
	}()
}

func (e *Engine) runExecution(opp *types.DipOpportunity) {
	tokens := e.registry.ByWindow(opp.Window)
	if tokens == nil {
		// The window rotated out between detection and execution.
		e.logger.Warn("tokens gone before execution", "window", opp.Window)
		e.det.Release(opp.Window, opp.Symbol, false)
		return
	}

	// Deliberately not e.ctx: shutdown lets in-flight executions finish,
	// bounded by the order submission timeout.
	outcome := e.exec.Execute(context.Background(), opp, tokens)
	e.det.Release(opp.Window, opp.Symbol, outcome.Success)

	if outcome.Success {
		expProfit, _ := opp.ExpectedProfit.Float64()
		if err := e.st.LogEvent("EXECUTION", map[string]any{
			"position_id":     outcome.Position.ID,
			"market":          opp.Symbol,
			"window":          opp.Window,
			"expected_profit": expProfit,
			"order_ms":        outcome.OrderMS,
		}); err != nil {
			e.logger.Warn("log execution event", "error", err)
		}
		return
	}

	e.logger.Warn("execution failed", "window", opp.Window, "error", outcome.Err)
	if err := e.st.LogEvent("EXECUTION_FAILED", map[string]any{
		"market": opp.Symbol,
		"window": opp.Window,
		"error":  outcome.Err.Error(),
	}); err != nil {
		e.logger.Warn("log execution event", "error", err)
	}
}

// saveAdmissionSnapshot records the book state that justified an admission.
func (e *Engine) saveAdmissionSnapshot(ob *book.Orderbook, opp *types.DipOpportunity) {
	askUp, _ := opp.AskUp.Float64()
	askDn, _ := opp.AskDown.Float64()
	cost, _ := opp.BestCaseCost.Float64()
	liqUp, _ := opp.LiquidityUp.Float64()
	liqDn, _ := opp.LiquidityDown.Float64()

	rec := &store.SnapshotRecord{
		TS:          opp.Timestamp,
		Market:      opp.Symbol,
		BestAskUp:   askUp,
		BestAskDown: askDn,
		TotalCost:   cost,
		LiqUp5Pct:   &liqUp,
		LiqDown5Pct: &liqDn,
		DepthUp:     ob.Depth(types.OutcomeUp, 10),
		DepthDown:   ob.Depth(types.OutcomeDown, 10),
	}
	if err := e.st.SaveSnapshot(rec); err != nil {
		e.logger.Warn("save admission snapshot", "error", err)
	}
}

// hotWindows reports markets trading close enough to the threshold that
// pre-signing their order grid is worthwhile.
func (e *Engine) hotWindows() []*types.MarketTokens {
	threshold := decimal.NewFromFloat(e.cfg.Strategy.Threshold)
	cutoff := threshold.Add(hotMargin)

	var hot []*types.MarketTokens
	for _, byOffset := range e.registry.Snapshot() {
		for _, mt := range byOffset {
			ob := e.books.Get(mt.Key())
			if ob == nil || !ob.Ready() {
				continue
			}
			up, okUp := ob.BestAsk(types.OutcomeUp)
			dn, okDn := ob.BestAsk(types.OutcomeDown)
			if !okUp || !okDn {
				continue
			}
			if up.Price.Add(dn.Price).LessThan(cutoff) {
				hot = append(hot, mt)
			}
		}
	}
	return hot
}

// onWindowsDropped cleans per-window state when a rotation retires windows.
func (e *Engine) onWindowsDropped(keys []types.WindowKey) {
	for _, key := range keys {
		e.det.DropWindow(key)
		if e.presigner != nil {
			e.presigner.EvictWindow(key)
		}
	}
}

// drainDipEvents persists dip lifecycle events to the audit log.
func (e *Engine) drainDipEvents() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case evt := <-e.det.Events():
			e.logDipEvent(evt)
		}
	}
}

// flushDipEvents empties the event channel after shutdown began, so the
// DIP_ENDED events emitted by det.Close() still reach the store.
func (e *Engine) flushDipEvents() {
	for {
		select {
		case evt := <-e.det.Events():
			e.logDipEvent(evt)
		default:
			return
		}
	}
}

func (e *Engine) logDipEvent(evt detector.DipEvent) {
	startCost, _ := evt.StartCost.Float64()
	minCost, _ := evt.MinCost.Float64()
	data := map[string]any{
		"symbol":     evt.Symbol,
		"window":     evt.Window,
		"start_cost": startCost,
		"min_cost":   minCost,
	}
	if evt.Type == detector.DipEnded {
		maxLiqUp, _ := evt.MaxLiqUp.Float64()
		maxLiqDn, _ := evt.MaxLiqDn.Float64()
		data["duration_ms"] = evt.Duration.Milliseconds()
		data["updates"] = evt.Updates
		data["max_liquidity_up"] = maxLiqUp
		data["max_liquidity_down"] = maxLiqDn
	}
	if err := e.st.LogEvent(string(evt.Type), data); err != nil {
		e.logger.Warn("log dip event", "error", err)
	}
}

// Stats exposes the position store summary, e.g. for shutdown logging.
func (e *Engine) Stats() (*store.Stats, error) {
	return e.st.Stats()
}
