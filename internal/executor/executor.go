// Package executor submits the two legs of an admitted dip trade and
// reconciles partial failures.
//
// Both legs go out in parallel as Fill-And-Kill orders with a small
// price-protection buffer over the detected asks. If exactly one leg fails,
// a compensating SELL unwinds the filled side; a rollback that itself fails
// leaves a Failed position in the store for operator reconciliation and is
// the only fatal-for-the-trade path. Latency from detection to order
// completion is recorded on every successful position.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Francis-builds/polymarket-hourly-bot/internal/config"
	"github.com/Francis-builds/polymarket-hourly-bot/pkg/types"
)

// ErrRollbackFailed marks a partial fill whose compensating SELL also
// failed: the residual position needs manual intervention.
var ErrRollbackFailed = errors.New("rollback failed: manual intervention required")

// ErrCostAboveLimit rejects opportunities whose cost drifted past the
// executor's own cutoff between detection and execution.
var ErrCostAboveLimit = errors.New("total cost above executor limit")

// priceBuffer is added to each leg's limit price so small adverse moves
// between detection and matching still fill.
var priceBuffer = decimal.NewFromFloat(0.02)

// rollbackDiscount is subtracted from the entry price when unwinding a
// single filled leg, so the exit crosses the book immediately.
var rollbackDiscount = decimal.NewFromFloat(0.05)

// OrderPlacer submits one order. The live implementation signs (or pulls a
// pre-signed payload) and POSTs; the paper implementation simulates fills.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error)
}

// PositionWriter is the slice of the store the executor needs.
type PositionWriter interface {
	Save(pos *types.Position) error
}

// Outcome is the result of one Execute call. Exactly one of Position or Err
// is meaningful; every admitted opportunity produces exactly one Outcome.
type Outcome struct {
	Success  bool
	Position *types.Position
	Err      error
	OrderMS  int64 // submission latency, order start → both legs done
}

// Executor coordinates dual-leg submissions.
type Executor struct {
	placer OrderPlacer
	store  PositionWriter
	logger *slog.Logger

	maxTotalCost decimal.Decimal
	feeRate      func(price decimal.Decimal) decimal.Decimal
}

// New creates an executor.
func New(placer OrderPlacer, store PositionWriter, cfg config.StrategyConfig, logger *slog.Logger) *Executor {
	return &Executor{
		placer:       placer,
		store:        store,
		logger:       logger.With("component", "executor"),
		maxTotalCost: decimal.NewFromFloat(cfg.MaxTotalCost),
	}
}

// Execute runs the dual-leg trade for an admitted opportunity. The caller
// holds the market's admission slot and must release it with the returned
// outcome's Success flag.
func (e *Executor) Execute(ctx context.Context, opp *types.DipOpportunity, tokens *types.MarketTokens) Outcome {
	start := time.Now()

	if opp.TotalCost.GreaterThan(e.maxTotalCost) {
		return Outcome{Err: fmt.Errorf("%w: %s > %s", ErrCostAboveLimit, opp.TotalCost, e.maxTotalCost)}
	}

	upReq := types.OrderRequest{
		TokenID:   tokens.TokenUp,
		Price:     opp.AskUp.Add(priceBuffer),
		Size:      opp.Shares,
		Side:      types.BUY,
		OrderType: types.OrderTypeFAK,
	}
	dnReq := types.OrderRequest{
		TokenID:   tokens.TokenDown,
		Price:     opp.AskDown.Add(priceBuffer),
		Size:      opp.Shares,
		Side:      types.BUY,
		OrderType: types.OrderTypeFAK,
	}

	var (
		wg            sync.WaitGroup
		upRes, dnRes  *types.OrderResult
		upErr, dnErr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		upRes, upErr = e.placer.PlaceOrder(ctx, upReq)
	}()
	go func() {
		defer wg.Done()
		dnRes, dnErr = e.placer.PlaceOrder(ctx, dnReq)
	}()
	wg.Wait()

	orderMS := time.Since(start).Milliseconds()

	upOK := upErr == nil && upRes != nil && upRes.Success
	dnOK := dnErr == nil && dnRes != nil && dnRes.Success

	switch {
	case upOK && dnOK:
		pos := e.buildPosition(opp, upRes, dnRes, start, orderMS)
		if err := e.store.Save(pos); err != nil {
			e.logger.Error("persist position failed", "position", pos.ID, "error", err)
		}
		e.logger.Info("trade executed",
			"symbol", opp.Symbol,
			"window", opp.Window,
			"size_up", pos.SizeUp,
			"size_down", pos.SizeDown,
			"total_cost", pos.TotalCost,
			"order_ms", orderMS,
		)
		return Outcome{Success: true, Position: pos, OrderMS: orderMS}

	case upOK && !dnOK:
		err := e.rollback(ctx, opp, tokens.TokenUp, upRes, legError(dnRes, dnErr), start, orderMS)
		return Outcome{Err: err, OrderMS: orderMS}

	case !upOK && dnOK:
		err := e.rollback(ctx, opp, tokens.TokenDown, dnRes, legError(upRes, upErr), start, orderMS)
		return Outcome{Err: err, OrderMS: orderMS}

	default:
		err := fmt.Errorf("both legs rejected: up: %v, down: %v", legError(upRes, upErr), legError(dnRes, dnErr))
		e.logger.Warn("trade failed", "symbol", opp.Symbol, "error", err)
		return Outcome{Err: err, OrderMS: orderMS}
	}
}

// rollback unwinds the single filled leg with a best-effort compensating
// SELL. A rollback failure persists the residual as a Failed position.
func (e *Executor) rollback(ctx context.Context, opp *types.DipOpportunity, tokenID string, filledLeg *types.OrderResult, cause error, start time.Time, orderMS int64) error {
	filled := filledLeg.FilledShares()
	e.logger.Warn("partial fill, rolling back",
		"symbol", opp.Symbol,
		"token", tokenID,
		"filled", filled.String(),
		"cause", cause,
	)

	if filled.IsZero() {
		// The "successful" leg matched nothing; there is nothing to unwind.
		return fmt.Errorf("one leg rejected: %w", cause)
	}

	price, ok := filledLeg.FillPrice()
	if !ok {
		price = opp.AskUp // conservative fallback; both asks sit near each other in a dip
	}
	sellPrice := price.Sub(rollbackDiscount)
	if sellPrice.LessThan(decimal.NewFromFloat(0.01)) {
		sellPrice = decimal.NewFromFloat(0.01)
	}

	res, err := e.placer.PlaceOrder(ctx, types.OrderRequest{
		TokenID:   tokenID,
		Price:     sellPrice,
		Size:      filled,
		Side:      types.SELL,
		OrderType: types.OrderTypeFAK,
	})
	if err == nil && res != nil && res.Success {
		e.logger.Info("rollback complete",
			"symbol", opp.Symbol,
			"token", tokenID,
			"sold", res.FilledShares().String(),
		)
		return fmt.Errorf("one leg rejected, rolled back: %w", cause)
	}

	// Rollback failed: record the residual so an operator can reconcile.
	e.logger.Error("rollback failed, manual intervention required",
		"symbol", opp.Symbol,
		"token", tokenID,
		"filled", filled.String(),
		"rollback_error", legError(res, err),
	)

	pos := e.buildPosition(opp, filledLeg, nil, start, orderMS)
	pos.Status = types.PositionFailed
	if err := e.store.Save(pos); err != nil {
		e.logger.Error("persist failed position", "position", pos.ID, "error", err)
	}
	return fmt.Errorf("%w: %s holds %s shares of %s", ErrRollbackFailed, opp.Symbol, filled, tokenID)
}

// buildPosition assembles the durable record from the actual fills. Either
// leg result may be nil (failed leg on a Failed position).
func (e *Executor) buildPosition(opp *types.DipOpportunity, upRes, dnRes *types.OrderResult, start time.Time, orderMS int64) *types.Position {
	sizeUp, costUp := legFill(upRes, opp.AvgFillUp)
	sizeDn, costDn := legFill(dnRes, opp.AvgFillDn)

	detectMS := start.Sub(opp.DetectedAt).Milliseconds()
	totalMS := detectMS + orderMS

	liqUp, _ := opp.LiquidityUp.Float64()
	liqDn, _ := opp.LiquidityDown.Float64()
	slip, _ := opp.SlippageUp.Add(opp.SlippageDown).Div(decimal.NewFromInt(2)).Float64()
	fees, _ := opp.Fees.Float64()
	expProfit, _ := opp.ExpectedProfit.Float64()
	askUp, _ := opp.AskUp.Float64()
	askDn, _ := opp.AskDown.Float64()

	return &types.Position{
		ID:              uuid.NewString(),
		Market:          opp.Symbol,
		Window:          opp.Window,
		PeriodTS:        opp.PeriodTS,
		OpenedAt:        start,
		Status:          types.PositionOpen,
		CostUp:          costUp,
		CostDown:        costDn,
		SizeUp:          sizeUp,
		SizeDown:        sizeDn,
		TotalCost:       costUp + costDn,
		ExpectedProfit:  expProfit,
		AskUp:           askUp,
		AskDown:         askDn,
		LiquidityUp:     &liqUp,
		LiquidityDown:   &liqDn,
		EstSlippage:     &slip,
		LatencyDetectMS: &detectMS,
		LatencyExecMS:   &orderMS,
		LatencyTotalMS:  &totalMS,
		Fees:            &fees,
	}
}

// legFill extracts the filled size and cost of one leg, falling back to the
// expected average price when the venue omits it.
func legFill(res *types.OrderResult, expectedAvg decimal.Decimal) (size, cost float64) {
	if res == nil {
		return 0, 0
	}
	filled := res.FilledShares()
	price, ok := res.FillPrice()
	if !ok {
		price = expectedAvg
	}
	size, _ = filled.Float64()
	cost, _ = filled.Mul(price).Float64()
	return size, cost
}

func legError(res *types.OrderResult, err error) error {
	if err != nil {
		return err
	}
	if res != nil && res.ErrorMsg != "" {
		return errors.New(res.ErrorMsg)
	}
	return errors.New("order rejected")
}
