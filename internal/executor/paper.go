package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Francis-builds/polymarket-hourly-bot/pkg/types"
)

// PaperPlacer simulates order submission for paper trading:
//   - 0–1% random upward slippage on the fill price
//   - 50–150 ms random submission delay
//   - 5% outright rejection probability
//
// Fills are always complete. Positions produced through this path share the
// live schema, so the analysis surface is identical.
type PaperPlacer struct {
	logger *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
	seq int
}

// NewPaperPlacer creates a simulator. The seed pins the fill sequence for
// tests; production callers pass a varying seed.
func NewPaperPlacer(seed uint64, logger *slog.Logger) *PaperPlacer {
	return &PaperPlacer{
		logger: logger.With("component", "paper_placer"),
		rng:    rand.New(rand.NewPCG(seed, seed)),
	}
}

// PlaceOrder simulates one fill.
func (p *PaperPlacer) PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	p.mu.Lock()
	delay := time.Duration(50+p.rng.IntN(100)) * time.Millisecond
	reject := p.rng.Float64() < 0.05
	slip := p.rng.Float64() * 0.01
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(delay):
	}

	if reject {
		return &types.OrderResult{
			Success:  false,
			ErrorMsg: "simulated rejection",
			Status:   "rejected",
		}, nil
	}

	fillPrice := req.Price.Mul(decimal.NewFromFloat(1 + slip))
	if fillPrice.GreaterThan(decimal.NewFromFloat(0.99)) {
		fillPrice = decimal.NewFromFloat(0.99)
	}

	return &types.OrderResult{
		Success:  true,
		OrderID:  fmt.Sprintf("paper-%d", seq),
		Filled:   req.Size.String(),
		AvgPrice: fillPrice.StringFixed(4),
		Status:   "matched",
	}, nil
}
