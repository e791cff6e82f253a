// simulator.go generates a synthetic update stream for offline runs
// (simulate_feed). It drives the same apply-and-callback path the live feed
// uses, so detection, execution and persistence behave identically.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/Francis-builds/polymarket-hourly-bot/internal/book"
	"github.com/Francis-builds/polymarket-hourly-bot/internal/catalog"
	"github.com/Francis-builds/polymarket-hourly-bot/pkg/types"
)

// Simulator emits random-walk orderbook snapshots for every tracked window.
// Roughly one update in twelve dips the combined cost below fair value, so a
// paper session regularly exercises the full trade path.
type Simulator struct {
	registry *catalog.Registry
	books    *book.Store
	onUpdate UpdateFunc
	interval time.Duration
	logger   *slog.Logger
}

// NewSimulator creates a synthetic feed.
func NewSimulator(registry *catalog.Registry, books *book.Store, onUpdate UpdateFunc, logger *slog.Logger) *Simulator {
	return &Simulator{
		registry: registry,
		books:    books,
		onUpdate: onUpdate,
		interval: 200 * time.Millisecond,
		logger:   logger.With("component", "sim_feed"),
	}
}

// Run emits updates until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	s.logger.Info("simulated feed started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Simulator) tick() {
	for _, byOffset := range s.registry.Snapshot() {
		for _, mt := range byOffset {
			s.emit(mt)
		}
	}
}

func (s *Simulator) emit(mt *types.MarketTokens) {
	// Fair value wanders around 0.5; the pair normally sums slightly above
	// 1.0 (the spread), and occasionally dips below it.
	mid := 0.35 + rand.Float64()*0.3
	spread := 0.01 + rand.Float64()*0.04
	if rand.IntN(12) == 0 {
		spread = -(0.02 + rand.Float64()*0.06) // dip
	}

	askUp := mid + spread/2
	askDn := (1 - mid) + spread/2

	ob := s.books.GetOrCreate(mt)
	if err := ob.ApplySnapshot(types.OutcomeUp, nil, syntheticLadder(askUp)); err != nil {
		s.logger.Warn("sim snapshot rejected", "error", err)
		return
	}
	if err := ob.ApplySnapshot(types.OutcomeDown, nil, syntheticLadder(askDn)); err != nil {
		s.logger.Warn("sim snapshot rejected", "error", err)
		return
	}
	if s.onUpdate != nil {
		s.onUpdate(ob)
	}
}

// syntheticLadder builds a three-level ask ladder starting at best, with
// sizes large enough to clear the minimum trade value.
func syntheticLadder(best float64) []types.RawLevel {
	if best < 0.06 {
		best = 0.06
	}
	if best > 0.94 {
		best = 0.94
	}
	size := 100 + rand.Float64()*400
	return []types.RawLevel{
		{Price: fmt.Sprintf("%.2f", best), Size: fmt.Sprintf("%.0f", size)},
		{Price: fmt.Sprintf("%.2f", best+0.01), Size: fmt.Sprintf("%.0f", size*2)},
		{Price: fmt.Sprintf("%.2f", best+0.02), Size: fmt.Sprintf("%.0f", size*4)},
	}
}
