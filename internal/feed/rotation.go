// rotation.go drives the clock-aligned window rotation.
//
// Two minutes before each window boundary the rotator pre-fetches the token
// ids of the post-boundary windows and stages them. At the boundary it
// atomically installs the new market set, rebuilds the token index, drops
// orderbooks and detector state for rotated-out windows, and cycles the push
// connection so the subscription moves to the new tokens. In-flight messages
// for old tokens fail the index lookup and are dropped harmlessly.
//
// Timers re-anchor to the wall clock after every firing, so drift never
// accumulates across cycles.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Francis-builds/polymarket-hourly-bot/internal/book"
	"github.com/Francis-builds/polymarket-hourly-bot/internal/catalog"
	"github.com/Francis-builds/polymarket-hourly-bot/internal/clock"
	"github.com/Francis-builds/polymarket-hourly-bot/pkg/types"
)

// prefetchLead is how long before the boundary the next windows are staged.
const prefetchLead = 2 * time.Minute

// RotationHooks let the engine react to rotations without the feed package
// depending on the detector or pre-signer.
type RotationHooks struct {
	WindowsDropped func(keys []types.WindowKey)
}

// Rotator owns MarketTokens mutation: it is the single writer of the
// registry after bootstrap.
type Rotator struct {
	cat       *catalog.Catalog
	registry  *catalog.Registry
	books     *book.Store
	feed      *Feed // nil when running against a simulated feed
	timeframe types.Timeframe
	symbols   []string
	maxOffset int
	hooks     RotationHooks
	logger    *slog.Logger

	// staged holds pre-fetched tokens for the post-boundary layout,
	// symbol → offset → tokens. Only the rotator goroutine touches it.
	staged map[string]map[int]*types.MarketTokens
}

// NewRotator creates the rotation task.
func NewRotator(
	cat *catalog.Catalog,
	registry *catalog.Registry,
	books *book.Store,
	fd *Feed,
	timeframe types.Timeframe,
	symbols []string,
	maxOffset int,
	hooks RotationHooks,
	logger *slog.Logger,
) *Rotator {
	return &Rotator{
		cat:       cat,
		registry:  registry,
		books:     books,
		feed:      fd,
		timeframe: timeframe,
		symbols:   symbols,
		maxOffset: maxOffset,
		hooks:     hooks,
		logger:    logger.With("component", "rotation"),
		staged:    make(map[string]map[int]*types.MarketTokens),
	}
}

// Bootstrap resolves the initial market set before the feed connects.
// A future window the exchange has not listed yet is recorded as absent and
// retried at the next pre-fetch.
func (r *Rotator) Bootstrap(ctx context.Context) error {
	periodStart := clock.PeriodStart(time.Now(), r.timeframe)
	resolved := 0
	for _, symbol := range r.symbols {
		for offset := 0; offset <= r.maxOffset; offset++ {
			periodTS := periodStart + int64(offset)*r.timeframe.PeriodSeconds()
			mt, err := r.cat.LookupAt(ctx, symbol, offset, periodTS)
			if err != nil {
				if errors.Is(err, catalog.ErrMarketNotFound) {
					r.logger.Warn("window not listed yet", "symbol", symbol, "offset", offset)
					continue
				}
				return err
			}
			r.registry.Set(symbol, offset, mt)
			resolved++
		}
	}
	if resolved == 0 {
		return errors.New("bootstrap: no markets resolved for any symbol")
	}
	r.logger.Info("bootstrap complete", "markets", resolved)
	return nil
}

// Run executes the pre-fetch / rotate cycle until ctx is cancelled.
func (r *Rotator) Run(ctx context.Context) {
	for {
		until := clock.UntilNextBoundary(time.Now(), r.timeframe)
		boundary := clock.NextBoundary(time.Now(), r.timeframe)

		prefetchIn := until - prefetchLead
		if prefetchIn < 0 {
			prefetchIn = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(prefetchIn):
		}
		r.prefetch(ctx, boundary)

		// Re-anchor the boundary wait to the wall clock.
		remaining := time.Until(time.Unix(boundary, 0))
		if remaining > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(remaining):
			}
		}
		r.rotate(boundary)
	}
}

// prefetch stages tokens for every (symbol, offset) of the post-boundary
// layout that is not already known. Lookups that fail with MarketNotFound
// are recorded and retried next cycle.
func (r *Rotator) prefetch(ctx context.Context, boundary int64) {
	known := r.registry.Snapshot()
	r.staged = make(map[string]map[int]*types.MarketTokens)

	for _, symbol := range r.symbols {
		byOffset := make(map[int]*types.MarketTokens)
		r.staged[symbol] = byOffset

		for offset := 0; offset <= r.maxOffset; offset++ {
			periodTS := boundary + int64(offset)*r.timeframe.PeriodSeconds()

			// Already tracked under the pre-boundary layout?
			if mt := findByPeriod(known[symbol], periodTS); mt != nil {
				shifted := *mt
				shifted.WindowOffset = offset
				byOffset[offset] = &shifted
				continue
			}

			mt, err := r.cat.LookupAt(ctx, symbol, offset, periodTS)
			if err != nil {
				if errors.Is(err, catalog.ErrMarketNotFound) {
					r.logger.Warn("pre-fetch: window not listed yet",
						"symbol", symbol, "offset", offset, "period", periodTS)
				} else {
					r.logger.Error("pre-fetch failed", "symbol", symbol, "offset", offset, "error", err)
				}
				continue
			}
			mt.WindowOffset = offset
			byOffset[offset] = mt
		}
	}
	r.logger.Info("pre-fetch complete", "boundary", boundary)
}

// rotate installs the staged layout: registry swap, book retention, dropped
// window notification, connection cycle.
func (r *Rotator) rotate(boundary int64) {
	oldKeys := make(map[types.WindowKey]bool)
	for _, byOffset := range r.registry.Snapshot() {
		for _, mt := range byOffset {
			oldKeys[mt.Key()] = true
		}
	}

	r.registry.ReplaceAll(r.staged)
	r.staged = make(map[string]map[int]*types.MarketTokens)

	keep := make(map[types.WindowKey]bool)
	for _, byOffset := range r.registry.Snapshot() {
		for _, mt := range byOffset {
			keep[mt.Key()] = true
		}
	}
	r.books.Retain(keep)

	var dropped []types.WindowKey
	for key := range oldKeys {
		if !keep[key] {
			dropped = append(dropped, key)
		}
	}
	if len(dropped) > 0 && r.hooks.WindowsDropped != nil {
		r.hooks.WindowsDropped(dropped)
	}

	if r.feed != nil {
		r.feed.CycleConnection()
	}

	r.logger.Info("rotation complete",
		"boundary", boundary,
		"tracked", len(keep),
		"dropped", len(dropped),
	)
}

func findByPeriod(byOffset map[int]*types.MarketTokens, periodTS int64) *types.MarketTokens {
	for _, mt := range byOffset {
		if mt != nil && mt.PeriodTS == periodTS {
			return mt
		}
	}
	return nil
}
