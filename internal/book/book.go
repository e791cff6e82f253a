// Package book maintains the local order book mirrors the detector reads.
//
// One Orderbook exists per (symbol, window) and holds both outcome sides.
// It is updated from two message shapes:
//   - full snapshots, which replace an entire side's ladders, and
//   - price changes, which only touch the best level.
//
// A price change that carries no size updates the best quote but leaves the
// deeper ladder in an untrusted state: liquidity and VWAP calculations then
// see only the top level until the next snapshot restores full depth.
//
// The Book is concurrency-safe (RWMutex protected); in the cooperative model
// the ingest goroutine is the only writer and the detector reads inline on
// the same goroutine.
package book

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Francis-builds/polymarket-hourly-bot/pkg/types"
)

// MinRealisticPrice is the floor below which a quote is treated as noise
// rather than a tradeable price.
var MinRealisticPrice = decimal.NewFromFloat(0.05)

// sideState holds one outcome's ladders.
type sideState struct {
	bids []types.PriceLevel // descending by price
	asks []types.PriceLevel // ascending by price

	// depthTrusted is false after a best-quote-only update: level 0 is
	// current but deeper sizes may be stale until the next snapshot.
	depthTrusted bool
}

// Orderbook mirrors one market window's book, both outcome sides.
type Orderbook struct {
	mu sync.RWMutex

	Symbol      string
	Window      types.WindowKey
	PeriodTS    int64
	WindowLabel string

	up      sideState
	down    sideState
	updated time.Time
}

// NewOrderbook creates an empty book for a market window.
func NewOrderbook(mt *types.MarketTokens) *Orderbook {
	return &Orderbook{
		Symbol:      mt.Symbol,
		Window:      mt.Key(),
		PeriodTS:    mt.PeriodTS,
		WindowLabel: mt.WindowLabel,
	}
}

func (b *Orderbook) side(o types.Outcome) *sideState {
	if o == types.OutcomeUp {
		return &b.up
	}
	return &b.down
}

// ApplySnapshot replaces both ladders of one outcome side. Levels with zero
// size are dropped, duplicates by price are rejected, and the ladders are
// sorted (asks ascending, bids descending).
func (b *Orderbook) ApplySnapshot(o types.Outcome, rawBids, rawAsks []types.RawLevel) error {
	bids, err := parseLadder(rawBids)
	if err != nil {
		return fmt.Errorf("snapshot bids: %w", err)
	}
	asks, err := parseLadder(rawAsks)
	if err != nil {
		return fmt.Errorf("snapshot asks: %w", err)
	}

	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })

	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.side(o)
	s.bids = bids
	s.asks = asks
	s.depthTrusted = true
	b.updated = time.Now()
	return nil
}

// parseLadder converts wire levels to decimals, dropping zero sizes and
// rejecting duplicate prices.
func parseLadder(raw []types.RawLevel) ([]types.PriceLevel, error) {
	out := make([]types.PriceLevel, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, rl := range raw {
		lvl, err := rl.Parse()
		if err != nil {
			return nil, err
		}
		if lvl.Size.IsZero() {
			continue
		}
		key := lvl.Price.String()
		if seen[key] {
			return nil, fmt.Errorf("duplicate price level %s", key)
		}
		seen[key] = true
		out = append(out, lvl)
	}
	return out, nil
}

// ApplyPriceChange updates the best level of one outcome side. When the
// message carries an explicit size, level 0 is replaced and any now-crossed
// deeper levels are dropped to keep the ladder sorted. When only a best
// quote is reported, the price moves but deeper depth becomes untrusted.
func (b *Orderbook) ApplyPriceChange(o types.Outcome, pc types.WSPriceChange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.side(o)

	isAsk := pc.Side == string(types.SELL)

	price, perr := decimal.NewFromString(pc.Price)
	size, serr := decimal.NewFromString(pc.Size)

	if perr == nil && serr == nil {
		if isAsk {
			s.asks = setBest(s.asks, types.PriceLevel{Price: price, Size: size}, true)
		} else {
			s.bids = setBest(s.bids, types.PriceLevel{Price: price, Size: size}, false)
		}
		b.updated = time.Now()
		return
	}

	// Quote-only update: move the best price, keep the displayed size
	// opaque, and stop trusting deeper levels for sizing.
	best := pc.BestAsk
	ladder := &s.asks
	ascending := true
	if !isAsk {
		best = pc.BestBid
		ladder = &s.bids
		ascending = false
	}
	bp, err := decimal.NewFromString(best)
	if err != nil {
		return
	}
	carry := decimal.Zero
	if len(*ladder) > 0 {
		carry = (*ladder)[0].Size
	}
	*ladder = setBest(*ladder, types.PriceLevel{Price: bp, Size: carry}, ascending)
	s.depthTrusted = false
	b.updated = time.Now()
}

// setBest installs lvl as the ladder's first element, dropping deeper levels
// the new best would cross. Zero size deletes the level instead.
func setBest(ladder []types.PriceLevel, lvl types.PriceLevel, ascending bool) []types.PriceLevel {
	rest := ladder
	if len(rest) > 0 {
		rest = rest[1:]
	}
	// Drop deeper levels that would now sort before the new best.
	for len(rest) > 0 {
		if ascending && rest[0].Price.GreaterThan(lvl.Price) {
			break
		}
		if !ascending && rest[0].Price.LessThan(lvl.Price) {
			break
		}
		rest = rest[1:]
	}
	if lvl.Size.IsZero() {
		return append([]types.PriceLevel{}, rest...)
	}
	out := make([]types.PriceLevel, 0, len(rest)+1)
	out = append(out, lvl)
	return append(out, rest...)
}

// BestAsk returns the lowest ask for an outcome side.
func (b *Orderbook) BestAsk(o types.Outcome) (types.PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.side(o)
	if len(s.asks) == 0 {
		return types.PriceLevel{}, false
	}
	return s.asks[0], true
}

// Ready reports whether both sides have a best ask. A side momentarily empty
// while a snapshot is in flight makes the book not ready — never a zero-cost
// opportunity.
func (b *Orderbook) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.up.asks) > 0 && len(b.down.asks) > 0
}

// FillPlan is the result of walking an ask ladder for a target share count.
type FillPlan struct {
	VWAP      decimal.Decimal // volume-weighted average price over the fill
	Filled    decimal.Decimal // shares available, ≤ requested
	Levels    int             // ladder levels consumed
	Liquidity decimal.Decimal // total shares on the usable ladder
}

// WalkAsks computes the VWAP for filling up to shares on one outcome side.
// When depth is untrusted only the top level participates.
func (b *Orderbook) WalkAsks(o types.Outcome, shares decimal.Decimal) (FillPlan, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.side(o)
	if len(s.asks) == 0 {
		return FillPlan{}, false
	}

	usable := s.asks
	if !s.depthTrusted {
		usable = s.asks[:1]
	}

	liquidity := decimal.Zero
	for _, lvl := range usable {
		liquidity = liquidity.Add(lvl.Size)
	}

	remaining := shares
	cost := decimal.Zero
	filled := decimal.Zero
	levels := 0
	for _, lvl := range usable {
		if remaining.IsZero() || remaining.IsNegative() {
			break
		}
		take := decimal.Min(remaining, lvl.Size)
		cost = cost.Add(take.Mul(lvl.Price))
		filled = filled.Add(take)
		remaining = remaining.Sub(take)
		levels++
	}
	if filled.IsZero() {
		return FillPlan{Liquidity: liquidity}, false
	}

	return FillPlan{
		VWAP:      cost.Div(filled),
		Filled:    filled,
		Levels:    levels,
		Liquidity: liquidity,
	}, true
}

// Depth returns up to n ask levels of one side, for audit snapshots.
func (b *Orderbook) Depth(o types.Outcome, n int) []types.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.side(o)
	if len(s.asks) < n {
		n = len(s.asks)
	}
	out := make([]types.PriceLevel, n)
	copy(out, s.asks[:n])
	return out
}

// LastUpdate returns the timestamp of the last applied message.
func (b *Orderbook) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}

// ————————————————————————————————————————————————————————————————————————
// Store
// ————————————————————————————————————————————————————————————————————————

// Store holds the live orderbooks keyed by window. The ingest goroutine
// writes; rotation drops books whose windows rotated out.
type Store struct {
	mu    sync.RWMutex
	books map[types.WindowKey]*Orderbook
}

// NewStore creates an empty book store.
func NewStore() *Store {
	return &Store{books: make(map[types.WindowKey]*Orderbook)}
}

// GetOrCreate returns the book for a window, creating it on first touch.
func (s *Store) GetOrCreate(mt *types.MarketTokens) *Orderbook {
	key := mt.Key()
	s.mu.RLock()
	b, ok := s.books[key]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.books[key]; ok {
		return b
	}
	b = NewOrderbook(mt)
	s.books[key] = b
	return b
}

// Get returns the book for a window, or nil.
func (s *Store) Get(key types.WindowKey) *Orderbook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.books[key]
}

// Retain drops every book whose window is not in keep.
func (s *Store) Retain(keep map[types.WindowKey]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.books {
		if !keep[key] {
			delete(s.books, key)
		}
	}
}
