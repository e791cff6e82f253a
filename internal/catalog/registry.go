package catalog

import (
	"sync"

	"github.com/Francis-builds/polymarket-hourly-bot/pkg/types"
)

// Registry owns the live MarketTokens records and the token index derived
// from them. The rotation task is the only writer; the feed and executor
// read concurrently. The index is rebuilt as a fresh map and swapped under
// the lock, so readers observe either the old or the new index, never a
// half-updated one.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]map[int]*types.MarketTokens // symbol → offset → tokens
	index   map[string]types.TokenRef              // token id → ref
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		markets: make(map[string]map[int]*types.MarketTokens),
		index:   make(map[string]types.TokenRef),
	}
}

// Set installs (or replaces) the tokens for one (symbol, offset) and rebuilds
// the index. A nil tokens value records that the window is not listed yet.
func (r *Registry) Set(symbol string, offset int, tokens *types.MarketTokens) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byOffset, ok := r.markets[symbol]
	if !ok {
		byOffset = make(map[int]*types.MarketTokens)
		r.markets[symbol] = byOffset
	}
	if tokens == nil {
		delete(byOffset, offset)
	} else {
		byOffset[offset] = tokens
	}
	r.rebuildIndexLocked()
}

// ReplaceAll atomically installs a complete new market set, e.g. at a
// rotation boundary. Offsets absent from the new set are dropped.
func (r *Registry) ReplaceAll(next map[string]map[int]*types.MarketTokens) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.markets = make(map[string]map[int]*types.MarketTokens, len(next))
	for symbol, byOffset := range next {
		clean := make(map[int]*types.MarketTokens, len(byOffset))
		for offset, mt := range byOffset {
			if mt != nil {
				clean[offset] = mt
			}
		}
		r.markets[symbol] = clean
	}
	r.rebuildIndexLocked()
}

func (r *Registry) rebuildIndexLocked() {
	index := make(map[string]types.TokenRef)
	for symbol, byOffset := range r.markets {
		for _, mt := range byOffset {
			index[mt.TokenUp] = types.TokenRef{Symbol: symbol, Outcome: types.OutcomeUp, Window: mt.Key()}
			index[mt.TokenDown] = types.TokenRef{Symbol: symbol, Outcome: types.OutcomeDown, Window: mt.Key()}
		}
	}
	r.index = index
}

// Resolve looks up an incoming asset id. ok is false for tokens the bot does
// not track (stale windows, other markets).
func (r *Registry) Resolve(tokenID string) (types.TokenRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.index[tokenID]
	return ref, ok
}

// Get returns the tokens for a (symbol, offset), or nil when unresolved.
func (r *Registry) Get(symbol string, offset int) *types.MarketTokens {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.markets[symbol][offset]
}

// ByWindow returns the tokens for a window key, or nil.
func (r *Registry) ByWindow(key types.WindowKey) *types.MarketTokens {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, byOffset := range r.markets {
		for _, mt := range byOffset {
			if mt.Key() == key {
				return mt
			}
		}
	}
	return nil
}

// AllTokenIDs returns every tracked token id, the subscription set for the
// market channel.
func (r *Registry) AllTokenIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.index))
	for id := range r.index {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns a copy of the current market set, used by the rotation
// task to build the next generation without holding the lock.
func (r *Registry) Snapshot() map[string]map[int]*types.MarketTokens {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]map[int]*types.MarketTokens, len(r.markets))
	for symbol, byOffset := range r.markets {
		cp := make(map[int]*types.MarketTokens, len(byOffset))
		for offset, mt := range byOffset {
			cp[offset] = mt
		}
		out[symbol] = cp
	}
	return out
}
