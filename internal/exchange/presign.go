// presign.go maintains a cache of signed orders for markets that are close
// to dipping, so the executor can skip the 200–400 ms signing step when an
// opportunity finally crosses the threshold.
//
// Orders are signed on a coarse grid of prices and sizes; a cache entry is
// refreshed after 25 s and evicted at 30 s, when its market cools off, or
// when its window rotates out. Pre-signing is best-effort: any failure is
// logged at debug level and the executor falls back to live signing.
package exchange

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Francis-builds/polymarket-hourly-bot/internal/config"
	"github.com/Francis-builds/polymarket-hourly-bot/pkg/types"
)

const (
	presignRefreshAge = 25 * time.Second
	presignEvictAge   = 30 * time.Second
)

// presignGridPrices is the price grid entries are signed at: 0.30 … 0.70 in
// 0.05 steps, covering where binary outcomes actually trade during dips.
var presignGridPrices = []string{
	"0.30", "0.35", "0.40", "0.45", "0.50", "0.55", "0.60", "0.65", "0.70",
}

// presignGridSizes are the share sizes entries are signed at.
var presignGridSizes = []string{"50", "100"}

// HotWindows reports the market windows currently worth pre-signing for
// (total cost within striking distance of the threshold).
type HotWindows func() []*types.MarketTokens

type presignKey struct {
	tokenID string
	side    types.Side
	price   string // 2dp fixed
	size    string // whole shares
}

type presignEntry struct {
	body      []byte
	window    types.WindowKey
	createdAt time.Time
}

// Presigner owns the signed-order cache and the maintenance loop.
type Presigner struct {
	client *Client
	cfg    config.PresignConfig
	logger *slog.Logger

	mu    sync.Mutex
	cache map[presignKey]*presignEntry
}

// NewPresigner creates a pre-sign cache over the given client.
func NewPresigner(client *Client, cfg config.PresignConfig, logger *slog.Logger) *Presigner {
	return &Presigner{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "presign"),
		cache:  make(map[presignKey]*presignEntry),
	}
}

// Take returns a fresh pre-signed payload matching the requested order, if
// one exists. The size is snapped down to the largest grid size not
// exceeding the requested size; the snapped size is returned so the caller
// can account for the actual order it is posting. ok is false on any miss.
func (p *Presigner) Take(tokenID string, side types.Side, price, size decimal.Decimal) (body []byte, actualSize decimal.Decimal, ok bool) {
	gridSize := ""
	for _, s := range presignGridSizes {
		d, _ := decimal.NewFromString(s)
		if d.LessThanOrEqual(size) {
			gridSize = s
			actualSize = d
		}
	}
	if gridSize == "" {
		return nil, decimal.Zero, false
	}

	key := presignKey{
		tokenID: tokenID,
		side:    side,
		price:   price.StringFixed(2),
		size:    gridSize,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	entry, hit := p.cache[key]
	if !hit || time.Since(entry.createdAt) >= presignEvictAge {
		return nil, decimal.Zero, false
	}
	// An entry is single-use: the salt must not be replayed.
	delete(p.cache, key)
	return entry.body, actualSize, true
}

// EvictWindow drops every cache entry belonging to a window, used by the
// rotation task.
func (p *Presigner) EvictWindow(window types.WindowKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, entry := range p.cache {
		if entry.window == window {
			delete(p.cache, key)
		}
	}
}

// Run maintains the cache until ctx is cancelled, waking every configured
// interval to sign missing entries and refresh aging ones for the currently
// hot windows.
func (p *Presigner) Run(ctx context.Context, hot HotWindows) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.maintain(hot())
		}
	}
}

func (p *Presigner) maintain(windows []*types.MarketTokens) {
	hotKeys := make(map[types.WindowKey]bool, len(windows))
	for _, mt := range windows {
		hotKeys[mt.Key()] = true
	}

	// Evict entries that aged out or whose market cooled.
	now := time.Now()
	p.mu.Lock()
	for key, entry := range p.cache {
		if now.Sub(entry.createdAt) >= presignEvictAge || !hotKeys[entry.window] {
			delete(p.cache, key)
		}
	}
	p.mu.Unlock()

	for _, mt := range windows {
		for _, tokenID := range []string{mt.TokenUp, mt.TokenDown} {
			for _, side := range []types.Side{types.BUY, types.SELL} {
				for _, price := range presignGridPrices {
					for _, size := range presignGridSizes {
						p.ensure(mt.Key(), tokenID, side, price, size)
					}
				}
			}
		}
	}
}

// ensure signs one grid entry if it is missing or due for refresh.
func (p *Presigner) ensure(window types.WindowKey, tokenID string, side types.Side, price, size string) {
	key := presignKey{tokenID: tokenID, side: side, price: price, size: size}

	p.mu.Lock()
	entry, ok := p.cache[key]
	fresh := ok && time.Since(entry.createdAt) < presignRefreshAge
	p.mu.Unlock()
	if fresh {
		return
	}

	priceDec, _ := decimal.NewFromString(price)
	sizeDec, _ := decimal.NewFromString(size)
	body, err := p.client.BuildPayload(types.OrderRequest{
		TokenID:   tokenID,
		Price:     priceDec,
		Size:      sizeDec,
		Side:      side,
		OrderType: types.OrderTypeFAK,
	})
	if err != nil {
		// Best-effort: the executor falls back to live signing.
		p.logger.Debug("presign failed", "token", tokenID, "price", price, "error", err)
		return
	}

	p.mu.Lock()
	p.cache[key] = &presignEntry{body: body, window: window, createdAt: time.Now()}
	p.mu.Unlock()
}

// CacheSize returns the number of live entries, for tests and logging.
func (p *Presigner) CacheSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cache)
}
