// Package catalog resolves (symbol, window offset) pairs to the exchange's
// market token identifiers, and owns the registry the rest of the bot reads
// them from.
//
// The exchange addresses the up/down market families by slug:
//
//	15m:    {symbol}-updown-15m-{unix seconds}
//	hourly: {full name}-up-or-down-{month}-{day}-{hour12}{am|pm}-et
//	daily:  {full name}-up-or-down-{month}-{day}-et
//
// Lookup tries the exact slug first, then falls back to a contains-search and
// picks the lexicographically greatest match, which for timestamp- and
// date-ordered slugs is the most recent listing.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Francis-builds/polymarket-hourly-bot/internal/clock"
	"github.com/Francis-builds/polymarket-hourly-bot/internal/config"
	"github.com/Francis-builds/polymarket-hourly-bot/pkg/types"
)

// ErrMarketNotFound is returned when no active market exists for the
// requested window after all slug fallbacks. At rotation time this is
// expected for future windows the exchange has not listed yet.
var ErrMarketNotFound = errors.New("market not found")

// fullNames maps ticker symbols to the long-form names used in hourly and
// daily slugs. Symbols missing here fall back to the lowercase ticker.
var fullNames = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"XRP":  "xrp",
	"DOGE": "dogecoin",
}

// GammaMarket is the JSON shape returned by the markets endpoint.
// ClobTokenIds, Outcomes and OutcomePrices arrive either as JSON arrays or
// as JSON-encoded strings; FlexStrings tolerates both.
type GammaMarket struct {
	ID            string            `json:"id"`
	Question      string            `json:"question"`
	ConditionID   string            `json:"conditionId"`
	Slug          string            `json:"slug"`
	Active        bool              `json:"active"`
	Closed        bool              `json:"closed"`
	Resolved      bool              `json:"resolved"`
	EndDate       string            `json:"endDate"`
	Outcomes      types.FlexStrings `json:"outcomes"`
	OutcomePrices types.FlexStrings `json:"outcomePrices"`
	ClobTokenIds  types.FlexStrings `json:"clobTokenIds"`
}

// Catalog performs market lookups against the Gamma API.
type Catalog struct {
	http      *resty.Client
	timeframe types.Timeframe
	logger    *slog.Logger
}

// New creates a catalog client.
func New(cfg config.Config, logger *slog.Logger) *Catalog {
	client := resty.New().
		SetBaseURL(cfg.API.GammaBaseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &Catalog{
		http:      client,
		timeframe: cfg.Strategy.Timeframe,
		logger:    logger.With("component", "catalog"),
	}
}

// Slug builds the exchange slug for a symbol and window start.
func (c *Catalog) Slug(symbol string, periodTS int64) string {
	sym := strings.ToLower(symbol)
	if c.timeframe == types.Timeframe15m {
		return fmt.Sprintf("%s-updown-15m-%d", sym, periodTS)
	}

	name, ok := fullNames[strings.ToUpper(symbol)]
	if !ok {
		name = sym
	}
	frags := clock.FragmentsAt(periodTS)
	if c.timeframe == types.TimeframeDaily {
		return fmt.Sprintf("%s-up-or-down-%s-%d-et", name, frags.Month, frags.Day)
	}
	return fmt.Sprintf("%s-up-or-down-%s-%d-%d%s-et", name, frags.Month, frags.Day, frags.Hour12, frags.AMPM)
}

// SlugPrefix returns the stable prefix used by the fallback contains-search.
func (c *Catalog) SlugPrefix(symbol string) string {
	sym := strings.ToLower(symbol)
	if c.timeframe == types.Timeframe15m {
		return fmt.Sprintf("%s-updown-15m-", sym)
	}
	name, ok := fullNames[strings.ToUpper(symbol)]
	if !ok {
		name = sym
	}
	return fmt.Sprintf("%s-up-or-down-", name)
}

// Lookup resolves the market tokens for a symbol at the given window offset
// from now. Returns ErrMarketNotFound when the exchange has no active
// listing for that window.
func (c *Catalog) Lookup(ctx context.Context, symbol string, offset int) (*types.MarketTokens, error) {
	periodTS := clock.PeriodStart(time.Now(), c.timeframe) + int64(offset)*c.timeframe.PeriodSeconds()
	return c.LookupAt(ctx, symbol, offset, periodTS)
}

// LookupAt resolves the market tokens for an explicit window start.
func (c *Catalog) LookupAt(ctx context.Context, symbol string, offset int, periodTS int64) (*types.MarketTokens, error) {
	slug := c.Slug(symbol, periodTS)

	m, err := c.fetchBySlug(ctx, slug, true)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m, err = c.searchByPrefix(ctx, symbol, slug)
		if err != nil {
			return nil, err
		}
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s offset %d (slug %s)", ErrMarketNotFound, symbol, offset, slug)
	}

	tokens, err := tokensFromMarket(m, symbol, offset, periodTS)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("market resolved",
		"symbol", symbol,
		"offset", offset,
		"slug", m.Slug,
		"condition_id", tokens.ConditionID,
	)
	return tokens, nil
}

// FetchRaw fetches a market by slug without activity filtering. Used by the
// resolution tracker, which needs closed markets.
func (c *Catalog) FetchRaw(ctx context.Context, slug string) (*GammaMarket, error) {
	return c.fetchBySlug(ctx, slug, false)
}

func (c *Catalog) fetchBySlug(ctx context.Context, slug string, activeOnly bool) (*GammaMarket, error) {
	params := map[string]string{"slug": slug}
	if activeOnly {
		params["active"] = "true"
	}

	var markets []GammaMarket
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&markets).
		Get("/markets")
	if err != nil {
		return nil, fmt.Errorf("fetch market %s: %w", slug, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch market %s: status %d", slug, resp.StatusCode())
	}
	if len(markets) == 0 {
		return nil, nil
	}
	return &markets[0], nil
}

// searchByPrefix is the fallback path: list markets whose slug contains the
// family prefix and keep the lexicographically greatest one matching the
// pattern. Slugs embed either a unix timestamp or an ordered date, so the
// greatest slug is the newest window.
func (c *Catalog) searchByPrefix(ctx context.Context, symbol, wantSlug string) (*GammaMarket, error) {
	prefix := c.SlugPrefix(symbol)

	var markets []GammaMarket
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"slug_contains": prefix,
			"active":        "true",
			"closed":        "false",
		}).
		SetResult(&markets).
		Get("/markets")
	if err != nil {
		return nil, fmt.Errorf("search markets %s: %w", prefix, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("search markets %s: status %d", prefix, resp.StatusCode())
	}

	var candidates []GammaMarket
	for _, m := range markets {
		if strings.HasPrefix(m.Slug, prefix) && m.Active && !m.Closed {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Slug > candidates[j].Slug
	})

	c.logger.Debug("slug fallback hit",
		"wanted", wantSlug,
		"picked", candidates[0].Slug,
	)
	return &candidates[0], nil
}

// tokensFromMarket pairs the outcome labels with the token ids and
// identifies which side is UP. Outcome labels vary ("Up"/"Down",
// "Yes"/"No"), so matching is case-insensitive.
func tokensFromMarket(m *GammaMarket, symbol string, offset int, periodTS int64) (*types.MarketTokens, error) {
	if len(m.ClobTokenIds) < 2 || len(m.Outcomes) < 2 {
		return nil, fmt.Errorf("market %s: need 2 outcomes and 2 token ids, got %d/%d",
			m.Slug, len(m.Outcomes), len(m.ClobTokenIds))
	}

	var up, down string
	for i, outcome := range m.Outcomes {
		if i >= len(m.ClobTokenIds) {
			break
		}
		switch strings.ToLower(outcome) {
		case "up", "yes":
			up = m.ClobTokenIds[i]
		case "down", "no":
			down = m.ClobTokenIds[i]
		}
	}
	if up == "" || down == "" {
		return nil, fmt.Errorf("market %s: cannot identify up/down outcomes in %v", m.Slug, m.Outcomes)
	}

	return &types.MarketTokens{
		Symbol:       strings.ToUpper(symbol),
		WindowOffset: offset,
		WindowLabel:  m.Slug,
		PeriodTS:     periodTS,
		TokenUp:      up,
		TokenDown:    down,
		ConditionID:  m.ConditionID,
		Question:     m.Question,
	}, nil
}
