// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — timeframes, outcome
// sides, market token records, detection results, positions, and WebSocket
// event payloads. It has no dependencies on internal packages, so it can be
// imported by any layer.
package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Outcome names one of the two complementary sides of a binary market.
// Exactly one outcome resolves to $1, the other to $0.
type Outcome string

const (
	OutcomeUp   Outcome = "UP"
	OutcomeDown Outcome = "DOWN"
)

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// OrderType enumerates the supported order lifecycles.
type OrderType string

const (
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill: all or nothing
	OrderTypeFAK OrderType = "FAK" // Fill-And-Kill: fill what crosses, cancel the rest
	OrderTypeGTC OrderType = "GTC" // Good-Til-Cancelled
)

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet)
	SigProxy      SignatureType = 1 // Polymarket proxy / Magic wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// Timeframe selects which market family the bot trades. It drives the period
// length, the slug format, and the fee model (15m markets carry taker fees,
// the longer windows do not).
type Timeframe string

const (
	Timeframe15m   Timeframe = "15m"
	Timeframe1h    Timeframe = "1h"
	Timeframe4h    Timeframe = "4h"
	TimeframeDaily Timeframe = "daily"
)

// PeriodSeconds returns the window length in seconds.
func (tf Timeframe) PeriodSeconds() int64 {
	switch tf {
	case Timeframe15m:
		return 15 * 60
	case Timeframe1h:
		return 60 * 60
	case Timeframe4h:
		return 4 * 60 * 60
	case TimeframeDaily:
		return 24 * 60 * 60
	default:
		return 60 * 60
	}
}

// Period returns the window length as a duration.
func (tf Timeframe) Period() time.Duration {
	return time.Duration(tf.PeriodSeconds()) * time.Second
}

// HasFees reports whether this market family charges price-dependent taker
// fees. Only the 15-minute markets do.
func (tf Timeframe) HasFees() bool {
	return tf == Timeframe15m
}

// Valid reports whether tf is one of the supported timeframes.
func (tf Timeframe) Valid() bool {
	switch tf {
	case Timeframe15m, Timeframe1h, Timeframe4h, TimeframeDaily:
		return true
	}
	return false
}

// ————————————————————————————————————————————————————————————————————————
// Windows and market tokens
// ————————————————————————————————————————————————————————————————————————

// WindowKey uniquely identifies one (symbol, window) instance,
// e.g. "BTC:1767707100". It is the unit of admission serialisation.
type WindowKey string

// NewWindowKey builds the canonical key for a symbol and window start.
func NewWindowKey(symbol string, periodTS int64) WindowKey {
	return WindowKey(fmt.Sprintf("%s:%d", symbol, periodTS))
}

// MarketTokens is the resolved identity of one up/down market window.
// Created by the catalog on lookup, replaced in place on rotation.
type MarketTokens struct {
	Symbol       string // underlying, e.g. "BTC"
	WindowOffset int    // 0 = current window, 1 = next, ...
	WindowLabel  string // human-readable window label (the market slug)
	PeriodTS     int64  // unix seconds of the window start
	TokenUp      string // CLOB token ID for the UP outcome
	TokenDown    string // CLOB token ID for the DOWN outcome
	ConditionID  string // CTF condition ID
	Question     string // the market question
}

// Key returns the window key for this record.
func (mt *MarketTokens) Key() WindowKey {
	return NewWindowKey(mt.Symbol, mt.PeriodTS)
}

// TokenRef is one entry of the token index: it tells the feed which side of
// which window an incoming asset_id belongs to. The index is rebuilt
// atomically on every catalog change so demultiplexing stays O(1).
type TokenRef struct {
	Symbol  string
	Outcome Outcome
	Window  WindowKey
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level. Prices are quantized to the
// exchange tick (0.01); sizes are share quantities.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// RawLevel is the wire shape of a price level. The CLOB API returns prices
// and sizes as strings to preserve decimal precision.
type RawLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// Parse converts the wire level to a decimal PriceLevel.
func (r RawLevel) Parse() (PriceLevel, error) {
	p, err := decimal.NewFromString(r.Price)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("parse price %q: %w", r.Price, err)
	}
	s, err := decimal.NewFromString(r.Size)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("parse size %q: %w", r.Size, err)
	}
	return PriceLevel{Price: p, Size: s}, nil
}

// ————————————————————————————————————————————————————————————————————————
// Detection
// ————————————————————————————————————————————————————————————————————————

// DipOpportunity is the immutable output of a successful detection pass.
// All monetary fields are in USDC; percentage fields are 0–100.
type DipOpportunity struct {
	Symbol     string
	Window     WindowKey
	PeriodTS   int64
	Timestamp  time.Time
	DetectedAt time.Time // carries the monotonic clock for latency accounting

	AskUp   decimal.Decimal // best ask, UP side
	AskDown decimal.Decimal // best ask, DOWN side

	Shares    decimal.Decimal // share count per leg
	AvgFillUp decimal.Decimal // VWAP over the ladder for Shares
	AvgFillDn decimal.Decimal

	TotalCost      decimal.Decimal // VWAP-based cost per share pair
	BestCaseCost   decimal.Decimal // askUp + askDown
	TradeValue     decimal.Decimal // Shares × BestCaseCost
	Fees           decimal.Decimal
	ExpectedProfit decimal.Decimal
	ProfitPct      decimal.Decimal

	SlippageUp   decimal.Decimal
	SlippageDown decimal.Decimal

	LiquidityUp   decimal.Decimal // shares available at the walked levels
	LiquidityDown decimal.Decimal
	LevelsUsedUp  int
	LevelsUsedDn  int
}

// ————————————————————————————————————————————————————————————————————————
// Positions
// ————————————————————————————————————————————————————————————————————————

// PositionStatus is the lifecycle state of a persisted position.
type PositionStatus string

const (
	PositionOpen     PositionStatus = "open"
	PositionResolved PositionStatus = "resolved"
	PositionFailed   PositionStatus = "failed"
)

// Position is the durable record of one dual-leg trade. Created at order
// completion and mutated exactly once, Open → Resolved or Open → Failed.
// Pointer fields are analytical columns added over time; they stay nil when
// the information was never captured.
type Position struct {
	ID         string
	Market     string // symbol
	Window     WindowKey
	PeriodTS   int64
	OpenedAt   time.Time
	ResolvedAt *time.Time
	Status     PositionStatus

	CostUp    float64 // USDC spent on the UP leg
	CostDown  float64
	SizeUp    float64 // shares filled on the UP leg
	SizeDown  float64
	TotalCost float64

	ExpectedProfit float64
	AskUp          float64
	AskDown        float64

	LiquidityUp   *float64
	LiquidityDown *float64
	EstSlippage   *float64

	LatencyDetectMS *int64
	LatencyExecMS   *int64
	LatencyTotalMS  *int64

	Outcome      *string // "UP" or "DOWN" once resolved
	Payout       *float64
	Fees         *float64
	ActualProfit *float64
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// OrderRequest is the high-level order the executor hands to the exchange
// client, which converts it to a signed CTF order.
type OrderRequest struct {
	TokenID    string
	Price      decimal.Decimal // limit price in [0.01, 0.99]
	Size       decimal.Decimal // share quantity
	Side       Side
	OrderType  OrderType
	FeeRateBps int
}

// OrderResult is the normalized outcome of one order submission.
type OrderResult struct {
	Success  bool   `json:"success"`
	OrderID  string `json:"orderID"`
	TxHash   string `json:"transactionHash"`
	Filled   string `json:"filledAmount"` // shares actually filled, as a string
	AvgPrice string `json:"avgPrice"`
	Status   string `json:"status"`
	ErrorMsg string `json:"errorMsg"`
}

// FilledShares parses the filled amount, falling back to zero.
func (r OrderResult) FilledShares() decimal.Decimal {
	d, err := decimal.NewFromString(r.Filled)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// FillPrice parses the average fill price; ok is false when absent.
func (r OrderResult) FillPrice() (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(r.AvgPrice)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket payloads
// ————————————————————————————————————————————————————————————————————————
// These structs map to the JSON messages of the market channel. A message is
// either an array of updates, an object carrying price_changes, or a book
// snapshot keyed by event_type.

// WSSubscribeMsg is the initial subscription for the market channel.
type WSSubscribeMsg struct {
	Auth     *struct{} `json:"auth"` // always null for the public channel
	Type     string    `json:"type"` // "MARKET"
	AssetIDs []string  `json:"assets_ids"`
}

// WSBookEvent is a full order book snapshot. Some feed versions emit
// bids/asks, others buys/sells; both are accepted.
type WSBookEvent struct {
	EventType string     `json:"event_type"` // "book" or "book_snapshot"
	AssetID   string     `json:"asset_id"`
	Market    string     `json:"market"`
	Timestamp string     `json:"timestamp"`
	Hash      string     `json:"hash"`
	Bids      []RawLevel `json:"bids"`
	Asks      []RawLevel `json:"asks"`
	Buys      []RawLevel `json:"buys"`
	Sells     []RawLevel `json:"sells"`
}

// BidLevels returns the bid ladder regardless of which field carried it.
func (e *WSBookEvent) BidLevels() []RawLevel {
	if len(e.Bids) > 0 {
		return e.Bids
	}
	return e.Buys
}

// AskLevels returns the ask ladder regardless of which field carried it.
func (e *WSBookEvent) AskLevels() []RawLevel {
	if len(e.Asks) > 0 {
		return e.Asks
	}
	return e.Sells
}

// WSPriceChange is one top-of-book update within a price_change message.
// Size may be empty when the feed reports only the new best quote.
type WSPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"` // "BUY" (bid side) or "SELL" (ask side)
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
	Hash    string `json:"hash"`
}

// WSEnvelope is the minimal shape peeked at to route an incoming object
// message. Price/Size/Side are set when the object is itself a bare price
// change (array-element form).
type WSEnvelope struct {
	EventType    string          `json:"event_type"`
	Type         string          `json:"type"`
	AssetID      string          `json:"asset_id"`
	PriceChanges []WSPriceChange `json:"price_changes"`
	Price        string          `json:"price"`
	Size         string          `json:"size"`
	Side         string          `json:"side"`
	BestBid      string          `json:"best_bid"`
	BestAsk      string          `json:"best_ask"`
	Message      string          `json:"message"`
}

// ————————————————————————————————————————————————————————————————————————
// Tolerant decoding
// ————————————————————————————————————————————————————————————————————————

// FlexStrings decodes a JSON value that is either an array of strings or a
// JSON-encoded string containing such an array. The Gamma API uses both
// shapes for clobTokenIds, outcomes and outcomePrices.
type FlexStrings []string

// UnmarshalJSON implements the array-or-encoded-string decode.
func (f *FlexStrings) UnmarshalJSON(data []byte) error {
	var direct []string
	if err := json.Unmarshal(data, &direct); err == nil {
		*f = direct
		return nil
	}

	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return fmt.Errorf("flex strings: neither array nor string: %s", string(data))
	}
	if encoded == "" || encoded == "null" {
		*f = nil
		return nil
	}
	var inner []string
	if err := json.Unmarshal([]byte(encoded), &inner); err != nil {
		return fmt.Errorf("flex strings: decode embedded array: %w", err)
	}
	*f = inner
	return nil
}
