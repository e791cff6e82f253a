// Package feed maintains the push connection to the exchange's market
// channel and keeps the local orderbooks current.
//
// One long-lived WebSocket subscribes to the union of token ids across all
// tracked windows. Incoming updates are demultiplexed through the catalog's
// token index (O(1) per message); updates for unknown tokens — stale windows,
// other markets — are dropped. After every applied update the registered
// callback runs inline, which is where detection happens: the callback must
// not block.
//
// The connection auto-reconnects with exponential-bounded backoff and
// re-subscribes to the current full token set, so a rotation only needs to
// cycle the connection to move it to the new windows.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Francis-builds/polymarket-hourly-bot/internal/book"
	"github.com/Francis-builds/polymarket-hourly-bot/internal/catalog"
	"github.com/Francis-builds/polymarket-hourly-bot/pkg/types"
)

const (
	pingInterval     = 50 * time.Second // how often we send PING to keep alive
	readTimeout      = 90 * time.Second // ~2 missed pings triggers reconnect
	reconnectWait    = 5 * time.Second  // initial reconnect delay
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	writeTimeout     = 10 * time.Second // deadline for outgoing messages
)

// UpdateFunc runs inline after each applied orderbook update.
type UpdateFunc func(*book.Orderbook)

// Feed manages the market-channel WebSocket connection.
type Feed struct {
	url      string
	registry *catalog.Registry
	books    *book.Store
	onUpdate UpdateFunc
	logger   *slog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	// forced marks a deliberate connection cycle (rotation): the next
	// reconnect skips the backoff wait.
	forced atomic.Bool
}

// New creates a feed over the given registry and book store.
func New(url string, registry *catalog.Registry, books *book.Store, onUpdate UpdateFunc, logger *slog.Logger) *Feed {
	return &Feed{
		url:      url,
		registry: registry,
		books:    books,
		onUpdate: onUpdate,
		logger:   logger.With("component", "feed"),
	}
}

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := reconnectWait

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if f.forced.Swap(false) {
			// Rotation cycled the connection on purpose; come back fast.
			f.logger.Info("reconnecting after rotation")
			backoff = reconnectWait
			continue
		}

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		// Exponential backoff: 5s, 10s, 20s, 30s max
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// CycleConnection closes the connection so Run re-dials and re-subscribes
// with the current token set. Used at rotation boundaries.
func (f *Feed) CycleConnection() {
	f.forced.Store(true)
	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.connMu.Unlock()
}

// Close gracefully closes the connection.
func (f *Feed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.subscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected", "tokens", len(f.registry.AllTokenIDs()))

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	// Read loop with deadline so we reconnect if the server goes silent
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.Dispatch(msg)
	}
}

func (f *Feed) subscribe() error {
	msg := types.WSSubscribeMsg{
		Auth:     nil,
		Type:     "MARKET",
		AssetIDs: f.registry.AllTokenIDs(),
	}
	return f.writeJSON(msg)
}

// Dispatch routes one raw feed message. Exported for the simulated feed and
// tests, which inject messages without a live connection.
func (f *Feed) Dispatch(data []byte) {
	// An array message is a batch of independent updates.
	if len(data) > 0 && data[0] == '[' {
		var elements []json.RawMessage
		if err := json.Unmarshal(data, &elements); err != nil {
			f.logger.Debug("ignoring malformed array message", "error", err)
			return
		}
		for _, el := range elements {
			f.dispatchObject(el)
		}
		return
	}
	f.dispatchObject(data)
}

func (f *Feed) dispatchObject(data []byte) {
	var env types.WSEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch {
	case len(env.PriceChanges) > 0:
		for _, pc := range env.PriceChanges {
			f.applyPriceChange(pc)
		}

	case env.EventType == "book" || env.EventType == "book_snapshot":
		var evt types.WSBookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal book event", "error", err)
			return
		}
		f.applySnapshot(evt)

	case env.EventType == "subscribed" || env.Type == "subscribed":
		f.logger.Info("subscription confirmed")

	case env.EventType == "error" || env.Type == "error":
		f.logger.Error("feed error message", "message", env.Message)

	case env.AssetID != "" && env.EventType == "" && (env.Price != "" || env.BestAsk != "" || env.BestBid != ""):
		// Bare price-change object (array element shape).
		f.applyPriceChange(types.WSPriceChange{
			AssetID: env.AssetID,
			Price:   env.Price,
			Size:    env.Size,
			Side:    env.Side,
			BestBid: env.BestBid,
			BestAsk: env.BestAsk,
		})

	case env.AssetID != "" && env.EventType == "":
		// Bare book object (array element shape): treat as a snapshot.
		var evt types.WSBookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal update element", "error", err)
			return
		}
		f.applySnapshot(evt)

	default:
		f.logger.Debug("unknown ws message", "event_type", env.EventType, "type", env.Type)
	}
}

func (f *Feed) applySnapshot(evt types.WSBookEvent) {
	ref, ok := f.registry.Resolve(evt.AssetID)
	if !ok {
		// Not ours — a stale window or an untracked market.
		return
	}
	mt := f.registry.ByWindow(ref.Window)
	if mt == nil {
		return
	}

	ob := f.books.GetOrCreate(mt)
	if err := ob.ApplySnapshot(ref.Outcome, evt.BidLevels(), evt.AskLevels()); err != nil {
		f.logger.Warn("snapshot rejected", "asset", evt.AssetID, "error", err)
		return
	}
	if f.onUpdate != nil {
		f.onUpdate(ob)
	}
}

func (f *Feed) applyPriceChange(pc types.WSPriceChange) {
	ref, ok := f.registry.Resolve(pc.AssetID)
	if !ok {
		return
	}
	mt := f.registry.ByWindow(ref.Window)
	if mt == nil {
		return
	}

	ob := f.books.GetOrCreate(mt)
	ob.ApplyPriceChange(ref.Outcome, pc)
	if f.onUpdate != nil {
		f.onUpdate(ob)
	}
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *Feed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *Feed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
