package executor

import (
	"context"
	"log/slog"

	"github.com/Francis-builds/polymarket-hourly-bot/internal/exchange"
	"github.com/Francis-builds/polymarket-hourly-bot/pkg/types"
)

// LivePlacer submits orders through the CLOB client, consulting the
// pre-sign cache first to skip the signing step on the hot path.
type LivePlacer struct {
	client    *exchange.Client
	presigner *exchange.Presigner // nil disables the pre-signed path
	logger    *slog.Logger
}

// NewLivePlacer creates the live order path.
func NewLivePlacer(client *exchange.Client, presigner *exchange.Presigner, logger *slog.Logger) *LivePlacer {
	return &LivePlacer{
		client:    client,
		presigner: presigner,
		logger:    logger.With("component", "live_placer"),
	}
}

// PlaceOrder submits one order, preferring a cached pre-signed payload.
// A pre-signed hit posts a slightly smaller grid-snapped size; FAK semantics
// make that safe — the unfilled remainder is simply never requested.
func (p *LivePlacer) PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	if p.presigner != nil && req.OrderType == types.OrderTypeFAK {
		if body, size, ok := p.presigner.Take(req.TokenID, req.Side, req.Price, req.Size); ok {
			p.logger.Debug("using pre-signed order",
				"token", req.TokenID,
				"price", req.Price.StringFixed(2),
				"size", size.String(),
			)
			return p.client.PostSignedOrder(ctx, body)
		}
	}
	return p.client.CreateAndPostOrder(ctx, req)
}
