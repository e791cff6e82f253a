// Package exchange implements the CLOB REST client, authentication, order
// signing, and the order pre-sign cache.
//
// The REST client (Client) talks to the CLOB API for order management:
//   - CreateAndPostOrder: sign a CTF order and POST /order
//   - PostSignedOrder:    POST /order with an already-signed payload
//   - CancelAll:          DELETE /cancel-all — shutdown safety net
//   - DeriveAPIKey:       GET  /auth/derive-api-key — bootstrap L2 creds
//
// Every request is rate-limited via per-category TokenBuckets. Order and
// cancel requests carry L2 HMAC headers; DeriveAPIKey uses L1 (EIP-712)
// headers. Order submission carries a bounded
// timeout; a timeout counts as a failed leg and triggers rollback upstream.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Francis-builds/polymarket-hourly-bot/internal/config"
	"github.com/Francis-builds/polymarket-hourly-bot/pkg/types"
)

// orderTimeout bounds one order submission end to end.
const orderTimeout = 10 * time.Second

// SignedOrder is the on-chain order format the CLOB API expects.
// MakerAmount and TakerAmount are in 6-decimal USDC units (1e6 = $1).
//
// For BUY:  maker gives MakerAmount USDC, receives TakerAmount tokens
// For SELL: maker gives MakerAmount tokens, receives TakerAmount USDC
type SignedOrder struct {
	Salt          string              `json:"salt"`
	Maker         string              `json:"maker"`       // funder/proxy wallet address
	Signer        string              `json:"signer"`      // EOA that signs the order
	Taker         string              `json:"taker"`       // zero address = open order
	TokenID       string              `json:"tokenId"`     // CTF token ID
	MakerAmount   *big.Int            `json:"makerAmount"` // what maker gives (scaled to 1e6)
	TakerAmount   *big.Int            `json:"takerAmount"` // what maker receives (scaled to 1e6)
	Side          types.Side          `json:"side"`
	Expiration    string              `json:"expiration"`    // unix timestamp as string, "0" = none
	Nonce         string              `json:"nonce"`         // replay protection
	FeeRateBps    string              `json:"feeRateBps"`    // fee in basis points as string
	SignatureType types.SignatureType `json:"signatureType"` // 0 = EOA
	Signature     string              `json:"signature"`     // EIP-712 signature hex
}

// OrderPayload is the REST API request body for POST /order.
type OrderPayload struct {
	Order     SignedOrder     `json:"order"`
	Owner     string          `json:"owner"`     // API key of the order owner
	OrderType types.OrderType `json:"orderType"` // FOK, FAK or GTC
}

// Client is the CLOB REST API client.
// It wraps a resty HTTP client with rate limiting, retry, and auth.
type Client struct {
	http   *resty.Client // HTTP client with retry + base URL
	auth   *Auth         // L1/L2 auth provider for request signing
	rl     *RateLimiter  // per-endpoint-category rate limiting
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.API.CLOBBaseURL).
		SetTimeout(orderTimeout).
		SetRetryCount(2).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		logger: logger.With("component", "clob"),
	}
}

// BuildPayload signs an order and wraps it in the POST body. Split out so
// the pre-signer can produce payloads ahead of need.
func (c *Client) BuildPayload(req types.OrderRequest) ([]byte, error) {
	signed, err := c.auth.SignOrder(req)
	if err != nil {
		return nil, err
	}
	payload := OrderPayload{
		Order:     *signed,
		Owner:     c.auth.creds.ApiKey,
		OrderType: req.OrderType,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order payload: %w", err)
	}
	return body, nil
}

// CreateAndPostOrder signs and submits one order. The signing step costs
// 200–400 ms; hot paths should prefer a pre-signed payload via
// PostSignedOrder.
func (c *Client) CreateAndPostOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	body, err := c.BuildPayload(req)
	if err != nil {
		return nil, fmt.Errorf("build order: %w", err)
	}
	return c.PostSignedOrder(ctx, body)
}

// PostSignedOrder submits an already-signed order payload.
func (c *Client) PostSignedOrder(ctx context.Context, body []byte) (*types.OrderResult, error) {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.L2Headers("POST", "/order", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.OrderResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return nil, fmt.Errorf("post order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("post order: status %d: %s", resp.StatusCode(), resp.String())
	}

	return &result, nil
}

// CancelAll cancels every open order across all markets.
func (c *Client) CancelAll(ctx context.Context) error {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	headers, err := c.auth.L2Headers("DELETE", "/cancel-all", "")
	if err != nil {
		return fmt.Errorf("l2 headers: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		Delete("/cancel-all")
	if err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel all: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Warn("all orders cancelled")
	return nil
}

// DeriveAPIKey derives L2 API credentials via L1 authentication.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	if err := c.rl.Lookup.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(result)
	c.logger.Info("API key derived", "api_key", result.ApiKey)
	return &result, nil
}
