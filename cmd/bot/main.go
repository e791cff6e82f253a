// Polymarket Hourly Bot — a riskless-arbitrage bot for crypto up/down
// prediction markets. It watches the complementary UP and DOWN outcomes of
// 15-minute and hourly windows and buys both sides whenever their combined
// best-ask cost dips below one dollar.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: wires catalog → feed → detector → executor → resolver
//	clock/clock.go       — window boundary math + Eastern-time slug fragments
//	catalog/catalog.go   — resolves (symbol, window) → market token ids via the Gamma API
//	book/book.go         — per-window order book mirrors fed by the push channel
//	feed/feed.go         — market WebSocket with token-index demux and window rotation
//	detector/detector.go — gate sequence, fee/slippage math, dip state machine, admission
//	exchange/            — CLOB REST client, EIP-712 order signing, pre-sign cache
//	executor/            — dual-leg FAK submission with rollback and latency accounting
//	store/store.go       — SQLite positions, events, and orderbook audit snapshots
//	resolver/            — settles positions after their windows close
//
// How it makes money:
//
//	The two outcomes of a binary market pay out exactly $1 between them.
//	When askUp + askDown < $1 − fees, buying both sides locks in the
//	difference regardless of which way the underlying moves. Such dips are
//	brief and shallow, so the bot optimises the path from book update to
//	order submission: detection is a synchronous pass over an in-memory
//	book, and orders for hot markets are signed ahead of need.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Francis-builds/polymarket-hourly-bot/internal/config"
	"github.com/Francis-builds/polymarket-hourly-bot/internal/engine"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("DIPBOT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.PaperMode {
		logger.Warn("PAPER MODE — no real orders will be placed")
	}

	logger.Info("dip bot started",
		"timeframe", cfg.Strategy.Timeframe,
		"symbols", cfg.Strategy.Symbols,
		"threshold", cfg.Strategy.Threshold,
		"max_position_usd", cfg.Strategy.MaxPositionUSD,
		"paper", cfg.PaperMode,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()

	if stats, err := eng.Stats(); err == nil {
		logger.Info("session summary",
			"positions", stats.Total,
			"resolved", stats.Resolved,
			"win_rate", stats.WinRate,
			"net_profit", stats.NetProfit,
		)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
