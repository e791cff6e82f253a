// Package config defines all configuration for the dip-arbitrage bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via DIPBOT_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Francis-builds/polymarket-hourly-bot/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	PaperMode    bool `mapstructure:"paper_mode"`
	SimulateFeed bool `mapstructure:"simulate_feed"`

	Wallet   WalletConfig   `mapstructure:"wallet"`
	API      APIConfig      `mapstructure:"api"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Presign  PresignConfig  `mapstructure:"presign"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth and the CTF exchange orders.
// FunderAddress is the on-chain address that funds orders (may differ from
// signer if using a proxy).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds exchange endpoints and optional pre-derived L2 credentials.
// If ApiKey/Secret/Passphrase are empty, the bot derives them via L1 auth on
// startup (skipped entirely in paper mode).
type APIConfig struct {
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	WSMarketURL  string `mapstructure:"ws_market_url"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
}

// StrategyConfig tunes dip detection, admission and execution.
//
//   - Timeframe: which market family to trade (15m, 1h, 4h, daily).
//   - Symbols: underlyings to watch, e.g. [BTC, ETH].
//   - MaxWindowOffset: how many future windows the catalog resolves ahead.
//   - Threshold: dip admission cutoff on askUp+askDown.
//   - MaxTotalCost: executor-side rejection cutoff (belt and braces over Threshold).
//   - MaxPositionUSD / MinTradeUSD: per-trade sizing bounds.
//   - MaxOpenPositions: concurrent admissions across all markets.
//   - Cooldown: per-market debounce after a completed trade.
//   - MaxSlippagePct: reject when combined VWAP slippage exceeds this (fraction, 0.02 = 2%).
//   - MinProfitPct: profit floor after fees and slippage (percent, 1.0 = 1%).
//   - MinProfitUSD: absolute profit floor.
//   - RiskPerTradeFraction: fraction of bankroll committed per trade.
type StrategyConfig struct {
	Timeframe       types.Timeframe `mapstructure:"timeframe"`
	Symbols         []string        `mapstructure:"symbols"`
	MaxWindowOffset int             `mapstructure:"max_window_offset"`

	Threshold    float64 `mapstructure:"threshold"`
	MaxTotalCost float64 `mapstructure:"max_total_cost"`

	MaxPositionUSD   float64       `mapstructure:"max_position_usd"`
	MinTradeUSD      float64       `mapstructure:"min_trade_usd"`
	MaxOpenPositions int           `mapstructure:"max_open_positions"`
	Cooldown         time.Duration `mapstructure:"cooldown"`

	MaxSlippagePct       float64 `mapstructure:"max_slippage_pct"`
	MinProfitPct         float64 `mapstructure:"min_profit_pct_after_slippage"`
	MinProfitUSD         float64 `mapstructure:"min_profit_usd"`
	RiskPerTradeFraction float64 `mapstructure:"risk_per_trade_fraction"`
}

// PresignConfig controls the order pre-signing cache.
type PresignConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"` // maintenance cadence
}

// StoreConfig sets where positions are persisted (SQLite database file).
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: DIPBOT_PRIVATE_KEY, DIPBOT_API_KEY,
// DIPBOT_API_SECRET, DIPBOT_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("DIPBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults that rarely need tuning
	v.SetDefault("strategy.max_window_offset", 1)
	v.SetDefault("strategy.max_total_cost", 0.94)
	v.SetDefault("strategy.min_trade_usd", 20)
	v.SetDefault("strategy.cooldown", 30*time.Second)
	v.SetDefault("strategy.max_slippage_pct", 0.02)
	v.SetDefault("strategy.min_profit_pct_after_slippage", 1.0)
	v.SetDefault("strategy.min_profit_usd", 0.5)
	v.SetDefault("strategy.risk_per_trade_fraction", 1.0)
	v.SetDefault("presign.enabled", true)
	v.SetDefault("presign.interval", 500*time.Millisecond)
	v.SetDefault("store.path", "data/dipbot.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("DIPBOT_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("DIPBOT_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("DIPBOT_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("DIPBOT_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if os.Getenv("DIPBOT_PAPER_MODE") == "true" || os.Getenv("DIPBOT_PAPER_MODE") == "1" {
		cfg.PaperMode = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if !c.Strategy.Timeframe.Valid() {
		return fmt.Errorf("strategy.timeframe must be one of: 15m, 1h, 4h, daily (got %q)", c.Strategy.Timeframe)
	}
	if len(c.Strategy.Symbols) == 0 {
		return fmt.Errorf("strategy.symbols must name at least one underlying")
	}
	if c.Strategy.Threshold < 0.80 || c.Strategy.Threshold > 0.99 {
		return fmt.Errorf("strategy.threshold must be in [0.80, 0.99], got %v", c.Strategy.Threshold)
	}
	if c.Strategy.MaxTotalCost < 0.80 || c.Strategy.MaxTotalCost > 0.99 {
		return fmt.Errorf("strategy.max_total_cost must be in [0.80, 0.99], got %v", c.Strategy.MaxTotalCost)
	}
	if c.Strategy.MaxPositionUSD < 10 || c.Strategy.MaxPositionUSD > 1000 {
		return fmt.Errorf("strategy.max_position_usd must be in [10, 1000], got %v", c.Strategy.MaxPositionUSD)
	}
	if c.Strategy.MinTradeUSD <= 0 || c.Strategy.MinTradeUSD > c.Strategy.MaxPositionUSD {
		return fmt.Errorf("strategy.min_trade_usd must be in (0, max_position_usd], got %v", c.Strategy.MinTradeUSD)
	}
	if c.Strategy.MaxOpenPositions < 1 || c.Strategy.MaxOpenPositions > 10 {
		return fmt.Errorf("strategy.max_open_positions must be in [1, 10], got %d", c.Strategy.MaxOpenPositions)
	}
	if c.Strategy.Cooldown < 0 {
		return fmt.Errorf("strategy.cooldown must be >= 0")
	}
	if c.Strategy.MaxSlippagePct <= 0 || c.Strategy.MaxSlippagePct >= 1 {
		return fmt.Errorf("strategy.max_slippage_pct must be a fraction in (0, 1), got %v", c.Strategy.MaxSlippagePct)
	}
	if c.Strategy.MinProfitPct < 0 {
		return fmt.Errorf("strategy.min_profit_pct_after_slippage must be >= 0")
	}
	if c.Strategy.RiskPerTradeFraction <= 0 || c.Strategy.RiskPerTradeFraction > 1 {
		return fmt.Errorf("strategy.risk_per_trade_fraction must be in (0, 1], got %v", c.Strategy.RiskPerTradeFraction)
	}
	if c.Strategy.MaxWindowOffset < 0 {
		return fmt.Errorf("strategy.max_window_offset must be >= 0")
	}
	if c.API.GammaBaseURL == "" {
		return fmt.Errorf("api.gamma_base_url is required")
	}

	// Live trading needs a wallet and the order endpoints; paper mode does not.
	if !c.PaperMode {
		if c.Wallet.PrivateKey == "" {
			return fmt.Errorf("wallet.private_key is required in live mode (set DIPBOT_PRIVATE_KEY)")
		}
		if c.Wallet.ChainID == 0 {
			return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
		}
		switch c.Wallet.SignatureType {
		case 0, 1, 2:
		default:
			return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
		}
		if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
			return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
		}
		if c.API.CLOBBaseURL == "" {
			return fmt.Errorf("api.clob_base_url is required in live mode")
		}
		if c.API.WSMarketURL == "" && !c.SimulateFeed {
			return fmt.Errorf("api.ws_market_url is required unless simulate_feed is set")
		}
	}

	return nil
}
