package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Francis-builds/polymarket-hourly-bot/pkg/types"
)

func validConfig() *Config {
	return &Config{
		PaperMode: true,
		API: APIConfig{
			GammaBaseURL: "https://gamma.example.com",
		},
		Strategy: StrategyConfig{
			Timeframe:            types.Timeframe1h,
			Symbols:              []string{"BTC"},
			MaxWindowOffset:      1,
			Threshold:            0.97,
			MaxTotalCost:         0.94,
			MaxPositionUSD:       100,
			MinTradeUSD:          20,
			MaxOpenPositions:     3,
			Cooldown:             30 * time.Second,
			MaxSlippagePct:       0.02,
			MinProfitPct:         1.0,
			MinProfitUSD:         0.5,
			RiskPerTradeFraction: 1.0,
		},
	}
}

func TestValidateAcceptsPaperConfig(t *testing.T) {
	t.Parallel()
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateRanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad timeframe", func(c *Config) { c.Strategy.Timeframe = "30m" }},
		{"no symbols", func(c *Config) { c.Strategy.Symbols = nil }},
		{"threshold too low", func(c *Config) { c.Strategy.Threshold = 0.5 }},
		{"threshold too high", func(c *Config) { c.Strategy.Threshold = 1.0 }},
		{"max total cost out of range", func(c *Config) { c.Strategy.MaxTotalCost = 0.5 }},
		{"position too small", func(c *Config) { c.Strategy.MaxPositionUSD = 5 }},
		{"position too large", func(c *Config) { c.Strategy.MaxPositionUSD = 5000 }},
		{"min trade above max position", func(c *Config) { c.Strategy.MinTradeUSD = 500 }},
		{"zero open positions", func(c *Config) { c.Strategy.MaxOpenPositions = 0 }},
		{"too many open positions", func(c *Config) { c.Strategy.MaxOpenPositions = 11 }},
		{"slippage not a fraction", func(c *Config) { c.Strategy.MaxSlippagePct = 2.0 }},
		{"risk fraction zero", func(c *Config) { c.Strategy.RiskPerTradeFraction = 0 }},
		{"missing gamma url", func(c *Config) { c.API.GammaBaseURL = "" }},
		{"live without key", func(c *Config) { c.PaperMode = false }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadAppliesDefaultsAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
paper_mode: true
api:
  gamma_base_url: "https://gamma.example.com"
strategy:
  timeframe: "15m"
  symbols: ["BTC"]
  threshold: 0.94
  max_position_usd: 100
  max_open_positions: 2
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DIPBOT_API_KEY", "env-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Strategy.Timeframe != types.Timeframe15m {
		t.Errorf("timeframe = %s", cfg.Strategy.Timeframe)
	}
	if cfg.Strategy.Cooldown != 30*time.Second {
		t.Errorf("cooldown default = %v", cfg.Strategy.Cooldown)
	}
	if cfg.Strategy.MinTradeUSD != 20 {
		t.Errorf("min_trade_usd default = %v", cfg.Strategy.MinTradeUSD)
	}
	if cfg.API.ApiKey != "env-key" {
		t.Errorf("api key = %q, want env override", cfg.API.ApiKey)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate after Load: %v", err)
	}
}
