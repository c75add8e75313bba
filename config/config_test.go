package config

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleConfig = `ListenAddress = "0.0.0.0:9100"
DataDir = "./data"
LogLevel = "debug"

[[Reserves]]
Asset = "nusd"
PriceUSD = "1000000000000000000"
LTVBps = 7500
LiquidationThresholdBps = 8000
LiquidationBonusBps = 500
CloseFactorBps = 5000
ReserveFactorBps = 1000

[Reserves.Strategy]
OptimalUtilizationBps = 8000
VariableRateSlope1Bps = 400
VariableRateSlope2Bps = 7500
StableRateSlope1Bps = 200
StableRateSlope2Bps = 7500
MarketStableRateBps = 400

[[Reserves]]
Asset = "gold"
PriceUSD = "2000000000000000000000"
LTVBps = 6000
LiquidationThresholdBps = 7000
LiquidationBonusBps = 1000
CloseFactorBps = 5000
ReserveFactorBps = 0

[Reserves.Strategy]
OptimalUtilizationBps = 6500
VariableRateSlope1Bps = 800
VariableRateSlope2Bps = 10000
StableRateSlope1Bps = 400
StableRateSlope2Bps = 10000
MarketStableRateBps = 600
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lendingd.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesReserves(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != "0.0.0.0:9100" {
		t.Fatalf("unexpected listen address: %s", cfg.ListenAddress)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("unexpected log level: %s", cfg.LogLevel)
	}
	if len(cfg.Reserves) != 2 {
		t.Fatalf("expected two reserves, got %d", len(cfg.Reserves))
	}

	gold := cfg.Reserves[1]
	price, err := gold.Price()
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	want, _ := new(big.Int).SetString("2000000000000000000000", 10)
	if price.Cmp(want) != 0 {
		t.Fatalf("unexpected price: %s", price)
	}

	engineCfg := gold.EngineConfig()
	if !engineCfg.Active {
		t.Fatalf("listings should start active")
	}
	if engineCfg.LTVBps != 6000 {
		t.Fatalf("unexpected ltv: %d", engineCfg.LTVBps)
	}
	// 65% utilisation in ray precision.
	optimal, _ := new(big.Int).SetString("650000000000000000000000000", 10)
	if engineCfg.Strategy.OptimalUtilization.Cmp(optimal) != 0 {
		t.Fatalf("unexpected optimal utilisation: %s", engineCfg.Strategy.OptimalUtilization)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "LogLevel = \"warn\"\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress == "" || cfg.DataDir == "" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh", "lendingd.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Reserves) == 0 {
		t.Fatalf("default config should list a reserve")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}
}

func TestValidateRejectsBadListings(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{
			name:    "duplicate asset",
			mutate:  func(c *Config) { c.Reserves[1].Asset = "nusd" },
			message: "listed twice",
		},
		{
			name:    "ltv above threshold",
			mutate:  func(c *Config) { c.Reserves[0].LTVBps = 9000 },
			message: "LTV above liquidation threshold",
		},
		{
			name:    "bad price",
			mutate:  func(c *Config) { c.Reserves[0].PriceUSD = "-5" },
			message: "invalid PriceUSD",
		},
		{
			name:    "degenerate optimal point",
			mutate:  func(c *Config) { c.Reserves[0].Strategy.OptimalUtilizationBps = 10_000 },
			message: "optimal utilisation",
		},
		{
			name:    "slash in asset",
			mutate:  func(c *Config) { c.Reserves[0].Asset = "nusd/v2" },
			message: "must not contain",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, sampleConfig))
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			tc.mutate(cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.message) {
				t.Fatalf("expected %q error, got %v", tc.message, err)
			}
		})
	}
}
