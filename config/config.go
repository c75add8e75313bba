package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/MELD-labs/evm-defi-public-sub006/native/lending"
)

// Config is the daemon configuration loaded from TOML.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	LogLevel      string `toml:"LogLevel"`
	// LogFile enables rotating file output when set; empty logs to stderr.
	LogFile  string    `toml:"LogFile,omitempty"`
	Reserves []Reserve `toml:"Reserves"`
}

// Reserve lists one asset with its risk parameters. Percentages are basis
// points; PriceUSD is a decimal wad (1e18 = one dollar) used to seed the
// static price feed.
type Reserve struct {
	Asset                   string   `toml:"Asset"`
	PriceUSD                string   `toml:"PriceUSD"`
	LTVBps                  uint64   `toml:"LTVBps"`
	LiquidationThresholdBps uint64   `toml:"LiquidationThresholdBps"`
	LiquidationBonusBps     uint64   `toml:"LiquidationBonusBps"`
	CloseFactorBps          uint64   `toml:"CloseFactorBps"`
	ReserveFactorBps        uint64   `toml:"ReserveFactorBps"`
	Strategy                Strategy `toml:"Strategy"`
}

// Strategy shapes the interest-rate curve of a reserve, in basis points of
// annual rate (utilisation for the optimal point).
type Strategy struct {
	OptimalUtilizationBps     uint64 `toml:"OptimalUtilizationBps"`
	BaseVariableBorrowRateBps uint64 `toml:"BaseVariableBorrowRateBps"`
	VariableRateSlope1Bps     uint64 `toml:"VariableRateSlope1Bps"`
	VariableRateSlope2Bps     uint64 `toml:"VariableRateSlope2Bps"`
	StableRateSlope1Bps       uint64 `toml:"StableRateSlope1Bps"`
	StableRateSlope2Bps       uint64 `toml:"StableRateSlope2Bps"`
	MarketStableRateBps       uint64 `toml:"MarketStableRateBps"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8650"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./lending-data"
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
}

// Validate rejects listings whose parameters the engine would refuse.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Reserves))
	for i := range c.Reserves {
		r := &c.Reserves[i]
		asset := strings.TrimSpace(r.Asset)
		if asset == "" {
			return fmt.Errorf("config: reserve %d missing asset name", i)
		}
		if strings.Contains(asset, "/") {
			return fmt.Errorf("config: reserve %s: asset name must not contain '/'", asset)
		}
		if seen[asset] {
			return fmt.Errorf("config: reserve %s listed twice", asset)
		}
		seen[asset] = true
		if _, err := r.Price(); err != nil {
			return err
		}
		if r.LiquidationThresholdBps > 10_000 {
			return fmt.Errorf("config: reserve %s: liquidation threshold above 100%%", asset)
		}
		if r.LTVBps > r.LiquidationThresholdBps {
			return fmt.Errorf("config: reserve %s: LTV above liquidation threshold", asset)
		}
		if r.ReserveFactorBps > 10_000 || r.CloseFactorBps > 10_000 {
			return fmt.Errorf("config: reserve %s: factor above 100%%", asset)
		}
		if r.Strategy.OptimalUtilizationBps == 0 || r.Strategy.OptimalUtilizationBps >= 10_000 {
			return fmt.Errorf("config: reserve %s: optimal utilisation must sit in (0, 100%%)", asset)
		}
	}
	return nil
}

// Price parses the listing's PriceUSD into a wad integer.
func (r *Reserve) Price() (*big.Int, error) {
	price, ok := new(big.Int).SetString(strings.TrimSpace(r.PriceUSD), 10)
	if !ok || price.Sign() <= 0 {
		return nil, fmt.Errorf("config: reserve %s: invalid PriceUSD %q", r.Asset, r.PriceUSD)
	}
	return price, nil
}

// EngineConfig converts the listing into the engine's configuration record.
func (r *Reserve) EngineConfig() *lending.ReserveConfig {
	return &lending.ReserveConfig{
		Active:                  true,
		LTVBps:                  r.LTVBps,
		LiquidationThresholdBps: r.LiquidationThresholdBps,
		LiquidationBonusBps:     r.LiquidationBonusBps,
		CloseFactorBps:          r.CloseFactorBps,
		ReserveFactorBps:        r.ReserveFactorBps,
		Strategy: &lending.RateStrategy{
			OptimalUtilization:     lending.BpsToRay(r.Strategy.OptimalUtilizationBps),
			BaseVariableBorrowRate: lending.BpsToRay(r.Strategy.BaseVariableBorrowRateBps),
			VariableRateSlope1:     lending.BpsToRay(r.Strategy.VariableRateSlope1Bps),
			VariableRateSlope2:     lending.BpsToRay(r.Strategy.VariableRateSlope2Bps),
			StableRateSlope1:       lending.BpsToRay(r.Strategy.StableRateSlope1Bps),
			StableRateSlope2:       lending.BpsToRay(r.Strategy.StableRateSlope2Bps),
			MarketStableRate:       lending.BpsToRay(r.Strategy.MarketStableRateBps),
		},
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Reserves = []Reserve{
		{
			Asset:                   "nusd",
			PriceUSD:                "1000000000000000000",
			LTVBps:                  7500,
			LiquidationThresholdBps: 8000,
			LiquidationBonusBps:     500,
			CloseFactorBps:          5000,
			ReserveFactorBps:        1000,
			Strategy: Strategy{
				OptimalUtilizationBps: 8000,
				VariableRateSlope1Bps: 400,
				VariableRateSlope2Bps: 7500,
				StableRateSlope1Bps:   200,
				StableRateSlope2Bps:   7500,
				MarketStableRateBps:   400,
			},
		},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
