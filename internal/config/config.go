// Package config holds the read-only pricing and fee configuration the
// execution engine consumes. Values load from a JSON file and/or
// environment variables; anything unset falls back to engine defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
)

// Defaults applied when a value is absent from both file and environment.
var (
	DefaultMakerFeeRate  = decimal.NewFromFloat(0.0002)
	DefaultTakerFeeRate  = decimal.NewFromFloat(0.0005)
	DefaultSlippage      = decimal.Zero
	DefaultContractValue = decimal.NewFromInt(1)
	DefaultLeverage      = decimal.NewFromInt(1)
)

// SymbolConfig carries per-symbol overrides.
type SymbolConfig struct {
	ContractValue decimal.Decimal `json:"contract_value"`
	Leverage      decimal.Decimal `json:"leverage"`
}

// Config is the concrete pricing/fee configuration. The engine consumes
// it through a small accessor interface, so tests can substitute their
// own implementation.
type Config struct {
	MakerFee        decimal.Decimal         `json:"maker_fee_rate"`
	TakerFee        decimal.Decimal         `json:"taker_fee_rate"`
	Slippage        decimal.Decimal         `json:"market_order_slippage"`
	InitialBalance  decimal.Decimal         `json:"initial_balance"`
	Symbols         map[string]SymbolConfig `json:"symbols"`
	MaxPositionQty  decimal.Decimal         `json:"max_position_qty"`  // 0 = unlimited
	MaxOpenNotional decimal.Decimal         `json:"max_open_notional"` // 0 = unlimited
}

// Default returns a Config carrying only the engine defaults.
func Default() *Config {
	return &Config{
		MakerFee:       DefaultMakerFeeRate,
		TakerFee:       DefaultTakerFeeRate,
		Slippage:       DefaultSlippage,
		InitialBalance: decimal.NewFromInt(100000),
		Symbols:        make(map[string]SymbolConfig),
	}
}

// LoadFile reads a JSON config file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Symbols == nil {
		cfg.Symbols = make(map[string]SymbolConfig)
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables, starting from the
// defaults. Recognized variables: MAKER_FEE_RATE, TAKER_FEE_RATE,
// MARKET_ORDER_SLIPPAGE, INITIAL_BALANCE, MAX_POSITION_QTY,
// MAX_OPEN_NOTIONAL. Malformed values are reported, not guessed at.
func FromEnv() (*Config, error) {
	cfg := Default()
	for _, v := range []struct {
		key string
		dst *decimal.Decimal
	}{
		{"MAKER_FEE_RATE", &cfg.MakerFee},
		{"TAKER_FEE_RATE", &cfg.TakerFee},
		{"MARKET_ORDER_SLIPPAGE", &cfg.Slippage},
		{"INITIAL_BALANCE", &cfg.InitialBalance},
		{"MAX_POSITION_QTY", &cfg.MaxPositionQty},
		{"MAX_OPEN_NOTIONAL", &cfg.MaxOpenNotional},
	} {
		raw := os.Getenv(v.key)
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("config: invalid %s=%q: %w", v.key, raw, err)
		}
		*v.dst = d
	}
	return cfg, nil
}

// MakerFeeRate returns the fee rate applied to resting (maker) fills.
func (c *Config) MakerFeeRate() decimal.Decimal {
	if c == nil || c.MakerFee.IsZero() {
		return DefaultMakerFeeRate
	}
	return c.MakerFee
}

// TakerFeeRate returns the fee rate applied to immediate (taker) fills.
func (c *Config) TakerFeeRate() decimal.Decimal {
	if c == nil || c.TakerFee.IsZero() {
		return DefaultTakerFeeRate
	}
	return c.TakerFee
}

// MarketOrderSlippage returns the fractional price penalty applied to
// market orders. Always worsens the price for the taker.
func (c *Config) MarketOrderSlippage() decimal.Decimal {
	if c == nil {
		return DefaultSlippage
	}
	return c.Slippage
}

// ContractValue returns the per-symbol multiplier converting quantity in
// contracts to quantity in base asset units. Defaults to 1.
func (c *Config) ContractValue(symbol string) decimal.Decimal {
	if c != nil {
		if sc, ok := c.Symbols[normalize(symbol)]; ok && sc.ContractValue.IsPositive() {
			return sc.ContractValue
		}
	}
	return DefaultContractValue
}

// Leverage returns the configured leverage for a symbol. The engine
// accepts the value but does not apply it to margin math; see the
// startup warning in cmd/server.
func (c *Config) Leverage(symbol string) decimal.Decimal {
	if c != nil {
		if sc, ok := c.Symbols[normalize(symbol)]; ok && sc.Leverage.IsPositive() {
			return sc.Leverage
		}
	}
	return DefaultLeverage
}

// LeveragedSymbols returns the symbols configured with leverage != 1.
func (c *Config) LeveragedSymbols() []string {
	if c == nil {
		return nil
	}
	var out []string
	for sym, sc := range c.Symbols {
		if sc.Leverage.IsPositive() && !sc.Leverage.Equal(DefaultLeverage) {
			out = append(out, sym)
		}
	}
	return out
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
