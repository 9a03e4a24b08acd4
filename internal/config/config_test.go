package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if !cfg.MakerFeeRate().Equal(decimal.NewFromFloat(0.0002)) {
		t.Errorf("maker fee default: got %s", cfg.MakerFeeRate())
	}
	if !cfg.TakerFeeRate().Equal(decimal.NewFromFloat(0.0005)) {
		t.Errorf("taker fee default: got %s", cfg.TakerFeeRate())
	}
	if !cfg.MarketOrderSlippage().IsZero() {
		t.Errorf("slippage default: got %s", cfg.MarketOrderSlippage())
	}
	if !cfg.ContractValue("BTC-USDT").Equal(decimal.NewFromInt(1)) {
		t.Errorf("contract value default: got %s", cfg.ContractValue("BTC-USDT"))
	}
	if !cfg.InitialBalance.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("initial balance default: got %s", cfg.InitialBalance)
	}
}

func TestNilConfigFallsBackToDefaults(t *testing.T) {
	var cfg *Config
	if !cfg.MakerFeeRate().Equal(DefaultMakerFeeRate) {
		t.Error("nil config must serve default maker fee")
	}
	if !cfg.Leverage("BTC-USDT").Equal(DefaultLeverage) {
		t.Error("nil config must serve default leverage")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"maker_fee_rate": "0.001",
		"taker_fee_rate": "0.002",
		"market_order_slippage": "0.0001",
		"initial_balance": "50000",
		"symbols": {
			"BTC-USDT": {"contract_value": "0.01", "leverage": "10"}
		}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !cfg.MakerFeeRate().Equal(decimal.NewFromFloat(0.001)) {
		t.Errorf("maker fee: got %s", cfg.MakerFeeRate())
	}
	if !cfg.InitialBalance.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("initial balance: got %s", cfg.InitialBalance)
	}
	if !cfg.ContractValue("btc-usdt").Equal(decimal.NewFromFloat(0.01)) {
		t.Errorf("contract value lookup must normalize the symbol: got %s",
			cfg.ContractValue("btc-usdt"))
	}
	if !cfg.Leverage("BTC-USDT").Equal(decimal.NewFromInt(10)) {
		t.Errorf("leverage: got %s", cfg.Leverage("BTC-USDT"))
	}

	leveraged := cfg.LeveragedSymbols()
	if len(leveraged) != 1 || leveraged[0] != "BTC-USDT" {
		t.Errorf("leveraged symbols: got %v", leveraged)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("TAKER_FEE_RATE", "0.00075")
	t.Setenv("INITIAL_BALANCE", "250000")
	t.Setenv("MAX_POSITION_QTY", "10")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if !cfg.TakerFeeRate().Equal(decimal.NewFromFloat(0.00075)) {
		t.Errorf("taker fee: got %s", cfg.TakerFeeRate())
	}
	if !cfg.InitialBalance.Equal(decimal.NewFromInt(250000)) {
		t.Errorf("initial balance: got %s", cfg.InitialBalance)
	}
	if !cfg.MaxPositionQty.Equal(decimal.NewFromInt(10)) {
		t.Errorf("max position qty: got %s", cfg.MaxPositionQty)
	}
	// Untouched values keep defaults.
	if !cfg.MakerFeeRate().Equal(DefaultMakerFeeRate) {
		t.Errorf("maker fee should stay default, got %s", cfg.MakerFeeRate())
	}
}

func TestFromEnv_Malformed(t *testing.T) {
	t.Setenv("MAKER_FEE_RATE", "not-a-number")
	if _, err := FromEnv(); err == nil {
		t.Error("expected error for malformed value")
	}
}
