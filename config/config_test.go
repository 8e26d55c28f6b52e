package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradePilot/internal/domain"
	"tradePilot/internal/money"
	"tradePilot/internal/ports"
	"tradePilot/internal/protection"
)

func lookupFrom(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(lookupFrom(nil))
	require.NoError(t, err)

	assert.True(t, cfg.DryRun)
	assert.True(t, cfg.IsTestnet)
	assert.Equal(t, []string{"ETHUSDT"}, cfg.Pairs)
	assert.Equal(t, "USDT", cfg.StakeCurrency)
	assert.True(t, cfg.StakeAmount.Equal(money.MustParse("100")))
	assert.False(t, cfg.UnlimitedStake)
	assert.Equal(t, 3, cfg.MaxOpenTrades)
	assert.Equal(t, domain.TradingModeSpot, cfg.TradingMode)
	assert.Nil(t, cfg.InterestRate)
	assert.True(t, cfg.StopLoss.Equal(money.MustParse("0.1")))
	assert.Equal(t, 5*time.Second, cfg.ProcessThrottle)
	assert.Equal(t, 10*time.Minute, cfg.UnfilledTimeout)
	assert.Equal(t, domain.StateStopped, cfg.InitialState)
	assert.Equal(t, domain.StoragePersisted, cfg.StorageMode)
	assert.Equal(t, time.Hour, cfg.WalletStaleness)
	assert.Equal(t, "INFO", cfg.Log.Level)
	assert.Equal(t, 20, cfg.Strategy.ShortTermMAPeriod)
	assert.Empty(t, cfg.MinimalROI)
}

func TestFromEnv_Values(t *testing.T) {
	cfg, err := FromEnv(lookupFrom(map[string]string{
		"DRY_RUN":                    "false",
		"BINANCE_API_KEY":            "key",
		"BINANCE_API_SECRET":         "secret",
		"PAIRS":                      "ethusdt, BTCUSDT,,",
		"STAKE_AMOUNT":               "Unlimited",
		"MAX_OPEN_TRADES":            "5",
		"TRADING_MODE":               "MARGIN",
		"LEVERAGE":                   "3",
		"INTEREST_RATE":              "0.0005",
		"STOP_LOSS":                  "-0.05",
		"MINIMAL_ROI":                "0:0.04,30:0.02",
		"INITIAL_STATE":              "running",
		"STORAGE_MODE":               "in_memory",
		"CANCEL_OPEN_ORDERS_ON_EXIT": "true",
		"FIAT_CURRENCY":              "eur",
		"FIAT_RATE":                  "0.92",
		"LOG_FORMAT":                 "json",
	}))
	require.NoError(t, err)

	assert.False(t, cfg.DryRun)
	assert.Equal(t, []string{"ETHUSDT", "BTCUSDT"}, cfg.Pairs)
	assert.True(t, cfg.UnlimitedStake)
	assert.True(t, cfg.StakeAmount.IsZero())
	assert.Equal(t, domain.TradingModeMargin, cfg.TradingMode)
	require.NotNil(t, cfg.InterestRate)
	assert.True(t, cfg.InterestRate.Equal(money.MustParse("0.0005")))
	assert.True(t, cfg.StopLoss.Equal(money.MustParse("0.05")), "sign is dropped")
	assert.Len(t, cfg.MinimalROI, 2)
	assert.Equal(t, domain.StateRunning, cfg.InitialState)
	assert.Equal(t, domain.StorageInMemory, cfg.StorageMode)
	assert.True(t, cfg.CancelOpenOrdersOnExit)
	assert.Equal(t, "EUR", cfg.FiatCurrency)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestFromEnv_CollectsErrors(t *testing.T) {
	_, err := FromEnv(lookupFrom(map[string]string{
		"DRY_RUN":         "false",
		"STAKE_AMOUNT":    "-5",
		"TRADING_MODE":    "options",
		"MAX_OPEN_TRADES": "many",
		"INITIAL_STATE":   "RELOAD_CONFIG",
		"STOP_LOSS":       "1.5",
	}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrOperational)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	for _, want := range []string{
		"BINANCE_API_KEY must be set",
		"BINANCE_API_SECRET must be set",
		"STAKE_AMOUNT must be positive",
		`invalid TRADING_MODE "options"`,
		"invalid integer value 'many' for key MAX_OPEN_TRADES",
		`invalid INITIAL_STATE "RELOAD_CONFIG"`,
		"STOP_LOSS must be between",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestFromEnv_Validation(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{"leverage in spot", map[string]string{"LEVERAGE": "2"}, "LEVERAGE above 1 requires"},
		{"margin without interest", map[string]string{"TRADING_MODE": "margin"}, "INTEREST_RATE must be set"},
		{"unlimited stake without cap", map[string]string{"STAKE_AMOUNT": "unlimited", "MAX_OPEN_TRADES": "-1"}, "MAX_OPEN_TRADES must be finite"},
		{"bad roi", map[string]string{"MINIMAL_ROI": "soon:0.1"}, "invalid MINIMAL_ROI"},
		{"zero throttle", map[string]string{"PROCESS_THROTTLE_SECS": "0"}, "PROCESS_THROTTLE_SECS must be positive"},
		{"bad storage", map[string]string{"STORAGE_MODE": "cloud"}, `invalid STORAGE_MODE "cloud"`},
		{"ma periods", map[string]string{"STRATEGY_SHORT_MA_PERIOD": "60"}, "STRATEGY_SHORT_MA_PERIOD must be less"},
		{"bad bool", map[string]string{"TRAILING_STOP": "sometimes"}, "invalid boolean value 'sometimes'"},
		{"missing strategy file", map[string]string{"STRATEGY_FILE": "/nonexistent/strategy.yaml"}, "read strategy file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(lookupFrom(tt.vars))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

const strategyYAML = `
name: file_strategy
minimal_roi:
  "0": 0.05
stoploss: 0.07
protections:
  - method: CooldownPeriod
    stop_duration: 15
indicators:
  short_ma_period: 5
  long_ma_period: 10
`

func TestSettings_WithStrategyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strategyYAML), 0o600))

	cfg, err := FromEnv(lookupFrom(map[string]string{
		"STRATEGY_FILE": path,
		"MINIMAL_ROI":   "0:0.5",
		"FIAT_CURRENCY": "USD",
	}))
	require.NoError(t, err)
	assert.Equal(t, "file_strategy", cfg.Strategy.Name)
	assert.Equal(t, 5, cfg.Strategy.ShortTermMAPeriod)
	assert.Equal(t, 10, cfg.Strategy.LongTermMAPeriod)

	s, err := cfg.Settings()
	require.NoError(t, err)
	assert.Equal(t, []string{"ETHUSDT"}, s.Pairs)
	assert.Equal(t, "USD", s.FiatCurrency)
	assert.True(t, s.Profit.StopLoss.Equal(money.MustParse("0.07")), "file overrides env stoploss")
	require.Len(t, s.Profit.ROI, 1)
	assert.True(t, s.Profit.ROI[0].Equal(money.MustParse("0.05")))
	require.Len(t, s.Protections, 1)
	assert.Equal(t, protection.CooldownPeriod{StopDuration: 15 * time.Minute}, s.Protections[0])
	assert.Equal(t, 5*time.Second, s.ThrottleInterval)
}

func TestNewReloader(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("PAIRS=SOLUSDT\nMAX_OPEN_TRADES=7\n"), 0o600))
	t.Setenv("PAIRS", "ETHUSDT")
	t.Setenv("MAX_OPEN_TRADES", "1")

	reload := NewReloader(ports.NopLogger{}, envFile)
	s, err := reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"SOLUSDT"}, s.Pairs, "file values replace the environment")
	assert.Equal(t, 7, s.MaxOpenTrades)

	require.NoError(t, os.WriteFile(envFile, []byte("MAX_OPEN_TRADES=many\n"), 0o600))
	_, err = reload(context.Background())
	assert.ErrorIs(t, err, ports.ErrOperational)
}
