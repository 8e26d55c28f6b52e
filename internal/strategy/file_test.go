package strategy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradePilot/internal/money"
	"tradePilot/internal/ports"
	"tradePilot/internal/profit"
	"tradePilot/internal/protection"
)

const sampleFile = `
name: trend_v2
minimal_roi:
  "0": 0.04
  "30": 0.02
  60: 0
stoploss: -0.08
trailing_stop: true
trailing_stop_positive: 0.01
trailing_stop_positive_offset: 0.02
protections:
  - method: CooldownPeriod
    stop_duration: 30
  - method: StoplossGuard
    lookback_period: 120
    trade_limit: 2
    stop_duration: 60
    only_per_pair: true
  - method: MaxDrawdown
    lookback_period: 1440
    trade_limit: 4
    stop_duration: 240
    max_allowed_drawdown: 0.2
indicators:
  interval: 1h
  short_ma_period: 10
  rsi_overbought: 75
  allow_short: true
`

func TestParseFile(t *testing.T) {
	f, err := ParseFile([]byte(sampleFile))
	require.NoError(t, err)
	assert.Equal(t, "trend_v2", f.Name)

	roi, err := f.ROITable()
	require.NoError(t, err)
	require.Len(t, roi, 3)
	assert.True(t, roi[0].Equal(money.MustParse("0.04")))
	assert.True(t, roi[30].Equal(money.MustParse("0.02")))
	assert.True(t, roi[60].IsZero())

	policies, err := f.Policies()
	require.NoError(t, err)
	require.Len(t, policies, 3)
	assert.Equal(t, protection.CooldownPeriod{StopDuration: 30 * time.Minute}, policies[0])
	assert.Equal(t, protection.StoplossGuard{
		Lookback:     2 * time.Hour,
		TradeLimit:   2,
		StopDuration: time.Hour,
		OnlyPerPair:  true,
	}, policies[1])
	drawdown, ok := policies[2].(protection.MaxDrawdown)
	require.True(t, ok)
	assert.Equal(t, 24*time.Hour, drawdown.Lookback)
	assert.Equal(t, 4, drawdown.TradeLimit)
	assert.Equal(t, 4*time.Hour, drawdown.StopDuration)
	assert.True(t, drawdown.MaxAllowedDrawdown.Equal(money.MustParse("0.2")))
}

func TestFile_ApplyProfit(t *testing.T) {
	f, err := ParseFile([]byte(sampleFile))
	require.NoError(t, err)

	base := profit.Config{StopLoss: money.MustParse("0.1"), ROI: profit.ROITable{0: money.MustParse("0.5")}}
	cfg, err := f.ApplyProfit(base)
	require.NoError(t, err)
	assert.True(t, cfg.StopLoss.Equal(money.MustParse("0.08")), "negative stoploss is read as a distance")
	assert.True(t, cfg.Trailing.Enabled)
	assert.True(t, cfg.Trailing.Positive.Equal(money.MustParse("0.01")))
	assert.True(t, cfg.Trailing.PositiveOffset.Equal(money.MustParse("0.02")))
	assert.Len(t, cfg.ROI, 3)

	empty, err := ParseFile([]byte("name: plain\n"))
	require.NoError(t, err)
	kept, err := empty.ApplyProfit(base)
	require.NoError(t, err)
	assert.Equal(t, base, kept, "absent keys keep the base settings")
}

func TestFile_ApplyIndicators(t *testing.T) {
	f, err := ParseFile([]byte(sampleFile))
	require.NoError(t, err)

	cfg := f.ApplyIndicators(testConfig())
	assert.Equal(t, "trend_v2", cfg.Name)
	assert.Equal(t, "1h", cfg.Interval)
	assert.Equal(t, 10, cfg.ShortTermMAPeriod)
	assert.Equal(t, 4, cfg.LongTermMAPeriod, "unset periods keep defaults")
	assert.Equal(t, 75.0, cfg.RSIOverbought)
	assert.Equal(t, 15.0, cfg.RSIOversold)
	assert.True(t, cfg.AllowShort)
}

func TestParseFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown key", "stop_loss: 0.1\n"},
		{"bad roi minutes", "minimal_roi:\n  soon: 0.1\n"},
		{"bad roi ratio", "minimal_roi:\n  \"0\": lots\n"},
		{"unknown protection", "protections:\n  - method: LowProfitPairs\n    stop_duration: 10\n"},
		{"drawdown without lookback", "protections:\n  - method: MaxDrawdown\n    stop_duration: 10\n    max_allowed_drawdown: 0.1\n"},
		{"drawdown without limit", "protections:\n  - method: MaxDrawdown\n    stop_duration: 10\n    lookback_period: 60\n"},
		{"negative drawdown", "protections:\n  - method: MaxDrawdown\n    stop_duration: 10\n    lookback_period: 60\n    max_allowed_drawdown: -0.1\n"},
		{"missing stop duration", "protections:\n  - method: CooldownPeriod\n"},
		{"incomplete guard", "protections:\n  - method: StoplossGuard\n    stop_duration: 10\n"},
		{"not yaml", "minimal_roi: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFile([]byte(tt.data))
			assert.ErrorIs(t, err, ports.ErrConfigurationError)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o600))

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, f.Protections, 3)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}
