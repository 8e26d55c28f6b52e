package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradePilot/internal/domain"
	"tradePilot/internal/money"
	"tradePilot/internal/ports"
)

type mockLogger struct {
	debugMsgs []string
	infoMsgs  []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockCandles struct {
	klines    []*domain.Kline
	err       error
	lastLimit int
	lastPair  string
	lastIntv  string
}

func (m *mockCandles) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error) {
	m.lastPair, m.lastIntv, m.lastLimit = symbol, interval, limit
	return m.klines, m.err
}

var (
	upTrend   = closes(100, 103, 102, 105, 104, 107, 106, 109)
	downTrend = closes(200, 197, 198, 195, 196, 193, 194, 191)
	flat      = closes(100, 100, 100, 100, 100, 100, 100, 100)
)

func testConfig() Config {
	return Config{
		Interval:          "5m",
		ShortTermMAPeriod: 2,
		LongTermMAPeriod:  4,
		EMAPeriod:         3,
		RSIPeriod:         4,
		RSIOverbought:     85,
		RSIOversold:       15,
	}
}

func TestNew(t *testing.T) {
	valid := testConfig()
	tests := []struct {
		name    string
		mutate  func(*Config)
		candles ports.CandleSource
		logger  ports.Logger
		wantErr bool
	}{
		{name: "valid config", candles: &mockCandles{}, logger: &mockLogger{}},
		{name: "nil logger", candles: &mockCandles{}, wantErr: true},
		{name: "nil candles", logger: &mockLogger{}, wantErr: true},
		{name: "invalid periods", mutate: func(c *Config) { c.RSIPeriod = 0 }, candles: &mockCandles{}, logger: &mockLogger{}, wantErr: true},
		{name: "invalid MA periods", mutate: func(c *Config) { c.ShortTermMAPeriod = 10 }, candles: &mockCandles{}, logger: &mockLogger{}, wantErr: true},
		{name: "inverted RSI thresholds", mutate: func(c *Config) { c.RSIOversold = 90 }, candles: &mockCandles{}, logger: &mockLogger{}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			s, err := New(cfg, tt.candles, tt.logger)
			if tt.wantErr {
				assert.ErrorIs(t, err, ports.ErrConfigurationError)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultName, s.Name())
		})
	}
}

func TestRequiredDataPoints(t *testing.T) {
	cfg := testConfig()
	cfg.LongTermMAPeriod = 50
	cfg.EMAPeriod = 30
	cfg.RSIPeriod = 14
	s, err := New(cfg, &mockCandles{}, &mockLogger{})
	require.NoError(t, err)
	assert.Equal(t, 51, s.RequiredDataPoints())
}

func TestEntrySignal(t *testing.T) {
	tests := []struct {
		name       string
		klines     []*domain.Kline
		allowShort bool
		want       domain.EntrySignal
	}{
		{"up trend enters long", upTrend, false, domain.EntrySignal{Enter: true, Tag: "trend_up"}},
		{"down trend without shorts", downTrend, false, domain.EntrySignal{}},
		{"down trend enters short", downTrend, true, domain.EntrySignal{Enter: true, IsShort: true, Tag: "trend_down"}},
		{"flat market", flat, true, domain.EntrySignal{}},
		{"insufficient data", closes(100, 101, 102), false, domain.EntrySignal{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.AllowShort = tt.allowShort
			candles := &mockCandles{klines: tt.klines}
			s, err := New(cfg, candles, &mockLogger{})
			require.NoError(t, err)

			got, err := s.EntrySignal(context.Background(), "ETHUSDT")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "ETHUSDT", candles.lastPair)
			assert.Equal(t, "5m", candles.lastIntv)
			assert.Equal(t, 5, candles.lastLimit)
		})
	}
}

func TestEntrySignal_OverboughtBlocksEntry(t *testing.T) {
	cfg := testConfig()
	cfg.RSIOverbought = 80
	s, err := New(cfg, &mockCandles{klines: upTrend}, &mockLogger{})
	require.NoError(t, err)
	got, err := s.EntrySignal(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.False(t, got.Enter)
}

func TestEntrySignal_CandleError(t *testing.T) {
	s, err := New(testConfig(), &mockCandles{err: ports.ErrExchange}, &mockLogger{})
	require.NoError(t, err)
	_, err = s.EntrySignal(context.Background(), "ETHUSDT")
	assert.ErrorIs(t, err, ports.ErrExchange)
}

func TestExitSignal(t *testing.T) {
	tests := []struct {
		name       string
		klines     []*domain.Kline
		isShort    bool
		overbought float64
		rate       string
		want       domain.ExitSignal
	}{
		{"long holds in up trend", upTrend, false, 85, "109", domain.ExitSignal{}},
		{"long exits when overbought", upTrend, false, 80, "109", domain.ExitSignal{Exit: true, Reason: domain.ExitReasonExitSignal, Tag: "rsi_overbought"}},
		{"long exits on reversal", downTrend, false, 85, "191", domain.ExitSignal{Exit: true, Reason: domain.ExitReasonExitSignal, Tag: "trend_reversal"}},
		{"short holds in down trend", downTrend, true, 85, "191", domain.ExitSignal{}},
		{"short exits on reversal", upTrend, true, 85, "109", domain.ExitSignal{Exit: true, Reason: domain.ExitReasonExitSignal, Tag: "trend_reversal"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.RSIOverbought = tt.overbought
			logger := &mockLogger{}
			s, err := New(cfg, &mockCandles{klines: tt.klines}, logger)
			require.NoError(t, err)

			trade := &domain.Trade{ID: 7, Pair: "ETHUSDT", IsShort: tt.isShort}
			got, err := s.ExitSignal(context.Background(), trade, money.MustParse(tt.rate), ports.ProfitSnapshot{ProfitRatio: money.MustParse("0.01")})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if got.Exit {
				assert.Contains(t, logger.infoMsgs, "ExitSignal: Exit conditions met")
			}
		})
	}
}

func TestExitSignal_Errors(t *testing.T) {
	s, err := New(testConfig(), &mockCandles{err: errors.New("klines down")}, &mockLogger{})
	require.NoError(t, err)

	_, err = s.ExitSignal(context.Background(), nil, money.One, ports.ProfitSnapshot{})
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	_, err = s.ExitSignal(context.Background(), &domain.Trade{Pair: "ETHUSDT"}, money.One, ports.ProfitSnapshot{})
	assert.EqualError(t, err, "ComputeIndicators failed: klines down")
}
