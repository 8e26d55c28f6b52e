package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tradePilot/internal/domain"
)

func closes(values ...float64) []*domain.Kline {
	out := make([]*domain.Kline, len(values))
	for i, v := range values {
		out[i] = &domain.Kline{Close: v}
	}
	return out
}

func TestRSI(t *testing.T) {
	tests := []struct {
		name    string
		klines  []*domain.Kline
		period  int
		want    float64
		wantErr bool
	}{
		{"alternating moves", closes(100, 110, 105, 115, 110, 120), 5, 75, false},
		{"smoothed", closes(100, 103, 102, 105, 104, 107, 106, 109), 4, 81.9149, false},
		{"insufficient data", closes(100, 110), 5, 0, true},
		{"all gains", closes(100, 110, 120, 130, 140, 150), 5, 100, false},
		{"all losses", closes(150, 140, 130, 120, 110, 100), 5, 0, false},
		{"no change", closes(100, 100, 100, 100), 3, 50, false},
		{"zero period", closes(100, 101), 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rsi(tt.klines, tt.period)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.InDelta(t, tt.want, got, 0.001)
		})
	}
}

func TestSMA(t *testing.T) {
	got, err := sma(closes(100, 110, 120, 130, 140), 3)
	assert.NoError(t, err)
	assert.Equal(t, 130.0, got)

	_, err = sma(closes(100, 110), 3)
	assert.Error(t, err)
}

func TestEMA(t *testing.T) {
	tests := []struct {
		name    string
		klines  []*domain.Kline
		period  int
		want    float64
		wantErr bool
	}{
		{"seeded with the first closes", closes(100, 110, 120, 130, 140), 3, 130, false},
		{"exactly one period", closes(100, 110, 120), 3, 110, false},
		{"insufficient data", closes(100, 110), 3, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ema(tt.klines, tt.period)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.InDelta(t, tt.want, got, 0.0001)
		})
	}
}
