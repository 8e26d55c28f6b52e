package strategy

import (
	"fmt"

	"tradePilot/internal/domain"
)

// rsi computes the Relative Strength Index of the closes with Wilder's smoothing.
func rsi(klines []*domain.Kline, period int) (float64, error) {
	if period <= 0 || len(klines) <= period {
		return 0, fmt.Errorf("not enough data (%d) to calculate RSI for period %d", len(klines), period)
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := klines[i].Close - klines[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(klines); i++ {
		change := klines[i].Close - klines[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, nil
		}
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

// sma is the simple moving average of the last period closes.
func sma(klines []*domain.Kline, period int) (float64, error) {
	if period <= 0 || len(klines) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate MA for period %d", len(klines), period)
	}
	total := 0.0
	for _, k := range klines[len(klines)-period:] {
		total += k.Close
	}
	return total / float64(period), nil
}

// ema is the exponential moving average of the closes, seeded with the SMA of
// the first period closes.
func ema(klines []*domain.Kline, period int) (float64, error) {
	if period <= 0 || len(klines) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate EMA for period %d", len(klines), period)
	}
	value, err := sma(klines[:period], period)
	if err != nil {
		return 0, err
	}
	multiplier := 2.0 / float64(period+1)
	for _, k := range klines[period:] {
		value = (k.Close-value)*multiplier + value
	}
	return value, nil
}
