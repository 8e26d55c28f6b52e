package domain

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidKline = errors.New("invalid kline")

// Kline is one candle of a pair's price history. Prices are floats; candles
// feed indicators only and never money arithmetic.
type Kline struct {
	OpenTime  time.Time
	CloseTime time.Time
	Symbol    string
	Interval  string // exchange notation, e.g. "15m"
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	// IsFinal is false for the candle still forming when it was fetched.
	IsFinal bool
}

// Validate checks the candle's prices are positive and consistent with its range.
func (k *Kline) Validate() error {
	if k.Open <= 0 || k.High <= 0 || k.Low <= 0 || k.Close <= 0 || k.Volume < 0 {
		return fmt.Errorf("%w: non-positive price or negative volume at %s", ErrInvalidKline, k.OpenTime.Format(time.RFC3339))
	}
	if k.Low > k.High || k.Open > k.High || k.Close > k.High || k.Open < k.Low || k.Close < k.Low {
		return fmt.Errorf("%w: open/close outside low %g high %g at %s", ErrInvalidKline, k.Low, k.High, k.OpenTime.Format(time.RFC3339))
	}
	if k.CloseTime.Before(k.OpenTime) {
		return fmt.Errorf("%w: closes before it opens at %s", ErrInvalidKline, k.OpenTime.Format(time.RFC3339))
	}
	return nil
}
