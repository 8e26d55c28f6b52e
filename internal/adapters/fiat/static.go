package fiat

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"tradePilot/internal/ports"
)

// SupportedFiat lists the display currencies a converter may target.
var SupportedFiat = []string{
	"AUD", "BRL", "CAD", "CHF", "CLP", "CNY", "CZK", "DKK",
	"EUR", "GBP", "HKD", "HUF", "IDR", "ILS", "INR", "JPY",
	"KRW", "MXN", "MYR", "NOK", "NZD", "PHP", "PKR", "PLN",
	"RUB", "UAH", "SEK", "SGD", "THB", "TRY", "TWD", "ZAR",
	"USD", "BTC", "ETH", "XRP", "LTC", "BCH", "BNB",
}

// IsSupported reports whether currency is a known display currency.
func IsSupported(currency string) bool {
	c := strings.ToUpper(strings.TrimSpace(currency))
	for _, s := range SupportedFiat {
		if s == c {
			return true
		}
	}
	return false
}

type pairKey struct{ from, to string }

// Static converts with fixed rates. The inverse of a known rate is used when
// only the opposite direction is configured.
type Static struct {
	mu    sync.RWMutex
	rates map[pairKey]float64
}

// NewStatic creates a converter knowing the single rate from -> to.
func NewStatic(from, to string, rate float64) (*Static, error) {
	s := &Static{rates: map[pairKey]float64{}}
	if err := s.SetRate(from, to, rate); err != nil {
		return nil, err
	}
	return s, nil
}

// SetRate adds or replaces the rate from -> to.
func (s *Static) SetRate(from, to string, rate float64) error {
	from, to = normalize(from), normalize(to)
	if from == "" || to == "" {
		return fmt.Errorf("fiat: currency codes are required: %w", ports.ErrConfigurationError)
	}
	if !IsSupported(to) {
		return fmt.Errorf("fiat: unsupported display currency %q: %w", to, ports.ErrConfigurationError)
	}
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return fmt.Errorf("fiat: rate must be positive, got %v: %w", rate, ports.ErrConfigurationError)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[pairKey{from, to}] = rate
	return nil
}

// Convert implements ports.FiatConverter.
func (s *Static) Convert(amount float64, from, to string) (float64, error) {
	from, to = normalize(from), normalize(to)
	if from == to {
		return amount, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rate, ok := s.rates[pairKey{from, to}]; ok {
		return amount * rate, nil
	}
	if rate, ok := s.rates[pairKey{to, from}]; ok {
		return amount / rate, nil
	}
	return 0, fmt.Errorf("fiat: no rate for %s/%s: %w", from, to, ports.ErrNotFound)
}

func normalize(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}
