package strategy

import (
	"context"
	"fmt"

	"tradePilot/internal/domain"
	"tradePilot/internal/money"
	"tradePilot/internal/ports"
)

// DefaultName is used when Config.Name is empty.
const DefaultName = "ma_rsi_trend"

// Config holds parameters for the trend strategy.
type Config struct {
	Name              string
	Interval          string  // candle interval, e.g. "15m"
	ShortTermMAPeriod int     // e.g., 20
	LongTermMAPeriod  int     // e.g., 50
	EMAPeriod         int     // e.g., 20
	RSIPeriod         int     // e.g., 14
	RSIOverbought     float64 // e.g., 70.0
	RSIOversold       float64 // e.g., 30.0
	// AllowShort emits short entries on down trends. Spot controllers ignore them.
	AllowShort bool
}

// Strategy follows moving average trends and exits on RSI extremes or when
// the averages cross against the trade.
type Strategy struct {
	cfg     Config
	candles ports.CandleSource
	logger  ports.Logger
}

type indicators struct {
	price   float64
	shortMA float64
	longMA  float64
	ema     float64
	rsi     float64
}

// New creates a new Strategy instance.
func New(cfg Config, candles ports.CandleSource, logger ports.Logger) (*Strategy, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy: %w", ports.ErrConfigurationError)
	}
	if candles == nil {
		return nil, fmt.Errorf("candle source is required for strategy: %w", ports.ErrConfigurationError)
	}
	if cfg.ShortTermMAPeriod <= 0 || cfg.LongTermMAPeriod <= 0 || cfg.EMAPeriod <= 0 || cfg.RSIPeriod <= 0 {
		return nil, fmt.Errorf("strategy periods must be positive: %w", ports.ErrConfigurationError)
	}
	if cfg.ShortTermMAPeriod >= cfg.LongTermMAPeriod {
		return nil, fmt.Errorf("short term MA period must be less than long term MA period: %w", ports.ErrConfigurationError)
	}
	if cfg.RSIOverbought <= cfg.RSIOversold || cfg.RSIOverbought > 100 || cfg.RSIOversold < 0 {
		return nil, fmt.Errorf("invalid RSI thresholds: %w", ports.ErrConfigurationError)
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Interval == "" {
		cfg.Interval = "15m"
	}
	return &Strategy{cfg: cfg, candles: candles, logger: logger}, nil
}

func (s *Strategy) Name() string { return s.cfg.Name }

// RequiredDataPoints returns the minimum number of klines needed for the calculations.
func (s *Strategy) RequiredDataPoints() int {
	maxPeriod := s.cfg.LongTermMAPeriod
	if s.cfg.EMAPeriod > maxPeriod {
		maxPeriod = s.cfg.EMAPeriod
	}
	if s.cfg.RSIPeriod > maxPeriod {
		maxPeriod = s.cfg.RSIPeriod
	}
	// RSI looks one candle further back than its period
	return maxPeriod + 1
}

func (s *Strategy) compute(ctx context.Context, pair string, price float64) (*indicators, bool, error) {
	op := "ComputeIndicators"
	required := s.RequiredDataPoints()
	klines, err := s.candles.GetKlines(ctx, pair, s.cfg.Interval, required)
	if err != nil {
		return nil, false, fmt.Errorf("%s failed: %w", op, err)
	}
	if len(klines) < required {
		s.logger.Debug(ctx, op+": Not enough kline data for strategy evaluation",
			map[string]interface{}{"pair": pair, "available": len(klines), "required": required})
		return nil, false, nil
	}
	if price <= 0 {
		price = klines[len(klines)-1].Close
	}

	ind := &indicators{price: price}
	if ind.shortMA, err = sma(klines, s.cfg.ShortTermMAPeriod); err != nil {
		return nil, false, fmt.Errorf("%s failed: %w", op, err)
	}
	if ind.longMA, err = sma(klines, s.cfg.LongTermMAPeriod); err != nil {
		return nil, false, fmt.Errorf("%s failed: %w", op, err)
	}
	if ind.ema, err = ema(klines, s.cfg.EMAPeriod); err != nil {
		return nil, false, fmt.Errorf("%s failed: %w", op, err)
	}
	if ind.rsi, err = rsi(klines, s.cfg.RSIPeriod); err != nil {
		return nil, false, fmt.Errorf("%s failed: %w", op, err)
	}
	return ind, true, nil
}

func (ind *indicators) fields(pair string) map[string]interface{} {
	return map[string]interface{}{
		"pair":    pair,
		"price":   ind.price,
		"shortMA": ind.shortMA,
		"longMA":  ind.longMA,
		"ema":     ind.ema,
		"rsi":     ind.rsi,
	}
}

// EntrySignal enters long when price sits above both averages on an up trend
// and RSI is not overbought. Shorts mirror it when AllowShort is set.
func (s *Strategy) EntrySignal(ctx context.Context, pair string) (domain.EntrySignal, error) {
	op := "EntrySignal"
	ind, ok, err := s.compute(ctx, pair, 0)
	if err != nil || !ok {
		return domain.EntrySignal{}, err
	}

	trendingUp := ind.price > ind.shortMA && ind.price > ind.longMA && ind.shortMA > ind.longMA
	if trendingUp && ind.rsi < s.cfg.RSIOverbought && ind.price > ind.ema {
		s.logger.Info(ctx, op+": Long entry conditions met", ind.fields(pair))
		return domain.EntrySignal{Enter: true, Tag: "trend_up"}, nil
	}

	trendingDown := ind.price < ind.shortMA && ind.price < ind.longMA && ind.shortMA < ind.longMA
	if s.cfg.AllowShort && trendingDown && ind.rsi > s.cfg.RSIOversold && ind.price < ind.ema {
		s.logger.Info(ctx, op+": Short entry conditions met", ind.fields(pair))
		return domain.EntrySignal{Enter: true, IsShort: true, Tag: "trend_down"}, nil
	}

	s.logger.Debug(ctx, op+": Entry conditions not met", ind.fields(pair))
	return domain.EntrySignal{}, nil
}

// ExitSignal closes on an RSI extreme in the trade's favor or when the short
// average crosses the long one against the trade.
func (s *Strategy) ExitSignal(ctx context.Context, trade *domain.Trade, currentRate money.Decimal, profit ports.ProfitSnapshot) (domain.ExitSignal, error) {
	op := "ExitSignal"
	if trade == nil {
		return domain.ExitSignal{}, fmt.Errorf("%s failed: %w: trade is nil", op, ports.ErrInvalidRequest)
	}
	ind, ok, err := s.compute(ctx, trade.Pair, currentRate.Float64())
	if err != nil || !ok {
		return domain.ExitSignal{}, err
	}

	fields := ind.fields(trade.Pair)
	fields["tradeID"] = trade.ID
	fields["profitRatio"] = profit.ProfitRatio.String()

	var tag string
	switch {
	case !trade.IsShort && ind.rsi >= s.cfg.RSIOverbought:
		tag = "rsi_overbought"
	case trade.IsShort && ind.rsi <= s.cfg.RSIOversold:
		tag = "rsi_oversold"
	case !trade.IsShort && ind.shortMA < ind.longMA:
		tag = "trend_reversal"
	case trade.IsShort && ind.shortMA > ind.longMA:
		tag = "trend_reversal"
	default:
		return domain.ExitSignal{}, nil
	}

	fields["tag"] = tag
	s.logger.Info(ctx, op+": Exit conditions met", fields)
	return domain.ExitSignal{Exit: true, Reason: domain.ExitReasonExitSignal, Tag: tag}, nil
}
