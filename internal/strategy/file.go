package strategy

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tradePilot/internal/money"
	"tradePilot/internal/ports"
	"tradePilot/internal/profit"
	"tradePilot/internal/protection"
)

// File is the strategy file layout.
//
//	name: ma_rsi_trend
//	minimal_roi:
//	  "0": 0.04
//	  "30": 0.02
//	stoploss: 0.10
//	trailing_stop: true
//	protections:
//	  - method: CooldownPeriod
//	    stop_duration: 30
type File struct {
	Name                       string              `yaml:"name"`
	MinimalROI                 map[string]string   `yaml:"minimal_roi"`
	StopLoss                   *string             `yaml:"stoploss"`
	TrailingStop               *bool               `yaml:"trailing_stop"`
	TrailingStopPositive       *string             `yaml:"trailing_stop_positive"`
	TrailingStopPositiveOffset *string             `yaml:"trailing_stop_positive_offset"`
	Protections                []ProtectionEntry   `yaml:"protections"`
	Indicators                 *IndicatorOverrides `yaml:"indicators"`
}

// ProtectionEntry configures one protection. Durations are in minutes.
type ProtectionEntry struct {
	Method         string `yaml:"method"`
	StopDuration   int    `yaml:"stop_duration"`
	LookbackPeriod int    `yaml:"lookback_period"`
	TradeLimit     int    `yaml:"trade_limit"`
	OnlyPerPair    bool   `yaml:"only_per_pair"`
	// MaxAllowedDrawdown is a profit ratio, e.g. "0.2".
	MaxAllowedDrawdown string `yaml:"max_allowed_drawdown"`
}

// IndicatorOverrides replaces indicator parameters. Zero values keep the defaults.
type IndicatorOverrides struct {
	Interval      string  `yaml:"interval"`
	ShortMAPeriod int     `yaml:"short_ma_period"`
	LongMAPeriod  int     `yaml:"long_ma_period"`
	EMAPeriod     int     `yaml:"ema_period"`
	RSIPeriod     int     `yaml:"rsi_period"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
	RSIOversold   float64 `yaml:"rsi_oversold"`
	AllowShort    *bool   `yaml:"allow_short"`
}

// LoadFile reads and validates a strategy file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategy file %s: %w: %w", path, ports.ErrConfigurationError, err)
	}
	f, err := ParseFile(data)
	if err != nil {
		return nil, fmt.Errorf("strategy file %s: %w", path, err)
	}
	return f, nil
}

// ParseFile decodes strategy file content. Unknown keys are rejected.
func ParseFile(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode: %w: %w", ports.ErrConfigurationError, err)
	}
	if _, err := f.ROITable(); err != nil {
		return nil, err
	}
	if _, err := f.Policies(); err != nil {
		return nil, err
	}
	return &f, nil
}

// ROITable converts minimal_roi. It returns nil when the file has none.
func (f *File) ROITable() (profit.ROITable, error) {
	if len(f.MinimalROI) == 0 {
		return nil, nil
	}
	table := profit.ROITable{}
	for k, v := range f.MinimalROI {
		minutes, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil || minutes < 0 {
			return nil, fmt.Errorf("minimal_roi: invalid minutes %q: %w", k, ports.ErrConfigurationError)
		}
		ratio, err := money.Parse(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("minimal_roi: invalid ratio %q: %w: %w", v, ports.ErrConfigurationError, err)
		}
		table[minutes] = ratio
	}
	return table, nil
}

// ApplyProfit overlays the file's stoploss, trailing and ROI settings on cfg.
func (f *File) ApplyProfit(cfg profit.Config) (profit.Config, error) {
	roi, err := f.ROITable()
	if err != nil {
		return cfg, err
	}
	if roi != nil {
		cfg.ROI = roi
	}
	if f.StopLoss != nil {
		sl, err := parseRatio("stoploss", *f.StopLoss)
		if err != nil {
			return cfg, err
		}
		// a negative stoploss, as some files write it, is the same distance
		cfg.StopLoss = sl.Abs()
	}
	if f.TrailingStop != nil {
		cfg.Trailing.Enabled = *f.TrailingStop
	}
	if f.TrailingStopPositive != nil {
		v, err := parseRatio("trailing_stop_positive", *f.TrailingStopPositive)
		if err != nil {
			return cfg, err
		}
		cfg.Trailing.Positive = v
	}
	if f.TrailingStopPositiveOffset != nil {
		v, err := parseRatio("trailing_stop_positive_offset", *f.TrailingStopPositiveOffset)
		if err != nil {
			return cfg, err
		}
		cfg.Trailing.PositiveOffset = v
	}
	return cfg, nil
}

// ApplyIndicators overlays the file's indicator parameters on cfg.
func (f *File) ApplyIndicators(cfg Config) Config {
	if f.Name != "" {
		cfg.Name = f.Name
	}
	ind := f.Indicators
	if ind == nil {
		return cfg
	}
	if ind.Interval != "" {
		cfg.Interval = ind.Interval
	}
	if ind.ShortMAPeriod > 0 {
		cfg.ShortTermMAPeriod = ind.ShortMAPeriod
	}
	if ind.LongMAPeriod > 0 {
		cfg.LongTermMAPeriod = ind.LongMAPeriod
	}
	if ind.EMAPeriod > 0 {
		cfg.EMAPeriod = ind.EMAPeriod
	}
	if ind.RSIPeriod > 0 {
		cfg.RSIPeriod = ind.RSIPeriod
	}
	if ind.RSIOverbought > 0 {
		cfg.RSIOverbought = ind.RSIOverbought
	}
	if ind.RSIOversold > 0 {
		cfg.RSIOversold = ind.RSIOversold
	}
	if ind.AllowShort != nil {
		cfg.AllowShort = *ind.AllowShort
	}
	return cfg
}

// Policies builds the protection policies in file order.
func (f *File) Policies() ([]ports.ProtectionPolicy, error) {
	policies := make([]ports.ProtectionPolicy, 0, len(f.Protections))
	for i, p := range f.Protections {
		if p.StopDuration <= 0 {
			return nil, fmt.Errorf("protections[%d]: stop_duration must be positive: %w", i, ports.ErrConfigurationError)
		}
		stop := time.Duration(p.StopDuration) * time.Minute
		switch p.Method {
		case "CooldownPeriod":
			policies = append(policies, protection.CooldownPeriod{StopDuration: stop})
		case "StoplossGuard":
			if p.TradeLimit <= 0 || p.LookbackPeriod <= 0 {
				return nil, fmt.Errorf("protections[%d]: StoplossGuard needs trade_limit and lookback_period: %w", i, ports.ErrConfigurationError)
			}
			policies = append(policies, protection.StoplossGuard{
				Lookback:     time.Duration(p.LookbackPeriod) * time.Minute,
				TradeLimit:   p.TradeLimit,
				StopDuration: stop,
				OnlyPerPair:  p.OnlyPerPair,
			})
		case "MaxDrawdown":
			if p.LookbackPeriod <= 0 {
				return nil, fmt.Errorf("protections[%d]: MaxDrawdown needs lookback_period: %w", i, ports.ErrConfigurationError)
			}
			limit, err := parseRatio(fmt.Sprintf("protections[%d].max_allowed_drawdown", i), p.MaxAllowedDrawdown)
			if err != nil {
				return nil, err
			}
			if !limit.IsPositive() {
				return nil, fmt.Errorf("protections[%d]: max_allowed_drawdown must be positive: %w", i, ports.ErrConfigurationError)
			}
			policies = append(policies, protection.MaxDrawdown{
				Lookback:           time.Duration(p.LookbackPeriod) * time.Minute,
				TradeLimit:         p.TradeLimit,
				MaxAllowedDrawdown: limit,
				StopDuration:       stop,
			})
		default:
			return nil, fmt.Errorf("protections[%d]: unknown method %q: %w", i, p.Method, ports.ErrConfigurationError)
		}
	}
	return policies, nil
}

func parseRatio(key, v string) (money.Decimal, error) {
	d, err := money.Parse(strings.TrimSpace(v))
	if err != nil {
		return money.Zero, fmt.Errorf("%s: invalid value %q: %w: %w", key, v, ports.ErrConfigurationError, err)
	}
	return d, nil
}
