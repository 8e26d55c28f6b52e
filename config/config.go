package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tradePilot/internal/adapters/logger"
	"tradePilot/internal/app"
	"tradePilot/internal/domain"
	"tradePilot/internal/money"
	"tradePilot/internal/ports"
	"tradePilot/internal/profit"
	"tradePilot/internal/strategy"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Dry run simulates fills against live prices
	DryRun       bool
	DryRunWallet money.Decimal
	DryRunFee    money.Decimal

	// Trading Parameters
	Pairs          []string
	StakeCurrency  string
	StakeAmount    money.Decimal
	UnlimitedStake bool
	MaxOpenTrades  int
	TradingMode    domain.TradingMode
	Leverage       money.Decimal
	InterestRate   *money.Decimal
	Fee            money.Decimal

	// Exit settings
	StopLoss                   money.Decimal
	TrailingStop               bool
	TrailingStopPositive       money.Decimal
	TrailingStopPositiveOffset money.Decimal
	MinimalROI                 profit.ROITable

	// Controller
	ProcessThrottle        time.Duration
	UnfilledTimeout        time.Duration
	CancelOpenOrdersOnExit bool
	InitialState           domain.BotState

	// Storage
	StorageMode domain.StorageMode
	DBPath      string

	// Wallet and exchange
	WalletStaleness      time.Duration
	ExchangeTimeout      time.Duration
	ExchangeRateLimit    float64
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	// Display
	FiatCurrency string
	FiatRate     float64

	// Strategy
	StrategyFile string
	Strategy     strategy.Config

	Log         logger.Config
	MetricsAddr string
}

// LoadConfig loads configuration from environment variables, reading envFiles
// (default .env) first. Variables already set in the environment win.
func LoadConfig(envFiles ...string) (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load(envFiles...)
	return FromEnv(os.LookupEnv)
}

// NewReloader returns an app.Reloader that re-reads envFiles, letting their
// values replace the current environment, and rebuilds the controller settings.
func NewReloader(log ports.Logger, envFiles ...string) app.Reloader {
	return func(ctx context.Context) (app.Settings, error) {
		if err := godotenv.Overload(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn(ctx, "ReloadConfig: Env file not applied", map[string]interface{}{"error": err.Error()})
		}
		cfg, err := FromEnv(os.LookupEnv)
		if err != nil {
			return app.Settings{}, err
		}
		return cfg.Settings()
	}
}

// FromEnv builds and validates a Config from lookup. All validation errors are
// reported together.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	e := &env{lookup: lookup}
	cfg := &Config{}

	// Binance API
	cfg.APIKey = e.str("BINANCE_API_KEY", "")
	cfg.SecretKey = e.str("BINANCE_API_SECRET", "")
	cfg.IsTestnet = e.boolean("IS_TESTNET", true) // Default to testnet for safety
	cfg.DryRun = e.boolean("DRY_RUN", true)
	cfg.DryRunWallet = e.decimal("DRY_RUN_WALLET", "1000")
	cfg.DryRunFee = e.decimal("DRY_RUN_FEE", "0.001")
	if cfg.DryRunWallet.IsNegative() {
		e.fail("DRY_RUN_WALLET cannot be negative")
	}
	if !cfg.DryRun {
		if cfg.APIKey == "" {
			e.fail("BINANCE_API_KEY must be set")
		}
		if cfg.SecretKey == "" {
			e.fail("BINANCE_API_SECRET must be set")
		}
	}

	// Trading Parameters
	cfg.Pairs = e.list("PAIRS", "ETHUSDT")
	if len(cfg.Pairs) == 0 {
		e.fail("PAIRS must name at least one pair")
	}
	cfg.StakeCurrency = strings.ToUpper(e.str("STAKE_CURRENCY", "USDT"))
	if cfg.StakeCurrency == "" {
		e.fail("STAKE_CURRENCY must be set")
	}
	if strings.EqualFold(e.str("STAKE_AMOUNT", ""), "unlimited") {
		cfg.UnlimitedStake = true
		cfg.StakeAmount = money.Zero
	} else {
		cfg.StakeAmount = e.decimal("STAKE_AMOUNT", "100")
		if !cfg.StakeAmount.IsPositive() {
			e.fail("STAKE_AMOUNT must be positive or \"unlimited\"")
		}
	}
	cfg.MaxOpenTrades = e.integer("MAX_OPEN_TRADES", 3)
	if cfg.UnlimitedStake && cfg.MaxOpenTrades < 0 {
		e.fail("MAX_OPEN_TRADES must be finite with an unlimited STAKE_AMOUNT")
	}

	modeStr := e.str("TRADING_MODE", string(domain.TradingModeSpot))
	mode, ok := domain.ParseTradingMode(modeStr)
	if !ok {
		e.fail(fmt.Sprintf("invalid TRADING_MODE %q", modeStr))
	}
	cfg.TradingMode = mode
	cfg.Leverage = e.decimal("LEVERAGE", "1")
	if cfg.Leverage.LessThan(money.One) {
		e.fail("LEVERAGE must be at least 1")
	}
	if cfg.TradingMode == domain.TradingModeSpot && cfg.Leverage.GreaterThan(money.One) {
		e.fail("LEVERAGE above 1 requires margin or futures TRADING_MODE")
	}
	if _, set := lookup("INTEREST_RATE"); set {
		rate := e.decimal("INTEREST_RATE", "0")
		if rate.IsNegative() {
			e.fail("INTEREST_RATE cannot be negative")
		}
		cfg.InterestRate = &rate
	}
	if cfg.TradingMode == domain.TradingModeMargin && cfg.InterestRate == nil {
		e.fail("INTEREST_RATE must be set in margin TRADING_MODE")
	}
	cfg.Fee = e.decimal("FEE", "0.001")
	if cfg.Fee.IsNegative() || cfg.Fee.GreaterThanOrEqual(money.One) {
		e.fail("FEE must be between 0 and 1")
	}

	// Exit settings
	cfg.StopLoss = e.decimal("STOP_LOSS", "0.1").Abs()
	if !cfg.StopLoss.IsPositive() || cfg.StopLoss.GreaterThanOrEqual(money.One) {
		e.fail("STOP_LOSS must be between 0.0 and 1.0 (exclusive)")
	}
	cfg.TrailingStop = e.boolean("TRAILING_STOP", false)
	cfg.TrailingStopPositive = e.decimal("TRAILING_STOP_POSITIVE", "0")
	cfg.TrailingStopPositiveOffset = e.decimal("TRAILING_STOP_POSITIVE_OFFSET", "0")
	if cfg.TrailingStopPositive.IsNegative() || cfg.TrailingStopPositiveOffset.IsNegative() {
		e.fail("TRAILING_STOP_POSITIVE and TRAILING_STOP_POSITIVE_OFFSET cannot be negative")
	}
	roi, err := profit.ParseROITable(e.str("MINIMAL_ROI", ""))
	if err != nil {
		e.fail(fmt.Sprintf("invalid MINIMAL_ROI: %v", err))
	}
	cfg.MinimalROI = roi

	// Controller
	cfg.ProcessThrottle = e.seconds("PROCESS_THROTTLE_SECS", 5)
	if cfg.ProcessThrottle <= 0 {
		e.fail("PROCESS_THROTTLE_SECS must be positive")
	}
	cfg.UnfilledTimeout = time.Duration(e.integer("UNFILLED_TIMEOUT_MINUTES", 10)) * time.Minute
	if cfg.UnfilledTimeout < 0 {
		e.fail("UNFILLED_TIMEOUT_MINUTES cannot be negative")
	}
	cfg.CancelOpenOrdersOnExit = e.boolean("CANCEL_OPEN_ORDERS_ON_EXIT", false)
	stateStr := e.str("INITIAL_STATE", string(domain.StateStopped))
	state, ok := domain.ParseBotState(stateStr)
	if !ok {
		e.fail(fmt.Sprintf("invalid INITIAL_STATE %q: expected STOPPED or RUNNING", stateStr))
	}
	cfg.InitialState = state

	// Storage
	storageStr := e.str("STORAGE_MODE", string(domain.StoragePersisted))
	storage, ok := domain.ParseStorageMode(storageStr)
	if !ok {
		e.fail(fmt.Sprintf("invalid STORAGE_MODE %q", storageStr))
	}
	cfg.StorageMode = storage
	cfg.DBPath = e.str("DB_PATH", "./data/tradepilot.db")
	if cfg.StorageMode == domain.StoragePersisted && cfg.DBPath == "" {
		e.fail("DB_PATH must be set")
	}

	// Wallet and exchange
	cfg.WalletStaleness = e.seconds("WALLET_STALENESS_SECS", 3600)
	cfg.ExchangeTimeout = e.seconds("EXCHANGE_TIMEOUT_SECS", 10)
	cfg.ExchangeRateLimit = e.float("EXCHANGE_RATE_LIMIT", 10)
	if cfg.WalletStaleness <= 0 || cfg.ExchangeTimeout <= 0 || cfg.ExchangeRateLimit <= 0 {
		e.fail("WALLET_STALENESS_SECS, EXCHANGE_TIMEOUT_SECS and EXCHANGE_RATE_LIMIT must be positive")
	}
	cfg.ReconnectDelay = e.seconds("RECONNECT_DELAY_SECONDS", 5)
	if cfg.ReconnectDelay <= 0 {
		e.fail("RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.MaxReconnectAttempts = e.integer("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		e.fail("MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	// Display
	cfg.FiatCurrency = strings.ToUpper(e.str("FIAT_CURRENCY", ""))
	cfg.FiatRate = e.float("FIAT_RATE", 1)
	if cfg.FiatCurrency != "" && cfg.FiatRate <= 0 {
		e.fail("FIAT_RATE must be positive")
	}

	// Strategy Parameters (using defaults if not set)
	cfg.StrategyFile = e.str("STRATEGY_FILE", "")
	cfg.Strategy = strategy.Config{
		Name:              e.str("STRATEGY_NAME", strategy.DefaultName),
		Interval:          e.str("STRATEGY_INTERVAL", "15m"),
		ShortTermMAPeriod: e.integer("STRATEGY_SHORT_MA_PERIOD", 20),
		LongTermMAPeriod:  e.integer("STRATEGY_LONG_MA_PERIOD", 50),
		EMAPeriod:         e.integer("STRATEGY_EMA_PERIOD", 20),
		RSIPeriod:         e.integer("STRATEGY_RSI_PERIOD", 14),
		RSIOverbought:     e.float("STRATEGY_RSI_OVERBOUGHT", 70.0),
		RSIOversold:       e.float("STRATEGY_RSI_OVERSOLD", 30.0),
		AllowShort:        e.boolean("STRATEGY_ALLOW_SHORT", false),
	}
	if cfg.StrategyFile != "" {
		f, err := strategy.LoadFile(cfg.StrategyFile)
		if err != nil {
			e.fail(err.Error())
		} else {
			cfg.Strategy = f.ApplyIndicators(cfg.Strategy)
		}
	}
	s := cfg.Strategy
	if s.ShortTermMAPeriod <= 0 || s.LongTermMAPeriod <= 0 || s.EMAPeriod <= 0 || s.RSIPeriod <= 0 {
		e.fail("strategy periods (MA, EMA, RSI) must be positive")
	}
	if s.ShortTermMAPeriod >= s.LongTermMAPeriod {
		e.fail("STRATEGY_SHORT_MA_PERIOD must be less than STRATEGY_LONG_MA_PERIOD")
	}
	if s.RSIOverbought <= s.RSIOversold || s.RSIOverbought > 100 || s.RSIOversold < 0 {
		e.fail("invalid RSI thresholds (Overbought must be > Oversold, between 0-100)")
	}

	// Logging
	cfg.Log = logger.Config{
		Level:      e.str("LOG_LEVEL", "INFO"),
		Format:     e.str("LOG_FORMAT", "text"),
		Output:     e.str("LOG_OUTPUT", "stderr"),
		MaxSize:    e.integer("LOG_MAX_SIZE", 100),
		MaxBackups: e.integer("LOG_MAX_BACKUPS", 5),
		MaxAge:     e.integer("LOG_MAX_AGE", 30),
		Compress:   e.boolean("LOG_COMPRESS", true),
	}
	cfg.MetricsAddr = e.str("METRICS_ADDR", "")

	// Combine validation errors
	if len(e.errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %w: %w: %s",
			ports.ErrOperational, ports.ErrConfigurationError, strings.Join(e.errs, "; "))
	}
	return cfg, nil
}

// ProfitConfig returns the exit settings with the strategy file applied.
func (c *Config) ProfitConfig() (profit.Config, error) {
	pc := profit.Config{
		StopLoss: c.StopLoss,
		Trailing: profit.TrailingConfig{
			Enabled:        c.TrailingStop,
			Positive:       c.TrailingStopPositive,
			PositiveOffset: c.TrailingStopPositiveOffset,
		},
		ROI: c.MinimalROI,
	}
	if c.StrategyFile == "" {
		return pc, nil
	}
	f, err := strategy.LoadFile(c.StrategyFile)
	if err != nil {
		return pc, fmt.Errorf("%w: %w", ports.ErrOperational, err)
	}
	pc, err = f.ApplyProfit(pc)
	if err != nil {
		return pc, fmt.Errorf("%w: %w", ports.ErrOperational, err)
	}
	return pc, nil
}

// Settings builds the controller settings.
func (c *Config) Settings() (app.Settings, error) {
	pc, err := c.ProfitConfig()
	if err != nil {
		return app.Settings{}, err
	}
	var policies []ports.ProtectionPolicy
	if c.StrategyFile != "" {
		f, err := strategy.LoadFile(c.StrategyFile)
		if err != nil {
			return app.Settings{}, fmt.Errorf("%w: %w", ports.ErrOperational, err)
		}
		if policies, err = f.Policies(); err != nil {
			return app.Settings{}, fmt.Errorf("%w: %w", ports.ErrOperational, err)
		}
	}
	return app.Settings{
		Pairs:                  append([]string(nil), c.Pairs...),
		StakeCurrency:          c.StakeCurrency,
		FiatCurrency:           c.FiatCurrency,
		StakeAmount:            c.StakeAmount,
		UnlimitedStake:         c.UnlimitedStake,
		MaxOpenTrades:          c.MaxOpenTrades,
		TradingMode:            c.TradingMode,
		Leverage:               c.Leverage,
		InterestRate:           c.InterestRate,
		Fee:                    c.Fee,
		Profit:                 pc,
		Protections:            policies,
		ThrottleInterval:       c.ProcessThrottle,
		UnfilledTimeout:        c.UnfilledTimeout,
		CancelOpenOrdersOnExit: c.CancelOpenOrdersOnExit,
		InitialState:           c.InitialState,
	}, nil
}

// --- Env Var Helpers ---

type env struct {
	lookup func(string) (string, bool)
	errs   []string
}

func (e *env) fail(msg string) { e.errs = append(e.errs, msg) }

func (e *env) str(key, defaultValue string) string {
	value, ok := e.lookup(key)
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return defaultValue
	}
	return value
}

func (e *env) list(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(e.str(key, defaultValue), ",") {
		if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (e *env) integer(key string, defaultValue int) int {
	valueStr := e.str(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		e.fail(fmt.Sprintf("invalid integer value '%s' for key %s", valueStr, key))
		return defaultValue
	}
	return value
}

func (e *env) float(key string, defaultValue float64) float64 {
	valueStr := e.str(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		e.fail(fmt.Sprintf("invalid float value '%s' for key %s", valueStr, key))
		return defaultValue
	}
	return value
}

func (e *env) decimal(key, defaultValue string) money.Decimal {
	valueStr := e.str(key, defaultValue)
	value, err := money.Parse(valueStr)
	if err != nil {
		e.fail(fmt.Sprintf("invalid decimal value '%s' for key %s", valueStr, key))
		return money.MustParse(defaultValue)
	}
	return value
}

func (e *env) boolean(key string, defaultValue bool) bool {
	valueStr := e.str(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		e.fail(fmt.Sprintf("invalid boolean value '%s' for key %s", valueStr, key))
		return defaultValue
	}
	return value
}

func (e *env) seconds(key string, defaultValue int) time.Duration {
	return time.Duration(e.integer(key, defaultValue)) * time.Second
}
