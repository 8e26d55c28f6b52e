package main

import (
	"context"
	"errors"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradePilot/config"
	"tradePilot/internal/adapters/binanceclient"
	"tradePilot/internal/adapters/dryrun"
	"tradePilot/internal/adapters/fiat"
	"tradePilot/internal/adapters/logger"
	"tradePilot/internal/adapters/memory"
	"tradePilot/internal/adapters/sqlite"
	"tradePilot/internal/app"
	"tradePilot/internal/domain"
	"tradePilot/internal/ledger"
	"tradePilot/internal/notify"
	"tradePilot/internal/ports"
	"tradePilot/internal/protection"
	"tradePilot/internal/strategy"
	"tradePilot/internal/wallet"
)

const dryRunPollInterval = 5 * time.Second

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.New(cfg.Log)
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.Log.Level, "format": cfg.Log.Format})

	// 3. Initialize Repository
	var repo ports.Repository
	if cfg.StorageMode == domain.StoragePersisted {
		repo, err = sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
			log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
		}
	} else {
		repo = memory.NewRepository(appLogger)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing repository")
		}
	}()
	appLogger.Info(ctx, "Repository initialized", map[string]interface{}{"storageMode": cfg.StorageMode})

	// 4. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger,
		RequestsPerSecond:    cfg.ExchangeRateLimit,
		Timeout:              cfg.ExchangeTimeout,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	var exchange ports.ExchangeClient = binanceClient
	var simulated *dryrun.Exchange
	if cfg.DryRun {
		simulated, err = dryrun.New(dryrun.Config{
			Rates:         binanceClient,
			Logger:        appLogger,
			StakeCurrency: cfg.StakeCurrency,
			Wallet:        cfg.DryRunWallet,
			FeeRate:       cfg.DryRunFee,
		})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize dry-run exchange")
			log.Fatalf("FATAL: Failed to initialize dry-run exchange: %v", err)
		}
		exchange = simulated
		appLogger.Info(ctx, "Dry run enabled, orders are simulated", map[string]interface{}{"wallet": cfg.DryRunWallet.String()})
	} else if cfg.TradingMode == domain.TradingModeFutures {
		leverage := int(cfg.Leverage.IntPart())
		for _, pair := range cfg.Pairs {
			if err := binanceClient.SetLeverage(ctx, pair, leverage); err != nil {
				appLogger.Error(ctx, err, "FATAL: Failed to set leverage", map[string]interface{}{"pair": pair})
				log.Fatalf("FATAL: Failed to set leverage for %s: %v", pair, err)
			}
		}
	}
	appLogger.Info(ctx, "Exchange client initialized")

	// 5. Notifications
	dispatcher := notify.NewDispatcher(appLogger, notify.DefaultQueueSize, notify.LogSink{Logger: appLogger})
	go dispatcher.Run(ctx)

	// 6. Ledger, wallet and protections
	tradeLedger, err := ledger.New(ledger.Config{
		Repository:    repo,
		Logger:        appLogger,
		Exchange:      "binance",
		StakeCurrency: cfg.StakeCurrency,
		MaxOpenTrades: cfg.MaxOpenTrades,
		StorageMode:   cfg.StorageMode,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize ledger: %v", err)
	}
	tracker, err := wallet.NewTracker(wallet.Config{
		Exchange:       exchange,
		Trades:         tradeLedger,
		Logger:         appLogger,
		StakeCurrency:  cfg.StakeCurrency,
		StakeAmount:    cfg.StakeAmount,
		UnlimitedStake: cfg.UnlimitedStake,
		Staleness:      cfg.WalletStaleness,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize wallet: %v", err)
	}
	guard, err := protection.NewManager(protection.Config{
		Repository: repo,
		History:    tradeLedger,
		Notifier:   dispatcher,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize protections: %v", err)
	}

	// 7. Initialize Strategy
	strat, err := strategy.New(cfg.Strategy, binanceClient, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trading strategy")
		log.Fatalf("FATAL: Failed to initialize trading strategy: %v", err)
	}
	appLogger.Info(ctx, "Trading strategy initialized", map[string]interface{}{"strategy": strat.Name()})

	var converter ports.FiatConverter
	if cfg.FiatCurrency != "" {
		static, err := fiat.NewStatic(cfg.StakeCurrency, cfg.FiatCurrency, cfg.FiatRate)
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize fiat converter: %v", err)
		}
		converter = static
	}

	// 8. Initialize Controller
	settings, err := cfg.Settings()
	if err != nil {
		log.Fatalf("FATAL: Failed to build controller settings: %v", err)
	}
	controller, err := app.NewController(settings, app.Dependencies{
		Ledger:     tradeLedger,
		Wallet:     tracker,
		Protection: guard,
		Exchange:   exchange,
		Strategy:   strat,
		Notifier:   dispatcher,
		Fiat:       converter,
		Logger:     appLogger,
		Reload:     config.NewReloader(appLogger),
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize controller")
		log.Fatalf("FATAL: Failed to initialize controller: %v", err)
	}

	// 9. Order events
	if source, ok := exchange.(ports.OrderUpdateSource); ok {
		source.SubscribeOrderUpdates(func(upd ports.OrderUpdate) {
			if err := controller.HandleOrderUpdate(ctx, upd); err != nil {
				appLogger.Warn(ctx, "Order update not applied", map[string]interface{}{"orderID": upd.OrderID, "error": err.Error()})
			}
		})
	}
	if simulated != nil {
		go simulated.Run(ctx, dryRunPollInterval)
	} else {
		go func() {
			if err := binanceClient.RunUserStream(ctx); err != nil {
				appLogger.Error(ctx, err, "User data stream stopped")
			}
		}()
	}

	// 10. Metrics endpoint
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			appLogger.Info(ctx, "Metrics endpoint listening", map[string]interface{}{"addr": cfg.MetricsAddr})
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLogger.Error(ctx, err, "Metrics endpoint failed")
			}
		}()
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// SIGHUP reloads the configuration
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				appLogger.Info(ctx, controller.ReloadConfig())
			case <-ctx.Done():
				return
			}
		}
	}()

	// 11. Run the controller until a shutdown signal
	if err := controller.Run(ctx); err != nil {
		appLogger.Error(ctx, err, "Controller exited with error")
		cancel()
		log.Fatalf("FATAL: Controller exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
