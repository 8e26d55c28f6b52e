package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"tradePilot/config"
	"tradePilot/internal/adapters/binanceclient"
	"tradePilot/internal/adapters/logger"
	"tradePilot/internal/utils"
)

func main() {
	symbol := flag.String("symbol", "ETHUSDT", "symbol to fetch")
	interval := flag.String("interval", "1m", "kline interval")
	days := flag.Int("days", 90, "how many days back to fetch")
	out := flag.String("out", "", "output CSV file (default data/<symbol>_<interval>_<start>_to_<end>.csv)")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.New(cfg.Log)
	ctx := context.Background()

	// 3. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:            cfg.APIKey,
		SecretKey:         cfg.SecretKey,
		UseTestnet:        cfg.IsTestnet,
		Logger:            appLogger,
		RequestsPerSecond: cfg.ExchangeRateLimit,
		Timeout:           cfg.ExchangeTimeout,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -*days)
	appLogger.Info(ctx, "Fetching klines", map[string]interface{}{
		"symbol": *symbol, "interval": *interval, "start": start.Format(time.RFC3339), "end": end.Format(time.RFC3339),
	})
	klines, err := binanceClient.GetKlinesRange(ctx, *symbol, *interval, start, end)
	if err != nil {
		appLogger.Error(ctx, err, "Error fetching klines")
		log.Fatalf("Error fetching klines: %v", err)
	}
	appLogger.Info(ctx, "Fetched klines", map[string]interface{}{"count": len(klines)})

	filename := *out
	if filename == "" {
		filename = fmt.Sprintf("data/%s_%s_%s_to_%s.csv", *symbol, *interval, start.Format("20060102"), end.Format("20060102"))
	}
	if err := utils.WriteKlinesToFile(klines, filename); err != nil {
		appLogger.Error(ctx, err, "Error writing CSV")
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(ctx, "Saved klines", map[string]interface{}{"filename": filename})
}
