package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"tradePilot/internal/adapters/logger"
	"tradePilot/internal/adapters/sqlite"
	"tradePilot/internal/ledger"
	"tradePilot/internal/ports"
)

func main() {
	dbPath := flag.String("db", "./data/tradepilot.db", "sqlite database to read")
	out := flag.String("out", "", "output file (default stdout)")
	pair := flag.String("pair", "", "only trades on this pair")
	status := flag.String("status", "all", "open, closed or all")
	since := flag.Duration("since", 0, "only trades closed within this window, e.g. 168h")
	level := flag.String("log-level", "info", "log level")
	summary := flag.Bool("summary", false, "log a performance summary of the closed trades")
	flag.Parse()

	ctx := context.Background()
	appLogger := logger.New(logger.Config{Level: *level})

	filter := ports.TradeFilter{Pair: *pair}
	switch *status {
	case "open":
		open := true
		filter.IsOpen = &open
	case "closed":
		closed := false
		filter.IsOpen = &closed
	case "all":
	default:
		log.Fatalf("FATAL: invalid -status %q: expected open, closed or all", *status)
	}
	if *since > 0 {
		filter.ClosedAfter = time.Now().UTC().Add(-*since)
	}

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: *dbPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to open database: %v", err)
	}
	defer repo.Close()

	tradeLedger, err := ledger.New(ledger.Config{Repository: repo, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize ledger: %v", err)
	}

	var w io.Writer = os.Stdout
	if *out != "" {
		file, err := os.Create(*out)
		if err != nil {
			log.Fatalf("FATAL: Failed to create %s: %v", *out, err)
		}
		defer file.Close()
		w = file
	}

	n, err := tradeLedger.Export(ctx, w, filter)
	if err != nil {
		appLogger.Error(ctx, err, "Export failed")
		log.Fatalf("FATAL: Export failed: %v", err)
	}
	appLogger.Info(ctx, "Export finished", map[string]interface{}{"trades": n})

	if *summary {
		perf, err := tradeLedger.Performance(ctx, filter)
		if err != nil {
			log.Fatalf("FATAL: Performance summary failed: %v", err)
		}
		appLogger.Info(ctx, "Performance summary", perf.Fields())
	}
}
