package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/contactkeval/vol-surface/internal/config"
	"github.com/contactkeval/vol-surface/internal/data"
	"github.com/contactkeval/vol-surface/internal/engine"
	"github.com/contactkeval/vol-surface/internal/logger"
	"github.com/contactkeval/vol-surface/internal/report"
	"github.com/contactkeval/vol-surface/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML or JSON config")
	envFile := flag.String("env", ".env", "dotenv file with API keys")
	ticker := flag.String("ticker", "", "underlying symbol (overrides config)")
	kind := flag.String("kind", "", "call or put (overrides config)")
	rate := flag.Float64("rate", -1, "risk-free rate as a decimal; negative means config or treasury")
	dividend := flag.Float64("dividend", -1, "continuous dividend yield as a decimal; negative means config")
	provider := flag.String("provider", "", "massive, csv or synthetic (overrides config)")
	rest := flag.Bool("rest", false, "run as REST server")
	addr := flag.String("addr", "", "REST server listen address (overrides config)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	// a missing .env is fine, keys may come from the environment
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Printf("[warn] could not load %s: %v", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *ticker != "" {
		cfg.Underlying = *ticker
	}
	if *kind != "" {
		cfg.KindName = *kind
	}
	if *rate >= 0 {
		cfg.RiskFreeRate = rate
	}
	if *dividend >= 0 {
		cfg.DividendYield = *dividend
	}
	if *provider != "" {
		cfg.Data.Provider = *provider
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if err := logger.SetLevel(cfg.Logging.Level); err != nil {
		log.Fatalf("logging: %v", err)
	}
	if cfg.Logging.File != "" {
		logger.SetFile(cfg.Logging.File, 10, 3)
	}
	defer logger.Close()

	prov, err := data.NewProvider(cfg.Data.Provider, cfg.Data.Fallback, cfg.Data.Dir)
	if err != nil {
		log.Fatalf("data provider: %v", err)
	}
	logger.Infof("%s provider enabled", cfg.Data.Provider)

	eng := engine.NewEngine(cfg, prov, data.NewTreasuryRates())

	if *rest {
		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           server.New(eng).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		logger.Infof("starting REST server on %s", cfg.Server.Addr)
		log.Fatal(srv.ListenAndServe())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	res, err := eng.Run(ctx)
	if err != nil {
		log.Fatalf("surface build failed: %v", err)
	}
	paths, err := report.WriteAll(res, cfg.ReportDir)
	if err != nil {
		log.Fatalf("writing reports: %v", err)
	}
	logger.Infof("finished in %v: %d samples, %d skipped, wrote %v", time.Since(start), len(res.Samples), res.SkippedCount(), paths)
}
