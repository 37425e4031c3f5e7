package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"cryptex/config"
	"cryptex/exchange"
	"cryptex/internal/execution"
	"cryptex/internal/marketdata"
	"cryptex/internal/metrics"
	"cryptex/internal/pipeline"
	"cryptex/logger"
	"cryptex/models"
	"cryptex/writer"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logger.GetLogger()

	configPath := flag.String("config", "", "Path to configuration file (default: config/config.<APP_ENV>.yml or config/config.yml)")
	envFile := flag.String("env-file", "", "Path to a dotenv file (default: .env then .env.default)")
	dryRun := flag.Bool("dry-run", false, "Simulate orders; overrides DRY_RUN")
	live := flag.Bool("live", false, "Submit real orders; overrides DRY_RUN")
	flag.Parse()

	if *dryRun && *live {
		log.Error("-dry-run and -live are mutually exclusive")
		return 2
	}

	for _, f := range config.EnvFiles(*envFile) {
		if err := godotenv.Load(f); err != nil {
			log.WithError(err).WithFields(logger.Fields{"file": f}).Warn("Error loading env file")
		}
	}
	switch {
	case *dryRun:
		os.Setenv("DRY_RUN", "true")
	case *live:
		os.Setenv("DRY_RUN", "false")
	}

	path := config.ResolvePath(*configPath, "config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		return 1
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		return 1
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Cryptex.Name,
		"version":     cfg.Cryptex.Version,
		"environment": config.AppEnvironment(),
		"config":      path,
		"symbol":      cfg.Trading.Symbol,
		"timeframe":   cfg.Trading.Timeframe,
		"dry_run":     cfg.Trading.DryRun,
	}).Info("starting cryptex cycle")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}

	rec := metrics.New()
	defer pushMetrics(cfg, rec)

	binanceGW := exchange.NewBinance(cfg.Exchange, rec)
	if err := binanceGW.Ping(ctx); err != nil {
		log.WithError(err).Error("Exchange connectivity check failed")
		return 1
	}

	var gw exchange.Gateway = binanceGW
	if cfg.Trading.DryRun && !cfg.HasCredentials() {
		log.WithComponent("main").Info("no API credentials; using paper account for the dry run")
		gw = exchange.NewPaperAccount(binanceGW)
	}

	records, closeStore, err := openRecordStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("Failed to open order state store")
		return 1
	}
	defer closeStore()

	cacheOpts := []marketdata.Option{marketdata.WithMetrics(rec)}
	dumper, err := buildDumper(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("Failed to create candle dumper")
		return 1
	}
	if dumper != nil {
		cacheOpts = append(cacheOpts, marketdata.WithRefreshHook(func(ctx context.Context, snap models.MarketSnapshot) {
			if err := dumper.Dump(ctx, snap); err != nil {
				log.WithError(err).WithComponent("main").Warn("failed to persist candles")
			}
		}))
	}

	cache := marketdata.NewCache(gw, marketdata.NewStore(), cfg.Strategy.CandleLimit, cacheOpts...)
	gate := execution.NewGate(gw, records, cfg.Execution.Cooldown, cfg.Trading.DryRun, execution.WithMetrics(rec))
	cycle := pipeline.NewCycle(cache, gate, pipeline.SettingsFromConfig(cfg), pipeline.WithMetrics(rec))

	if _, err := cycle.Run(ctx); err != nil {
		log.WithError(err).Error("cycle failed")
		return 1
	}
	return 0
}

func openRecordStore(ctx context.Context, cfg *config.Config) (execution.RecordStore, func(), error) {
	noop := func() {}
	switch cfg.State.Backend {
	case config.StateBackendMemory:
		return execution.NewMemoryStore(), noop, nil
	case config.StateBackendFile:
		s, err := execution.NewFileStore(cfg.State.FilePath)
		return s, noop, err
	case config.StateBackendRedis:
		s := execution.NewRedisStore(cfg.State.Redis)
		if err := s.Ping(ctx); err != nil {
			s.Close()
			return nil, noop, fmt.Errorf("redis %s: %w", cfg.State.Redis.Addr, err)
		}
		return s, func() { s.Close() }, nil
	case config.StateBackendPostgres:
		s, err := execution.NewPostgresStore(ctx, cfg.State.Postgres)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { s.Close() }, nil
	}
	return nil, noop, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
}

func buildDumper(ctx context.Context, cfg *config.Config) (writer.Dumper, error) {
	var dumpers writer.Multi
	if cfg.Storage.Local.Enabled {
		d, err := writer.NewLocalDumper(cfg.Storage.Local.Dir)
		if err != nil {
			return nil, err
		}
		dumpers = append(dumpers, d)
	}
	if cfg.Storage.S3.Enabled {
		d, err := writer.NewS3Dumper(ctx, cfg.Storage.S3, cfg.Cryptex.Version)
		if err != nil {
			return nil, err
		}
		dumpers = append(dumpers, d)
	}
	if len(dumpers) == 0 {
		return nil, nil
	}
	return dumpers, nil
}

func pushMetrics(cfg *config.Config, rec *metrics.Recorder) {
	if cfg.Metrics.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	grouping := map[string]string{"symbol": cfg.Trading.Symbol}
	if err := rec.Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, grouping); err != nil {
		logger.GetLogger().WithError(err).Warn("failed to push metrics")
	}
}
