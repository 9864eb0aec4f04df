package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"StockOracle/internal/cache"
	"StockOracle/internal/collector"
	"StockOracle/internal/config"
	"StockOracle/internal/forecast"
	"StockOracle/internal/ingest"
	"StockOracle/internal/logger"
	"StockOracle/internal/metrics"
	"StockOracle/internal/notifier"
	"StockOracle/internal/predictor"
	"StockOracle/internal/scheduler"
	"StockOracle/internal/store"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
)

// app holds the wired components shared by the daemon and the one-shot commands.
type app struct {
	cfg   *config.Config
	svc   *forecast.Service
	store store.Store
	cache cache.PredictionCache
}

func (a *app) Close() {
	if err := a.cache.Close(); err != nil {
		logger.WithComponent("main").Warnf("close cache: %v", err)
	}
	if err := a.store.Close(); err != nil {
		logger.WithComponent("main").Warnf("close store: %v", err)
	}
}

func main() {
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	flag.Usage = usage
	flag.Parse()

	// a missing .env is normal outside development
	_ = godotenv.Load(*envFile)

	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Log)
	log := logger.WithComponent("main")

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, cfg)
	cancel()
	os.Exit(code)
}

// run wires the app and executes the command line, returning the exit code.
func run(ctx context.Context, cfg *config.Config) int {
	log := logger.WithComponent("main")
	a, err := wire(ctx, cfg)
	if err != nil {
		log.Errorf("init: %v", err)
		return 1
	}
	defer a.Close()

	if flag.NArg() == 0 {
		if err := runDaemon(ctx, a); err != nil {
			log.Error(err)
			return 1
		}
		return 0
	}
	if err := runCommand(ctx, a, flag.Args()); err != nil {
		if errors.Is(err, errUsage) {
			usage()
			return 2
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func wire(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logger.WithComponent("main")
	ds := cfg.DataSource
	opts := collector.Options{
		BaseURL:         ds.BaseURL,
		SymbolsURL:      ds.SymbolsURL,
		APIKey:          ds.APIKey,
		Interval:        ds.Interval,
		Proxy:           cfg.Proxy,
		Timeout:         ds.Timeout,
		MinInterval:     ds.MinInterval,
		MaxAttempts:     ds.MaxAttempts,
		BackoffBase:     ds.BackoffBase,
		BackoffMax:      ds.BackoffMax,
		BreakerFailures: ds.BreakerFailures,
		BreakerCooldown: ds.BreakerCooldown,
	}

	var fetcher collector.Fetcher
	switch ds.Provider {
	case "twelvedata":
		fetcher = collector.NewTwelveDataFetcher(opts)
	case "yahoo":
		fetcher = collector.NewYahooFetcher(opts)
	case "mock":
		fetcher = &collector.MockFetcher{}
	default:
		return nil, fmt.Errorf("unknown provider %q", ds.Provider)
	}
	log.Infof("data source: %s", fetcher.Name())

	var st store.Store
	if cfg.Database.SQLitePath != "" {
		s, err := store.OpenSQLite(cfg.Database.SQLitePath)
		if err != nil {
			return nil, err
		}
		st = s
	} else {
		log.Warn("no sqlite path configured, series are kept in memory only")
		st = store.NewMemoryStore()
	}

	var pc cache.PredictionCache
	if cfg.Cache.RedisAddr != "" {
		rc, err := cache.NewRedisCache(ctx, &redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		}, cfg.Prediction.CacheTTL)
		if err != nil {
			st.Close()
			return nil, err
		}
		pc = rc
	} else {
		pc = cache.NewMemoryCache(cfg.Prediction.CacheSize, cfg.Prediction.CacheTTL)
	}

	coord := ingest.NewCoordinator(st, fetcher, ingest.Options{
		Overlap:     cfg.Sync.Overlap,
		HistoryDays: cfg.Sync.HistoryDays,
		Workers:     cfg.Sync.Workers,
	})
	lister, _ := fetcher.(collector.SymbolLister)

	svc := forecast.NewService(forecast.Deps{
		Store:       st,
		Coordinator: coord,
		Predictor:   predictor.New(st, cfg.Prediction.Window, cfg.Prediction.MinPoints),
		Cache:       pc,
		Lister:      lister,
		Symbols:     cfg.Symbols,
	})
	return &app{cfg: cfg, svc: svc, store: st, cache: pc}, nil
}

func runDaemon(ctx context.Context, a *app) error {
	log := logger.WithComponent("main")
	cfg := a.cfg
	log.Info("StockOracle starting...")

	var tn *notifier.TelegramNotifier
	var n scheduler.Notifier
	if cfg.Telegram.BotToken != "" {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
		n = tn
	}

	sched := scheduler.NewScheduler(ctx, a.svc, n, cfg.Prediction.DefaultHorizon)
	if err := sched.RegisterAll(cfg.Schedule.RefreshCron, cfg.Schedule.ReportCron); err != nil {
		return fmt.Errorf("register cron tasks: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		log.Info("telegram polling started")
	}

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("metrics server: %v", err)
			}
		}()
		log.WithField("addr", cfg.Metrics.Addr).Info("metrics endpoint listening")
	}

	if os.Getenv("RUN_ON_START") == "true" {
		log.Info("RUN_ON_START enabled, refreshing the watch list now")
		go sched.RunRefreshNow()
	}

	log.Info("StockOracle is running. Press Ctrl+C to stop.")
	<-ctx.Done()
	log.Info("shutdown signal received, stopping...")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("metrics server shutdown: %v", err)
		}
	}
	return nil
}
