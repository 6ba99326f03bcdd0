package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oncallstack/triage-engine/internal/api"
	"github.com/oncallstack/triage-engine/internal/cache"
	"github.com/oncallstack/triage-engine/internal/classify"
	"github.com/oncallstack/triage-engine/internal/config"
	"github.com/oncallstack/triage-engine/internal/execute"
	"github.com/oncallstack/triage-engine/internal/ledger"
	"github.com/oncallstack/triage-engine/internal/metrics"
	"github.com/oncallstack/triage-engine/internal/models"
	"github.com/oncallstack/triage-engine/internal/normalize"
	"github.com/oncallstack/triage-engine/internal/orchestrator"
	"github.com/oncallstack/triage-engine/internal/sources"
	"github.com/oncallstack/triage-engine/internal/ticketing"
	"github.com/oncallstack/triage-engine/internal/utils"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to the YAML config file (or TRIAGE_CONFIG)")
		report     = flag.String("report", "", "handle one failure report from this file (- for stdin) and exit")
		hint       = flag.String("source", "", "source system hint for -report (airflow, databricks, snowflake, mock)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, cleanup, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer cleanup()

	if *report != "" {
		if err := runOnce(ctx, engine, *report, *hint); err != nil {
			logger.Error("report handling failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	serve(ctx, cfg, logger, engine)
}

// buildEngine wires the component graph from configuration. The returned
// cleanup closes every handle the engine owns.
func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*orchestrator.Orchestrator, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled {
		redisProvider, err := cache.NewRedisProvider(cache.RedisConfig{
			URL:         cfg.Cache.URL,
			Password:    cfg.Cache.Password,
			DialTimeout: cfg.Cache.DialTimeout,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect cache: %w", err)
		}
		closers = append(closers, func() { _ = redisProvider.Close() })
		cacheProvider = redisProvider
		logger.Info("classification cache enabled")
	}

	var store ledger.Store
	var ledgerDB *sqlx.DB
	switch cfg.Ledger.Driver {
	case "postgres":
		pg, err := ledger.NewPostgresStore(ctx, ledger.PostgresConfig{
			DSN:      cfg.Ledger.DSN,
			MaxConns: cfg.Ledger.MaxConns,
			Migrate:  cfg.Ledger.Migrate,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("open audit ledger: %w", err)
		}
		closers = append(closers, func() { _ = pg.Close() })
		store = pg
		ledgerDB = pg.DB()
		logger.Info("audit ledger ready", slog.String("driver", "postgres"))
	case "", "memory":
		store = ledger.NewMemoryStore()
		logger.Warn("audit ledger is in-memory; records will not survive restart")
	default:
		cleanup()
		return nil, nil, fmt.Errorf("unknown ledger driver %q", cfg.Ledger.Driver)
	}

	registry := sources.NewRegistry(cfg.Sources)
	normalizer := normalize.NewNormalizer(registry, logger)

	reasoner, err := classify.NewReasoner(cfg.Classifier)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	classifier := classify.New(reasoner, cacheProvider, logger, cfg.Classifier)

	tickets, err := ticketing.NewProvider(cfg.Ticketing, ledgerDB)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	executor := execute.NewExecutor(logger, registry, tickets, cfg.Ticketing.Timeout)

	engine := orchestrator.New(logger, normalizer, classifier, executor, store, cfg.Policy)
	return engine, cleanup, nil
}

// runOnce handles a single failure report from a file (or stdin when the path
// is "-") and prints the outcome, for local triage and CI smoke checks.
func runOnce(ctx context.Context, engine *orchestrator.Orchestrator, path, hint string) error {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}

	outcome, err := engine.HandleIncidentReport(ctx, string(data), models.SourceSystem(hint))
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(outcome)
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, engine *orchestrator.Orchestrator) {
	server := api.NewServer(logger, engine, cfg.Server.Address)

	metricsSrv := &http.Server{
		Addr:              cfg.Server.MetricsAddress,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		logger.Info("metrics server listening", slog.String("address", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server failed", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown", slog.Any("error", err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown", slog.Any("error", err))
	}
	logger.Info("triage engine stopped")
}
