package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/pricewatch/server/internal/api"
	"github.com/pricewatch/server/internal/core"
	errx "github.com/pricewatch/server/internal/core/error"
	"github.com/pricewatch/server/internal/pricing/capture"
	"github.com/pricewatch/server/internal/pricing/catalog"
	"github.com/pricewatch/server/internal/pricing/model"
	"github.com/pricewatch/server/internal/pricing/oracle"
	"github.com/pricewatch/server/internal/pricing/runner"
	"github.com/pricewatch/server/internal/pricing/scrape"
	"github.com/pricewatch/server/internal/pricing/store"
	logx "github.com/pricewatch/server/pkg/logger"
	"github.com/pricewatch/server/pkg/postgres"
	pkgredis "github.com/pricewatch/server/pkg/redis"
)

// AppConfig defines every configurable parameter, sourced from environment
// variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string        `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string        `envconfig:"LOG_LEVEL"`
	CatalogPath string        `envconfig:"CATALOG_PATH" default:"catalog.yaml"`
	RunInterval time.Duration `envconfig:"RUN_INTERVAL" default:"0s"`
	HTTPAddr    string        `envconfig:"HTTP_ADDR" default:":8080"`

	// Infrastructure
	Redis    pkgredis.Config
	Postgres postgres.Config
	PGSchema string `envconfig:"PG_SCHEMA" default:"public"`

	// LLM provider. Only needed for scraping.
	APIKey  string `envconfig:"GEMINI_API_KEY"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Pipeline configs
	Scrape  model.ScrapeConfig
	Capture model.CaptureConfig
	Oracle  model.OracleConfig
	Store   model.StoreConfig
}

func main() {
	serve := flag.Bool("serve", false, "serve the recorded price history over HTTP instead of scraping")
	once := flag.Bool("once", false, "run a single scrape even when RUN_INTERVAL is set")
	flag.Parse()

	os.Exit(run(*serve, *once))
}

func run(serve, once bool) int {
	dotenvErr := godotenv.Load(".env")

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logx.Init()
		logx.Error().Err(err).Msg("Failed to process environment config")
		return 1
	}

	logx.Init(logx.LoggerOpts{
		Environment: core.ParseEnvironment(cfg.Environment),
		Level:       cfg.LogLevel,
	})
	if dotenvErr != nil {
		logx.Debug().Err(dotenvErr).Msg("no .env file loaded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	products, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		logx.Error().Err(err).Str("path", cfg.CatalogPath).Msg("Failed to load catalog")
		return 1
	}

	st, closeStore, err := openStore(ctx, &cfg)
	if err != nil {
		logx.Error().Err(err).Str("backend", cfg.Store.Backend).Msg("Failed to open price store")
		return 1
	}
	defer closeStore()

	if serve {
		if err := serveAPI(ctx, cfg.HTTPAddr, api.NewHandler(products, st)); err != nil {
			logx.Error().Err(err).Msg("API server failed")
			return 1
		}
		return 0
	}

	orch, closeSessions, err := buildOrchestrator(ctx, &cfg)
	if err != nil {
		logx.Error().Err(err).Msg("Failed to build scrape pipeline")
		return 1
	}
	defer closeSessions()

	controller := runner.NewController(products, orch, st)
	if cfg.RunInterval > 0 && !once {
		err = runner.Schedule(ctx, controller, cfg.RunInterval)
	} else {
		_, err = controller.Run(ctx)
	}
	if err != nil {
		logx.Error().Err(err).Bool("persistence", errx.IsPersistence(err)).Msg("Run aborted")
		return 1
	}
	return 0
}

func openStore(ctx context.Context, cfg *AppConfig) (store.Store, func(), error) {
	opts := store.Options{RecordEmpty: cfg.Store.RecordEmpty}

	switch strings.ToLower(cfg.Store.Backend) {
	case "postgres":
		pool, err := cfg.Postgres.New(ctx)
		if err != nil {
			return nil, nil, errx.Persistence(err)
		}
		st, err := store.NewPostgresStore(ctx, pool, cfg.PGSchema, opts)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		logx.Info().Str("schema", cfg.PGSchema).Msg("Using postgres price store")
		return st, func() { _ = st.Close() }, nil

	case "json", "":
		cleanup := func() {}
		if cfg.Redis.Enabled() {
			rdb, err := cfg.Redis.New()
			if err != nil {
				return nil, nil, errx.WrapRedis(fmt.Errorf("initialise redis client: %w", err))
			}
			opts.Locker = store.NewRedisLocker(rdb, filepath.Base(cfg.Store.Path), cfg.Store.LockTTL)
			cleanup = func() { _ = rdb.Close() }
			logx.Info().Msg("Connected to Redis, using distributed store lock")
		} else {
			opts.Locker = &store.FileLocker{Path: cfg.Store.Path + ".lock", TTL: cfg.Store.LockTTL}
		}

		st, err := store.NewJSONStore(cfg.Store.Path, opts)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		logx.Info().Str("path", st.Path()).Msg("Using JSON price store")
		return st, func() { _ = st.Close(); cleanup() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.Store.Backend)
	}
}

// buildOrchestrator owns the oracle client and the capture sessions for the
// lifetime of the process.
func buildOrchestrator(ctx context.Context, cfg *AppConfig) (*scrape.Orchestrator, func(), error) {
	if cfg.APIKey == "" {
		return nil, nil, fmt.Errorf("GEMINI_API_KEY is required for scraping")
	}

	client, err := oracle.NewGeminiClient(ctx, oracle.GeminiConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
	})
	if err != nil {
		return nil, nil, err
	}
	chatModel, err := oracle.NewGeminiChatModel(ctx, client, cfg.Oracle)
	if err != nil {
		return nil, nil, err
	}
	files, err := oracle.NewGeminiFiles(client)
	if err != nil {
		return nil, nil, err
	}
	orc, err := oracle.NewChatOracle(ctx, chatModel, files, oracle.Options{
		ModelName:       cfg.Oracle.Model,
		Timeout:         cfg.Oracle.Timeout,
		DefaultCurrency: cfg.Scrape.DefaultCurrency,
	})
	if err != nil {
		return nil, nil, err
	}

	workers := cfg.Scrape.Workers
	if workers < 1 {
		workers = 1
	}

	var (
		capturers []capture.Capturer
		tasks     []*scrape.Task
	)
	closeAll := func() {
		for _, c := range capturers {
			if err := c.Close(); err != nil {
				logx.Warn().Err(err).Msg("failed to close capture session")
			}
		}
	}
	for i := 0; i < workers; i++ {
		c, err := capture.NewChromeCapturer(cfg.Capture)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		capturers = append(capturers, c)
		tasks = append(tasks, scrape.NewTask(
			c, orc,
			scrape.NewGate(cfg.Scrape.MinDelay),
			scrape.RetryFromConfig(cfg.Scrape),
			cfg.Scrape.DefaultCurrency,
		))
	}

	orch, err := scrape.NewOrchestrator(tasks...)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	logx.Info().Int("sessions", workers).Str("model", cfg.Oracle.Model).Dur("min_delay", cfg.Scrape.MinDelay).Msg("Scrape pipeline ready")
	return orch, closeAll, nil
}

func serveAPI(ctx context.Context, addr string, h *api.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logx.Info().Str("addr", addr).Msg("API server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logx.Info().Msg("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
