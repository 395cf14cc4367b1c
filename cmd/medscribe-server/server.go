package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/medscribe/medscribe/internal/aiclient"
	"github.com/medscribe/medscribe/internal/config"
	"github.com/medscribe/medscribe/internal/domain/analysis"
	"github.com/medscribe/medscribe/internal/domain/encounter"
	"github.com/medscribe/medscribe/internal/domain/settings"
	"github.com/medscribe/medscribe/internal/platform/blobstore"
	"github.com/medscribe/medscribe/internal/platform/db"
	"github.com/medscribe/medscribe/internal/platform/inflight"
	"github.com/medscribe/medscribe/internal/platform/jobs"
	"github.com/medscribe/medscribe/internal/platform/middleware"
	"github.com/medscribe/medscribe/internal/platform/poller"
	"github.com/medscribe/medscribe/internal/platform/sqlite"
	"github.com/medscribe/medscribe/internal/platform/telemetry"
	"github.com/medscribe/medscribe/internal/platform/websocket"
)

const version = "0.1.0"

// Path fragments of routes that block on the AI service beyond the normal
// request timeout.
var longRunningPaths = []string{"/generate-note/", "/transcribe", "/ws"}

// stores is the persistence layer selected by STORE_DRIVER.
type stores struct {
	driver     string
	encounters encounter.Repository
	analyses   analysis.Repository
	settings   settings.Repository
	pinger     db.Pinger
	tx         func(ctx context.Context, fn func(ctx context.Context) error) error
	close      func()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		sdb, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &stores{
			driver:     config.DriverSQLite,
			encounters: encounter.NewSQLiteRepo(sdb),
			analyses:   analysis.NewSQLiteRepo(sdb),
			settings:   settings.NewSQLiteRepo(sdb),
			pinger:     sdb,
			close:      func() { sdb.Close() },
		}, nil
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return &stores{
			driver:     config.DriverPostgres,
			encounters: encounter.NewRepo(pool),
			analyses:   analysis.NewRepo(pool),
			settings:   settings.NewRepo(pool),
			pinger:     pool,
			tx: func(ctx context.Context, fn func(ctx context.Context) error) error {
				return db.WithTx(ctx, pool, fn)
			},
			close: pool.Close,
		}, nil
	}
}

// app holds everything the router needs.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	stores    *stores
	blobs     blobstore.Store
	ai        *aiclient.Client
	guard     inflight.Guard
	runner    *jobs.Runner
	metrics   *telemetry.Metrics
	telemetry *telemetry.Provider
	hub       *websocket.Hub
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func newRouter(a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  a.cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders:  []string{"Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{"X-Total-Count", "Link", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(a.cfg.BodyLimit, a.cfg.UploadMaxSize))
	e.Use(middleware.RequestTimeout(a.cfg.RequestTimeout, longRunningPaths...))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(a.stores.driver, a.stores.pinger))
	e.GET("/health/ai", func(c echo.Context) error {
		body, err := a.ai.Health(c.Request().Context())
		if err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "AI service unavailable").SetInternal(err)
		}
		return c.JSON(http.StatusOK, body)
	})
	if a.telemetry != nil {
		e.GET("/metrics", a.telemetry.Handler())
	}

	// Stored uploads
	e.Static("/uploads", a.cfg.UploadDir)

	api := e.Group("/api")

	encSvc := encounter.NewService(a.stores.encounters, a.blobs, a.ai, a.logger)
	encounter.NewHandler(encSvc).RegisterRoutes(api)

	opts := analysis.Options{
		AnalysisPoller: poller.Poller{Interval: a.cfg.AnalysisPollInterval, MaxAttempts: a.cfg.AnalysisMaxAttempts},
		NotePoller:     poller.Poller{Interval: a.cfg.NotePollInterval, MaxAttempts: a.cfg.NoteMaxAttempts},
		Guard:          a.guard,
		Runner:         a.runner,
		Metrics:        a.metrics,
		Tx:             a.stores.tx,
	}
	if a.hub != nil {
		opts.Events = a.hub
	}
	analysisSvc := analysis.NewService(a.stores.analyses, encSvc, a.ai, opts, a.logger)
	analysis.NewHandler(analysisSvc).RegisterRoutes(api)

	settings.NewHandler(settings.NewService(a.stores.settings, a.logger)).RegisterRoutes(api)

	if a.hub != nil {
		websocket.NewHandler(a.hub, a.cfg.CORSOrigins).RegisterRoutes(api)
	}

	return e
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	ctx := context.Background()

	// Store
	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	defer st.close()
	logger.Info().Str("driver", st.driver).Msg("store ready")

	blobs, err := blobstore.NewDiskStore(cfg.UploadDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare upload directory")
	}

	// In-flight guard
	var guard inflight.Guard = inflight.NewLocalGuard()
	if cfg.RedisURL != "" {
		client, err := inflight.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		guard = inflight.NewRedisGuard(client, "medscribe:inflight:")
		logger.Info().Msg("using redis in-flight guard")
	}

	// Telemetry
	provider := telemetry.NewProvider()
	defer provider.Shutdown(context.Background())
	metrics, err := telemetry.New(provider.Meter())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create metrics")
	}

	runner := jobs.NewRunner(logger)
	a := &app{
		cfg:       cfg,
		logger:    logger,
		stores:    st,
		blobs:     blobs,
		ai:        aiclient.New(aiClientConfig(cfg), logger, metrics),
		guard:     guard,
		runner:    runner,
		metrics:   metrics,
		telemetry: provider,
		hub:       websocket.NewHub(logger),
	}
	e := newRouter(a)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.ShutdownDrainTimeout)
	defer cancelDrain()
	logger.Info().Int("running", runner.Active()).Dur("timeout", cfg.ShutdownDrainTimeout).Msg("draining analyses")
	if err := runner.Close(drainCtx); err != nil {
		logger.Warn().Err(err).Msg("analyses still running at exit")
	}
	logger.Info().Msg("server stopped")
	return nil
}
