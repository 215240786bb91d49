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
	"golang.org/x/sync/errgroup"

	"github.com/ehr/annotator/internal/config"
	"github.com/ehr/annotator/internal/domain/annotation"
	"github.com/ehr/annotator/internal/domain/cases"
	"github.com/ehr/annotator/internal/platform/auth"
	"github.com/ehr/annotator/internal/platform/dates"
	"github.com/ehr/annotator/internal/platform/hipaa"
	"github.com/ehr/annotator/internal/platform/middleware"
	"github.com/ehr/annotator/internal/platform/seed"
	"github.com/ehr/annotator/internal/platform/telemetry"
	"github.com/ehr/annotator/internal/platform/workspace"
)

const version = "0.1.0"

// app holds the wired components shared by the server and the CLI.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	seed     *seed.Source
	sessions *auth.Sessions
	cases    *cases.Service
	metrics  *telemetry.Provider
}

func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	schema := annotation.DefaultSchema()
	if cfg.FieldsFile != "" {
		s, err := annotation.LoadSchemaFile(cfg.FieldsFile)
		if err != nil {
			return nil, err
		}
		schema = s
	}

	source := seed.NewSource(cfg.SeedFile, logger)
	if err := source.Reload(); err != nil {
		return nil, err
	}

	if cfg.SessionSigningKey == "" {
		logger.Warn().Msg("SESSION_SIGNING_KEY not set, sessions end when the server restarts")
	}
	sessions, err := auth.NewSessions([]byte(cfg.SessionSigningKey), cfg.SessionTTL)
	if err != nil {
		return nil, err
	}

	metrics := telemetry.NewProvider(telemetry.Config{
		ServiceName:    "annotator",
		ServiceVersion: version,
		MetricsEnabled: telemetry.BoolPtr(cfg.MetricsEnabled),
	})

	svc := cases.NewService(
		cases.NewFileStore(),
		workspace.NewResolver(cfg.DataDir),
		source,
		schema,
		cfg.SuggestionKey,
		logger,
	).WithRecorder(metrics)

	return &app{cfg: cfg, logger: logger, seed: source, sessions: sessions, cases: svc, metrics: metrics}, nil
}

func (a *app) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(a.metrics.MetricsMiddleware())
	e.Use(middleware.SecurityHeaders(a.cfg.TLSEnabled))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  a.cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{echo.HeaderContentDisposition, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(a.cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(a.cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":     "ok",
			"version":    version,
			"seed_cases": a.seed.Len(),
		})
	})

	if a.cfg.MetricsEnabled {
		e.GET("/metrics", a.metrics.PrometheusHandler())
	}

	apiV1 := e.Group("/api/v1")
	auth.RegisterSessionRoutes(apiV1, a.sessions, a.cases)
	hipaa.RegisterDeidentifyRoutes(apiV1)
	dates.RegisterRoutes(apiV1)

	protected := apiV1.Group("", auth.SessionMiddleware(a.sessions))
	cases.NewHandler(a.cases).RegisterRoutes(protected)

	return e
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg)

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	e := a.router()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	if cfg.WatchSeed && cfg.SeedFile != "" {
		if _, err := os.Stat(cfg.SeedFile); err == nil {
			g.Go(func() error {
				return seed.NewWatcher(a.seed, logger).Run(ctx)
			})
		}
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
