package main

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/hospital/patients/internal/config"
	"github.com/hospital/patients/internal/domain/patient"
	"github.com/hospital/patients/internal/platform/db"
	"github.com/hospital/patients/internal/platform/middleware"
)

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).Level(cfg.Level()).With().Timestamp().Logger()
}

// routerDeps are the collaborators newRouter needs beyond configuration.
type routerDeps struct {
	Source   db.ConnSource
	DBHealth echo.HandlerFunc
	Registry *prometheus.Registry
}

func newRouter(cfg *config.Config, logger zerolog.Logger, deps routerDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Logger sits outside Recovery so a panicking request is still logged.
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodDelete, http.MethodOptions, http.MethodHead,
		},
		AllowHeaders:     []string{"origin", "content-type", "accept", "authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		// A "*" origin is reflected back so credentialed browser requests work.
		UnsafeWildcardOriginWithAllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.DBHealth != nil {
		e.GET("/health/db", deps.DBHealth)
	}
	if deps.Registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	var metrics *db.TxMetrics
	if deps.Registry != nil {
		metrics = db.NewTxMetrics(deps.Registry)
	}

	// Only patient routes hold a connection and transaction.
	patient.NewHandler(patient.NewStore).RegisterRoutes(e.Group(""),
		middleware.RequestTimeout(cfg.RequestTimeout),
		db.TxMiddleware(deps.Source, db.TxOptions{
			Logger:  logger,
			Metrics: metrics,
			Tracer:  otel.Tracer("github.com/hospital/patients"),
		}),
	)

	return e
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func runServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Int32("max_conns", cfg.DBMaxConns).Msg("connected to database")

	e := newRouter(cfg, logger, routerDeps{
		Source:   db.NewPoolSource(pool),
		DBHealth: db.HealthHandler(pool),
		Registry: newRegistry(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
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
