package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/storeline/scan-station/internal/camera"
	"github.com/storeline/scan-station/internal/clock"
	"github.com/storeline/scan-station/internal/config"
	"github.com/storeline/scan-station/internal/database"
	"github.com/storeline/scan-station/internal/handler"
	"github.com/storeline/scan-station/internal/jobs"
	"github.com/storeline/scan-station/internal/middleware"
	"github.com/storeline/scan-station/internal/redis"
	"github.com/storeline/scan-station/internal/repository"
	"github.com/storeline/scan-station/internal/service"
	"github.com/storeline/scan-station/internal/sse"
)

func newServeCmd() *cobra.Command {
	var flagProduction bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the scanner API and event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cfg, flagProduction)
		},
	}
	cmd.Flags().BoolVar(&flagProduction, "production", os.Getenv("FLY_APP_NAME") != "", "Send production security headers (HSTS)")
	return cmd
}

func serve(cfg *config.Config, isProduction bool) error {
	ctx := context.Background()
	clk := clock.Real()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		client, err := redis.NewClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		redisClient = client
		log.Info().Msg("redis connected")
	}

	var (
		db       *database.DB
		scanRepo repository.ScanEventRepository
	)
	if cfg.HistoryEnabled() {
		conn, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer conn.Close()

		pingCtx, cancel := context.WithTimeout(ctx, config.DBPingTimeout)
		err = conn.Ping(pingCtx)
		if err == nil {
			err = conn.EnsureSchema(pingCtx)
		}
		cancel()
		if err != nil {
			return err
		}
		db = conn
		scanRepo = repository.NewScanEventRepository(db.DB)
		log.Info().Msg("database connected")
	}

	offline, cacheCloser, err := openCache(ctx, cfg, clk, redisClient)
	if err != nil {
		return err
	}
	defer cacheCloser.Close()

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	params := service.ScannerServiceParams{
		StationID:  cfg.StationID,
		Cache:      offline,
		ScanRepo:   scanRepo,
		Events:     broker,
		Controller: controllerOptions(cfg, clk),
	}
	if devices := camera.ParseDevices(cfg.CameraDevices); len(devices) > 0 {
		params.Camera = camera.NewRemoteDriver(devices)
		log.Info().Int("cameras", len(devices)).Msg("remote camera driver configured")
	} else {
		log.Info().Msg("CAMERA_DEVICES is empty: station runs on hardware and manual input")
	}
	scannerService := service.NewScannerService(params)

	var limiter middleware.Limiter = middleware.NewRateLimiter()
	if redisClient != nil {
		limiter = middleware.NewRedisRateLimiter(redisClient.Client)
	}
	decodeLimit := middleware.NewRateLimitMiddleware(limiter, cfg.DecodeRateLimit, "decode:"+cfg.StationID)
	bodyLimit := middleware.NewBodyLimitMiddleware(config.MaxRequestBodyBytes)
	securityHeaders := middleware.NewSecurityHeadersMiddleware(isProduction)

	checks := map[string]handler.Pinger{"database": nil, "redis": nil}
	if db != nil {
		checks["database"] = db
	}
	if redisClient != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	scannerHandler := handler.NewScannerHandler(scannerService, decodeLimit.Handler)
	cacheHandler := handler.NewCacheHandler(scannerService)
	eventsHandler := handler.NewEventsHandler(broker, scannerService)
	healthHandler := handler.NewHealthHandler(checks, config.DBPingTimeout)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeaders.Handler)

	r.Get("/health", healthHandler.ServeHTTP)

	r.Route("/v1/scanner", func(r chi.Router) {
		// The event stream outlives the request timeout.
		r.Get("/events", eventsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Use(bodyLimit.Handler)
			r.Mount("/cache", cacheHandler.Routes())
			r.Mount("/", scannerHandler.Routes())
		})
	})

	maintenance := jobs.NewMaintenanceJob(offline, scanRepo, cfg.HistoryRetention(), config.MaintenanceJobInterval)
	maintenance.Start()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Addr()).
			Str("stationId", cfg.StationID).
			Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
		log.Info().Msg("shutting down server")
	case runErr = <-serverErr:
		log.Error().Err(runErr).Msg("server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, config.ServerShutdownTimeout)
	defer shutdownCancel()

	// Close the broker first so open event streams return and Shutdown is not
	// held up by them.
	broker.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	scannerService.Shutdown(shutdownCtx)
	maintenance.Stop()

	log.Info().Msg("server stopped")
	return runErr
}
