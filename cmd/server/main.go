package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/agentrelay/internal/api"
	"github.com/eldtechnologies/agentrelay/internal/config"
	"github.com/eldtechnologies/agentrelay/internal/fanout"
	"github.com/eldtechnologies/agentrelay/internal/handlers"
	"github.com/eldtechnologies/agentrelay/internal/ratelimit"
	"github.com/eldtechnologies/agentrelay/internal/relay"
	"github.com/eldtechnologies/agentrelay/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}
	logger = logger.Level(cfg.LogLevel)

	ctx := context.Background()
	checks := make(map[string]handlers.Pinger)

	// Initialize the durable store. Both backends migrate on open.
	var ds store.DataStore
	if cfg.UsePostgres() {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		ds = pgStore
		checks["postgres"] = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.DatabasePath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("sqlite open failed")
		}
		ds = sqliteStore
		checks["sqlite"] = sqliteStore
		logger.Info().Str("path", cfg.DatabasePath).Msg("opened SQLite store")
	}
	defer ds.Close()

	// Initialize the send cooldown and the registration throttle
	var limiter, registerLimiter ratelimit.Limiter
	if cfg.RedisURL != "" {
		redisLimiter, err := ratelimit.NewRedisLimiter(ctx, cfg.RedisURL, cfg.SendCooldown)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisLimiter.Close()
		limiter = redisLimiter
		if cfg.RegisterCooldown > 0 {
			registerLimiter = redisLimiter.Scoped("register", cfg.RegisterCooldown)
		}
		checks["redis"] = redisLimiter
		logger.Info().Dur("cooldown", limiter.Cooldown()).Msg("connected to Redis")
	} else {
		limiter = ratelimit.NewMemoryLimiter(cfg.SendCooldown)
		if cfg.RegisterCooldown > 0 {
			registerLimiter = ratelimit.NewMemoryLimiter(cfg.RegisterCooldown)
		}
		logger.Info().Dur("cooldown", limiter.Cooldown()).Msg("using in-memory rate limiter")
	}
	if registerLimiter != nil {
		logger.Info().Dur("cooldown", registerLimiter.Cooldown()).Msg("registration throttled per client address")
	}

	hub := fanout.NewHub(logger, fanout.Options{
		Buffer:         cfg.ViewerBuffer,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	svc := relay.NewService(ds, limiter, hub, logger)

	// Create router
	router := api.NewRouter(logger, svc, api.Options{
		Live: http.HandlerFunc(hub.ServeWS),
		Handlers: handlers.Options{
			Checks:   checks,
			Viewers:  hub,
			Cooldown: limiter.Cooldown(),
		},
		RegisterLimiter: registerLimiter,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		AllowedOrigins:  cfg.AllowedOrigins,
	})

	// Create server. WriteTimeout stays unset so websocket viewers are not
	// cut off; the write pump sets its own per-frame deadlines.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting agent relay")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	hub.Close()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
