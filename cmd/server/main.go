package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/api"
	"github.com/eldtechnologies/chatrelay/internal/chat"
	"github.com/eldtechnologies/chatrelay/internal/config"
	"github.com/eldtechnologies/chatrelay/internal/handlers"
	"github.com/eldtechnologies/chatrelay/internal/metrics"
	"github.com/eldtechnologies/chatrelay/internal/realtime"
	"github.com/eldtechnologies/chatrelay/internal/store"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize primary store
	var ds store.DataStore
	if cfg.UsePostgres() {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")

		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		ds = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		ds = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite")
	}
	defer ds.Close()

	// Initialize Redis store
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Realtime: the hub delivers locally; with Redis every delivery goes
	// through the bridge so all instances see it.
	hub := realtime.NewHub(logger)

	var sink chat.Sink = hub
	if redisStore != nil {
		bridge := realtime.NewBridge(redisStore, hub, logger)
		ready := make(chan struct{})
		go func() {
			if err := bridge.Run(ctx, ready); err != nil {
				logger.Fatal().Err(err).Msg("fan-out bridge failed")
			}
		}()
		<-ready
		sink = bridge
	}

	registry := chat.NewRegistry(ds, logger)
	tracker := chat.NewPresenceTracker(chat.WithOnlineGauge(metrics.OnlineUsers))
	router := chat.NewRouter(sink, tracker, logger)
	gateway := realtime.NewGateway(hub, router, registry, realtime.Config{
		PingInterval: cfg.WSPingInterval,
		PongWait:     cfg.WSPongWait,
		SendBuffer:   cfg.WSSendBuffer,
	}, logger)

	// Create router
	mux := api.NewRouter(logger, handlers.Deps{
		DB:       ds,
		Redis:    redisStore,
		Registry: registry,
		Messages: chat.NewMessageLog(ds, logger, cfg.MessageMaxLength),
		Presence: tracker,
		Contacts: chat.NewContacts(ds, tracker, logger),
		Gateway:  gateway,
		Limits: handlers.Limits{
			DefaultPageSize: cfg.DefaultPageSize,
			MaxPageSize:     cfg.MaxPageSize,
		},
		Logger: logger,
	}, api.Options{
		AllowedOrigins:     cfg.AllowedOrigins,
		RateLimitWhitelist: cfg.RateLimitWhitelist,
		AutoBlockEnabled:   cfg.AutoBlockEnabled,
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Bool("fan_out", redisStore != nil).
			Msg("starting chatrelay server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout. Hijacked websocket connections
	// are not tracked by Shutdown, so the hub closes them.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
