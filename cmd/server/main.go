package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/agentdeck/internal/agentapi"
	"github.com/eldtechnologies/agentdeck/internal/api"
	"github.com/eldtechnologies/agentdeck/internal/api/middleware"
	"github.com/eldtechnologies/agentdeck/internal/auth"
	"github.com/eldtechnologies/agentdeck/internal/chat"
	"github.com/eldtechnologies/agentdeck/internal/config"
	"github.com/eldtechnologies/agentdeck/internal/deploy"
	"github.com/eldtechnologies/agentdeck/internal/directory"
	"github.com/eldtechnologies/agentdeck/internal/handlers"
	"github.com/eldtechnologies/agentdeck/internal/objstore"
	"github.com/eldtechnologies/agentdeck/internal/realtime"
	"github.com/eldtechnologies/agentdeck/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

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

	ctx := context.Background()

	// Datastore: Postgres when configured, SQLite otherwise
	var dataStore store.DataStore
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")

		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer pgStore.Close()
		dataStore = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0755); err != nil {
			logger.Fatal().Err(err).Msg("cannot create sqlite directory")
		}
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		defer sqliteStore.Close()
		dataStore = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite")
	}

	// Initialize Redis store (optional)
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	} else {
		logger.Warn().Msg("REDIS_URL not set: rate limiting, directory cache and cross-instance events are disabled")
	}

	files, err := objstore.New(cfg.StorageDir, cfg.PublicBaseURL+"/storage", 12<<20)
	if err != nil {
		logger.Fatal().Err(err).Msg("object storage init failed")
	}

	if cfg.AuthJWTSecret == "" {
		logger.Warn().Msg("AUTH_JWT_SECRET not set: every session will report loading")
	}

	agentClient := agentapi.NewClient(cfg.AgentAPIURL, cfg.AgentAPITimeout, cfg.AgentAPIRPS, logger)
	notifier := realtime.New(redisStore.Client(), logger)

	sessions := chat.NewRegistry(chat.Deps{
		Store:   dataStore,
		Agents:  agentClient,
		Files:   files,
		Logger:  logger,
		Timeout: cfg.AgentAPITimeout,
	}, cfg.SessionTTL)

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	go sessions.Run(janitorCtx, time.Minute)

	deployer := deploy.New(deploy.Config{
		APIURL:   cfg.DeployAPIURL,
		Token:    cfg.DeployAPIToken,
		Template: cfg.DeployTemplate,
	}, dataStore, notifier, logger)

	// Create router
	router := api.NewRouter(logger, handlers.Deps{
		Store:         dataStore,
		Redis:         redisStore,
		Agents:        agentClient,
		Directory:     directory.New(agentClient, redisStore, logger),
		Sessions:      sessions,
		Files:         files,
		Deployer:      deployer,
		Notifier:      notifier,
		Auth:          auth.NewAuthenticator(cfg.AuthJWTSecret, cfg.SessionTTL),
		Logger:        logger,
		AgentQuota:    cfg.AgentQuota,
		WebhookToken:  cfg.DeployWebhookToken,
		SecureCookies: !cfg.IsDevelopment(),
		StaticDir:     api.StaticDir(),
	}, api.Options{
		CORSOrigins: cfg.CORSOrigins,
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
	})

	// Create server. Synchronous sends wait for the agent API, so the write
	// timeout follows its timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.AgentAPITimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting agentdeck server")

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

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	stopJanitor()
	waitDone := make(chan struct{})
	go func() {
		sessions.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("gave up waiting for in-flight sends")
	}

	logger.Info().Msg("server stopped")
}
