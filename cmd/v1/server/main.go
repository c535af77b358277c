package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/driftchat/driftchat/internal/v1/auth"
	"github.com/driftchat/driftchat/internal/v1/bus"
	"github.com/driftchat/driftchat/internal/v1/chat"
	"github.com/driftchat/driftchat/internal/v1/config"
	"github.com/driftchat/driftchat/internal/v1/geo"
	"github.com/driftchat/driftchat/internal/v1/health"
	"github.com/driftchat/driftchat/internal/v1/logging"
	"github.com/driftchat/driftchat/internal/v1/store"
)

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	// --- Redis Bus Initialization ---
	// Pub/sub fan-out, presence hashes and the session store all live here.
	busService, err := bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	// --- Store Gateway Initialization ---
	if err := store.RunMigrations(cfg.PostgresDSN); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	gateway, err := store.Open(ctx, cfg.PostgresDSN, cfg.UserRoomsQuery, cfg.DirectRoomQuery)
	cancel()
	if err != nil {
		slog.Error("Failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ Postgres gateway initialized")

	// --- Chat Hub with Dependencies ---
	sessions := auth.NewSessionStore(busService.Client())
	enricher := geo.NewEnricher(gateway, cfg.IPAPIURL)
	spam, err := chat.NewSpamPolicy(cfg.MaxMessageSize, cfg.SpamRate)
	if err != nil {
		slog.Error("Invalid SPAM_RATE", "error", err)
		os.Exit(1)
	}
	hub := chat.NewHub(cfg, busService, gateway, sessions, enricher, nil, spam)

	// --- Set up Server ---
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	// Cors for the non-socket surfaces; the websocket upgrade enforces its
	// own same-host origin check.
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = false
	corsConfig.AllowOriginFunc = func(origin string) bool { return true }
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	// Error handling
	router.Use(gin.Recovery())

	// Routing
	router.GET("/ws", hub.ServeWs)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(busService, gateway)
	healthHandler.Register(router)

	// Start the server.
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("API server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown HTTP server; open sockets tear their own state down as their
	// connections drop.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	gateway.Close()
	if err := busService.Close(); err != nil {
		slog.Error("Failed to close Redis connection:", "error", err)
	} else {
		slog.Info("Redis connection closed")
	}

	slog.Info("Server exiting")
}
