package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dukepan/watch-party-sync-back/internal/api"
	"github.com/dukepan/watch-party-sync-back/internal/auth"
	"github.com/dukepan/watch-party-sync-back/internal/cache"
	"github.com/dukepan/watch-party-sync-back/internal/config"
	"github.com/dukepan/watch-party-sync-back/internal/db"
	"github.com/dukepan/watch-party-sync-back/internal/observability"
	"github.com/dukepan/watch-party-sync-back/internal/persistence"
	"github.com/dukepan/watch-party-sync-back/internal/rooms"
	"github.com/dukepan/watch-party-sync-back/internal/state"
	"github.com/dukepan/watch-party-sync-back/internal/utils"
)

type configVar struct {
	envKey  string
	flagKey string
	usage   string
}

var flagVars = []configVar{
	{envKey: "PORT", flagKey: "port", usage: "HTTP listen port"},
	{envKey: "LOG_LEVEL", flagKey: "log-level", usage: "Logging level"},
	{envKey: "DATABASE_URL", flagKey: "database-url", usage: "Postgres DSN"},
	{envKey: "REDIS_URL", flagKey: "redis-url", usage: "Redis URL"},
	{envKey: "HEARTBEAT_INTERVAL", flagKey: "heartbeat-interval", usage: "Ping interval (e.g. 5s)"},
	{envKey: "PONG_TIMEOUT", flagKey: "pong-timeout", usage: "Pong silence before forced disconnect"},
	{envKey: "MAX_BATCH_SIZE", flagKey: "max-batch-size", usage: "Event batch flush size"},
	{envKey: "BATCH_INTERVAL", flagKey: "batch-interval", usage: "Event batch flush interval"},
	{envKey: "ROOM_GRACE_TTL", flagKey: "room-grace-ttl", usage: "Empty room grace TTL before eviction"},
}

// loadConfig layers flags over environment variables over defaults.
func loadConfig() *config.Config {
	for _, v := range flagVars {
		pflag.String(v.flagKey, "", v.usage)
	}
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	for _, v := range flagVars {
		viper.BindEnv(v.flagKey, v.envKey)
		if s := viper.GetString(v.flagKey); s != "" {
			os.Setenv(v.envKey, s)
		}
	}
	return config.Load()
}

func main() {
	cfg := loadConfig()

	otelCleanup, err := observability.InitOpenTelemetry("watch-party-sync", "1.0.0")
	if err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}

	logger := utils.NewLogger(cfg.LogLevel)

	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal(context.Background(), "Failed to initialize database: %v", err)
	}

	redisCache, err := cache.New(cfg.RedisURL)
	if err != nil {
		logger.Fatal(context.Background(), "Failed to initialize cache: %v", err)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		logger.Fatal(context.Background(), "Failed to initialize JWT manager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stateWriter := persistence.NewStateWriter(database, redisCache, logger)
	stateWriter.Start(ctx)

	crossNode := persistence.NewCrossNodeEngine(redisCache, logger)
	crossNode.Start(ctx)

	store := state.NewStore()
	roomMgr := rooms.NewManager(store, database, redisCache, stateWriter, crossNode, logger, rooms.Config{
		MaxBatchSize:      cfg.MaxBatchSize,
		BatchInterval:     cfg.BatchInterval,
		PositionDebounce:  cfg.PositionDebounce,
		RoomGraceTTL:      cfg.RoomGraceTTL,
		HeartbeatInterval: cfg.HeartbeatInterval,
		PongTimeout:       cfg.PongTimeout,
		LatencyWindow:     cfg.LatencyWindow,
	})
	go roomMgr.Start(ctx)

	// the relay engine and room manager reference each other
	crossNode.SetRoomManager(roomMgr)

	router := api.NewRouter(database, redisCache, roomMgr, jwtMgr, cfg, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info(context.Background(), "Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(context.Background(), "Server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	gracefulShutdown(context.Background(), logger, server, database, redisCache, roomMgr, stateWriter, crossNode, otelCleanup)

	logger.Info(context.Background(), "Application stopped.")
}

// gracefulShutdown handles the graceful shutdown of all components
func gracefulShutdown(ctx context.Context, logger *utils.Logger, server *http.Server, database *db.Database, redisCache *cache.Cache, roomMgr *rooms.Manager, stateWriter rooms.StateWriterService, crossNode rooms.CrossNodeService, otelCleanup func(context.Context) error) {
	logger.Info(ctx, "Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "HTTP server shutdown error: %v", err)
	} else {
		logger.Info(ctx, "HTTP server stopped.")
	}

	roomMgr.Stop()
	logger.Info(ctx, "Room manager stopped.")

	stateWriter.Stop()
	logger.Info(ctx, "State writer stopped.")

	crossNode.Stop()
	logger.Info(ctx, "Cross-node engine stopped.")

	if err := database.Close(); err != nil {
		logger.Error(ctx, "Database close error: %v", err)
	} else {
		logger.Info(ctx, "Database connection closed.")
	}

	if err := redisCache.Close(); err != nil {
		logger.Error(ctx, "Redis cache close error: %v", err)
	} else {
		logger.Info(ctx, "Redis cache connection closed.")
	}

	if otelCleanup != nil {
		if err := otelCleanup(shutdownCtx); err != nil {
			logger.Error(ctx, "OpenTelemetry shutdown error: %v", err)
		} else {
			logger.Info(ctx, "OpenTelemetry shut down.")
		}
	}

	logger.Info(ctx, "Graceful shutdown complete.")
}
