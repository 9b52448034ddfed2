package main

// @title           Charity Community Service API
// @version         1.0
// @description     Community messaging with realtime WebSocket delivery
// @host            localhost:5000
// @BasePath        /api/v1
// @schemes         http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"charity-service/internal/adapters/kafka"
	"charity-service/internal/api/handlers"
	"charity-service/internal/api/middleware"
	"charity-service/internal/api/routes"
	"charity-service/internal/config"
	"charity-service/internal/database"
	mongorepo "charity-service/internal/repositories/mongo"
	"charity-service/internal/services"
	"charity-service/internal/ws"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	level := slog.LevelDebug
	if cfg.IsProduction() {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
	slog.Info("Starting charity service", "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize MongoDB connection
	mongoDB, err := database.NewMongoConnection(cfg.Mongo)
	if err != nil {
		slog.Error("Failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}

	// Initialize Redis connection
	redisClient, err := database.NewRedisConnection(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	userRepo := mongorepo.NewUserRepository(mongoDB.DB)
	communityRepo := mongorepo.NewCommunityRepository(mongoDB.DB)
	messageRepo := mongorepo.NewMessageRepository(mongoDB.DB)

	// Realtime layer
	wsCfg := cfg.WebSocket
	registry := ws.NewRegistry(wsCfg.MaxConnections)
	subscriptions := ws.NewSubscriptionIndex()
	manager := ws.NewManager(registry, subscriptions, communityRepo, ws.ManagerConfig{
		Heartbeat: ws.HeartbeatConfig{
			Interval:  wsCfg.HeartbeatInterval,
			Timeout:   wsCfg.HeartbeatTimeout,
			QueueSize: wsCfg.SendQueueSize,
		},
		SendTimeout:      wsCfg.SendTimeout,
		StoreTimeout:     cfg.Mongo.Timeout,
		StrictInvariants: !cfg.IsProduction(),
	}, slog.Default())
	metrics := ws.NewBroadcastMetrics(0, slog.Default())
	broadcaster := ws.NewBroadcaster(subscriptions, registry, ws.BroadcastConfig{
		SendTimeout: wsCfg.SendTimeout,
		Concurrency: wsCfg.FanoutConcurrency,
		QueueSize:   wsCfg.PublishQueueSize,
	}, metrics, slog.Default())
	broadcasterDone := make(chan struct{})
	go func() {
		defer close(broadcasterDone)
		broadcaster.Run(ctx)
	}()
	authenticator := ws.NewAuthenticator(cfg.JWT.Secret, userRepo, registry, wsCfg.MaxConnections)

	// Optional event outbox
	var outbox *kafka.EventOutbox
	var sink services.EventSink
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.InitKafkaProducer(cfg.Kafka.Brokers)
		if err != nil {
			slog.Error("Failed to create Kafka producer, outbox disabled", "error", err)
		} else {
			outbox = kafka.NewEventOutbox(producer, cfg.Kafka.Topic, slog.Default())
			sink = outbox
		}
	}

	// Initialize services
	redisService := services.NewRedisService(redisClient)
	messageService := services.NewMessageService(messageRepo, communityRepo, userRepo, broadcaster, sink, slog.Default())

	// Initialize router with all dependencies
	router := routes.NewRouter(
		cfg,
		handlers.NewWSHandler(ctx, authenticator, manager, handlers.WSHandlerConfig{
			AllowedOrigins: cfg.CORS.Origins,
			AllowAnyOrigin: !cfg.IsProduction(),
			MaxMessageSize: wsCfg.MaxMessageSize,
		}, slog.Default()),
		handlers.NewMessageHandler(messageService),
		handlers.NewHealthHandler(manager, metrics, map[string]handlers.Pinger{
			"mongodb": mongoDB,
			"redis":   redisService,
		}),
		middleware.NewRateLimitMiddleware(redisService),
		middleware.NewAuthMiddleware(authenticator, userRepo),
	)
	router.SetupRoutes()

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Server starting", "address", server.Addr, "maxConnections", wsCfg.MaxConnections)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed to start", "error", err)
			stop()
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	<-ctx.Done()
	slog.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown HTTP server, WebSocket sessions close with ctx
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	<-broadcasterDone

	if outbox != nil {
		if err := outbox.Close(); err != nil {
			slog.Error("Failed to close Kafka producer", "error", err)
		}
	}
	if err := redisClient.Close(); err != nil {
		slog.Error("Failed to close Redis", "error", err)
	}
	if err := mongoDB.Close(shutdownCtx); err != nil {
		slog.Error("Failed to close MongoDB", "error", err)
	}

	slog.Info("Server stopped")
}
