package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/classloop/collab-api/internal/broadcast"
	"github.com/classloop/collab-api/internal/collab"
	"github.com/classloop/collab-api/internal/config"
	"github.com/classloop/collab-api/internal/content"
	"github.com/classloop/collab-api/internal/database"
	"github.com/classloop/collab-api/internal/handlers"
	authmw "github.com/classloop/collab-api/internal/middleware"
	"github.com/classloop/collab-api/internal/services"
	"github.com/google/uuid"
	"github.com/m1z23r/drift/pkg/drift"
	"github.com/m1z23r/drift/pkg/middleware"
	redis "github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	var presenceCache services.PresenceCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		presenceCache = services.NewRedisPresence(rdb)
	} else {
		log.Println("REDIS_ADDR not set, using in-process presence cache")
		presenceCache = services.NewMemoryPresence()
	}

	var relay *broadcast.KafkaRelay
	if len(cfg.KafkaBrokers) > 0 {
		saramaCfg := sarama.NewConfig()
		saramaCfg.Producer.Return.Successes = true
		saramaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.KafkaBrokers, saramaCfg)
		if err != nil {
			log.Fatalf("Failed to connect to kafka: %v", err)
		}
		defer producer.Close()
		relay = broadcast.NewKafkaRelay(producer, cfg.KafkaEventTopic, broadcast.KafkaRelayOptions{})
		defer relay.Close()
	}

	hub := broadcast.NewHub()
	go hub.Run()

	registry := content.NewRegistry()
	registry.Register("assignment", func(entityID uuid.UUID) (content.TargetContent, error) {
		return content.NewTextContent(), nil
	})
	registry.Register("course_page", func(entityID uuid.UUID) (content.TargetContent, error) {
		return content.NewTextContent(), nil
	})
	registry.Register("note", func(entityID uuid.UUID) (content.TargetContent, error) {
		return content.NewTextContent(), nil
	})

	jwtService := services.NewJWTService(cfg.JWTSecret, cfg.JWTAccessExpiry)
	eventService := services.NewEventService(db, hub, relay)
	operationService := services.NewOperationService(db, eventService)
	engine := collab.NewEngine(registry, operationService, eventService, operationService)
	operationService.AttachEngine(engine)
	presenceService := services.NewPresenceService(presenceCache, hub, cfg.CursorTTL, cfg.TypingTTL)
	sessionService := services.NewSessionService(db, engine, eventService, presenceService, cfg.MaxSessionParticipants)

	if err := sessionService.ReopenLive(ctx); err != nil {
		log.Fatalf("Failed to reopen live sessions: %v", err)
	}

	sessionHandler := handlers.NewSessionHandler(sessionService)
	operationHandler := handlers.NewOperationHandler(operationService, sessionService, engine)
	presenceHandler := handlers.NewPresenceHandler(presenceService, sessionService)
	streamHandler := handlers.NewStreamHandler(hub, sessionService, eventService)
	wsHandler := handlers.NewWebSocketHandler(hub, sessionService, presenceService)

	app := drift.New()

	if cfg.IsProduction() {
		app.SetMode(drift.ReleaseMode)
	} else {
		app.SetMode(drift.DebugMode)
	}

	app.Use(middleware.Recovery())
	app.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       86400,
	}))
	app.Use(middleware.BodyParser())

	api := app.Group("/api/v1")

	protected := api.Group("")
	protected.Use(authmw.Auth(jwtService))

	protected.Post("/sessions", sessionHandler.Create)
	protected.Get("/sessions/active", sessionHandler.ActiveForTarget)
	protected.Get("/sessions/:sessionId", sessionHandler.Get)
	protected.Post("/sessions/:sessionId/end", sessionHandler.End)
	protected.Post("/sessions/:sessionId/pause", sessionHandler.Pause)
	protected.Post("/sessions/:sessionId/resume", sessionHandler.Resume)

	protected.Get("/sessions/:sessionId/participants", sessionHandler.Participants)
	protected.Post("/sessions/:sessionId/participants", sessionHandler.Join)
	protected.Delete("/sessions/:sessionId/participants/me", sessionHandler.Leave)
	protected.Delete("/sessions/:sessionId/participants/:userId", sessionHandler.Kick)
	protected.Patch("/sessions/:sessionId/participants/:userId", sessionHandler.UpdatePermission)
	protected.Post("/sessions/:sessionId/heartbeat", sessionHandler.Heartbeat)
	protected.Post("/sessions/:sessionId/away", sessionHandler.Away)

	protected.Post("/sessions/:sessionId/snapshot", sessionHandler.TakeSnapshot)
	protected.Post("/sessions/:sessionId/snapshot/restore", sessionHandler.RestoreSnapshot)
	protected.Get("/sessions/:sessionId/state", operationHandler.State)

	protected.Post("/sessions/:sessionId/operations", operationHandler.Submit)
	protected.Get("/sessions/:sessionId/operations", operationHandler.List)
	protected.Get("/sessions/:sessionId/conflicts", operationHandler.Conflicts)
	protected.Get("/operations/:operationId", operationHandler.Get)
	protected.Post("/operations/:operationId/resolve", operationHandler.Resolve)

	protected.Put("/sessions/:sessionId/cursor", presenceHandler.UpdateCursor)
	protected.Post("/sessions/:sessionId/typing", presenceHandler.Typing)
	protected.Get("/sessions/:sessionId/cursors", presenceHandler.Cursors)

	protected.Get("/sessions/:sessionId/events", streamHandler.Timeline)
	protected.Get("/sessions/:sessionId/stream", streamHandler.Connect)
	protected.Post("/stream/:clientId/subscribe/:sessionId", streamHandler.Subscribe)
	protected.Post("/stream/:clientId/unsubscribe/:sessionId", streamHandler.Unsubscribe)

	protected.Get("/sessions/:sessionId/ws", wsHandler.Connect)

	api.Get("/health", func(c *drift.Context) {
		_ = c.JSON(200, map[string]string{"status": "ok"})
	})

	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		for range ticker.C {
			n, err := operationService.CleanupApplied(context.Background(), cfg.OperationRetention)
			if err != nil {
				log.Printf("operation cleanup failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("operation cleanup removed %d rows", n)
			}
		}
	}()

	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		log.Printf("Server starting on %s", addr)
		if err := app.Run(addr); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
}
