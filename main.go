package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"classchat-service/internal/auth"
	"classchat-service/internal/config"
	"classchat-service/internal/db"
	"classchat-service/internal/handlers"
	"classchat-service/internal/middleware"
	"classchat-service/internal/observability"
	"classchat-service/internal/presence"
	"classchat-service/internal/rabbitmq"
	"classchat-service/internal/repositories"
	"classchat-service/internal/telemetry"
	"classchat-service/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), "classchat-service", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer shutdownTracing(context.Background())

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	audit := telemetry.NewAuditEmitter(publisher, "audit.classchat", "classchat-service", cfg.Environment)

	if eventBus, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange); err == nil {
		observability.SetPublisher(eventBus)
		defer eventBus.Close()
	} else {
		log.Printf("ws event bus disabled: %v", err)
	}

	validator := auth.NewValidator(cfg.JWTSecret)

	groupRepo := repositories.NewGroupRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	hub := ws.NewHub()
	tracker := presence.NewTracker(cfg.TypingWindow)
	server := ws.NewServer(hub, groupRepo, messageRepo, tracker, audit)
	wsHandler := ws.NewHandler(hub, server, validator, cfg.SendBuffer)

	groupHandler := handlers.NewGroupHandler(groupRepo, messageRepo, hub, audit)

	router := gin.Default()
	router.Use(otelgin.Middleware("classchat-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(validator)

	router.GET("/groups", authMiddleware, groupHandler.ListGroups)
	router.POST("/groups", authMiddleware, groupHandler.CreateGroup)
	router.GET("/groups/:group_id", authMiddleware, groupHandler.GetGroup)
	router.GET("/groups/:group_id/messages", authMiddleware, groupHandler.GetGroupMessages)
	router.GET("/groups/:group_id/messages/:message_id", authMiddleware, groupHandler.GetGroupMessage)

	router.GET("/ws", wsHandler.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	handlers.RegisterDebugRoutes(router, audit, tracker, cfg.DebugRoutes)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
