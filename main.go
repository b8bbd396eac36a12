package main

import (
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chat-sync/internal/config"
	"chat-sync/internal/db"
	"chat-sync/internal/handlers"
	"chat-sync/internal/middleware"
	"chat-sync/internal/observability"
	"chat-sync/internal/rabbitmq"
	"chat-sync/internal/repositories"
	"chat-sync/internal/telemetry"
	"chat-sync/internal/ws"
)

func main() {
	cfg := config.Load()

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.Exchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, "audit.chat_sync", "chat-sync", cfg.Environment)
	log.Printf("event publisher mode=%s", rabbitmq.PublisherMode(publisher))

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Fatalf("failed to create upload dir: %v", err)
	}

	convRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	hub := ws.NewHub()

	conversationHandler := handlers.NewConversationHandler(convRepo, audit, cfg.UploadDir)
	messageHandler := handlers.NewMessageHandler(convRepo, messageRepo, audit)
	migrationHandler := handlers.NewMigrationHandler(database, audit)
	conversationWS := ws.NewConversationWebSocketHandler(hub, convRepo, cfg.JWTSecret)

	router := gin.Default()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(cfg.JWTSecret)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.Static("/uploads", cfg.UploadDir)

	router.POST("/conversations", authMiddleware, conversationHandler.CreateConversation)
	router.GET("/conversations", authMiddleware, conversationHandler.ListConversations)
	router.GET("/conversations/archived", authMiddleware, conversationHandler.ListArchivedConversations)
	router.GET("/conversations/:conversation_id", authMiddleware, conversationHandler.GetConversation)
	router.PATCH("/conversations/:conversation_id/settings", authMiddleware, conversationHandler.UpdateSettings)
	router.DELETE("/conversations/:conversation_id/me", authMiddleware, conversationHandler.LeaveConversation)
	router.POST("/conversations/:conversation_id/members", authMiddleware, conversationHandler.AddMember)
	router.DELETE("/conversations/:conversation_id/members/:user_id", authMiddleware, conversationHandler.RemoveMember)
	router.POST("/conversations/:conversation_id/avatar", authMiddleware, conversationHandler.UploadAvatar)

	router.GET("/conversations/:conversation_id/messages", authMiddleware, messageHandler.ListMessages)
	router.POST("/conversations/:conversation_id/messages", authMiddleware, messageHandler.PostMessage)
	router.PUT("/conversations/:conversation_id/messages/:message_id", authMiddleware, messageHandler.EditMessage)
	router.DELETE("/conversations/:conversation_id/messages/:message_id", authMiddleware, messageHandler.DeleteMessage)
	router.POST("/conversations/:conversation_id/messages/:message_id/reactions", authMiddleware, messageHandler.AddReaction)
	router.DELETE("/conversations/:conversation_id/messages/:message_id/reactions/:emoji", authMiddleware, messageHandler.RemoveReaction)
	router.POST("/conversations/:conversation_id/receipts", authMiddleware, messageHandler.MarkReceipts)

	router.POST("/migration/connection", authMiddleware, migrationHandler.TestConnection)
	router.POST("/migration/preview", authMiddleware, migrationHandler.Preview)
	router.POST("/migration/jobs", authMiddleware, migrationHandler.StartJob)
	router.GET("/migration/jobs/:job_id", authMiddleware, migrationHandler.JobStatus)

	router.GET("/ws/conversations/:conversation_id", conversationWS.Handle)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
