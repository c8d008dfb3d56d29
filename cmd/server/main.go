package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wavechat/wavechat-backend/internal/cache"
	"github.com/wavechat/wavechat-backend/internal/config"
	"github.com/wavechat/wavechat-backend/internal/database"
	"github.com/wavechat/wavechat-backend/internal/delivery"
	"github.com/wavechat/wavechat-backend/internal/handlers"
	"github.com/wavechat/wavechat-backend/internal/middleware"
	"github.com/wavechat/wavechat-backend/internal/models"
	"github.com/wavechat/wavechat-backend/internal/queue"
	"github.com/wavechat/wavechat-backend/internal/realtime"
	"github.com/wavechat/wavechat-backend/internal/routes"
	"github.com/wavechat/wavechat-backend/internal/services"
	"github.com/wavechat/wavechat-backend/internal/store"
	"github.com/wavechat/wavechat-backend/pkg/logger"
)

func main() {
	config.LoadConfig()

	env := os.Getenv("GO_ENV")
	if env == "" {
		env = "development"
	}
	logger.Init(env)

	logger.Info().Str("environment", env).Msg("Starting WaveChat Backend...")

	if env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	database.Connect()
	database.InitRedis()

	if err := database.DB.AutoMigrate(
		&models.User{},
		&models.Conversation{},
		&models.ConversationParticipant{},
		&models.Message{},
	); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run database migrations")
	}
	logger.Info().Msg("Database migrations complete")

	// Wire the messaging stack. Everything is constructed here; packages do
	// not reach for globals besides the DB and Redis handles.
	conversations := store.NewConversationStore(database.DB)
	redisCache := cache.NewRedisStore(database.Redis)
	typing := services.NewTypingService(redisCache)
	presence := services.NewRedisPresence(database.Redis)
	deliveryQueue := queue.NewRedisQueue(database.Redis, config.AppConfig.DeliveryQueueKey)
	lists := services.NewConversationListService(conversations, redisCache, logger.With("conversation-list"))
	chat := services.NewChatService(conversations, lists, typing, presence, deliveryQueue, logger.With("chat"))

	socketServer := handlers.NewSocketServer()
	defer socketServer.Close()

	broadcaster := realtime.NewBroadcaster(
		socketServer,
		database.Redis,
		config.AppConfig.BroadcastChannel,
		handlers.Namespace,
		logger.With("broadcaster"),
	)
	handlers.NewSocketGateway(socketServer, chat, typing, presence, broadcaster, logger.With("gateway"))

	worker := delivery.NewWorker(deliveryQueue, presence, broadcaster, logger.With("delivery"))

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// The subscriber must run before connections arrive so no broadcast is
	// missed; the worker drains offline jobs in the background.
	go broadcaster.Run(rootCtx)
	go worker.Run(rootCtx)
	go func() {
		if err := socketServer.Serve(); err != nil {
			logger.Error().Err(err).Msg("socket server stopped")
		}
	}()

	r := gin.New()
	r.Use(middleware.LoggingMiddleware())
	r.Use(middleware.ErrorHandlerMiddleware())
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware())

	// Socket.io polling does its own pacing; rate limiting it breaks the
	// transport.
	r.Use(func(c *gin.Context) {
		if len(c.Request.URL.Path) >= 10 && c.Request.URL.Path[:10] == "/socket.io" {
			c.Next()
			return
		}
		middleware.GeneralRateLimit()(c)
	})

	conversationHandler := handlers.NewConversationHandler(chat, lists, conversations)
	api := r.Group("/api")
	routes.RegisterChatRoutes(api, conversationHandler)

	r.GET("/health", func(c *gin.Context) {
		dbStatus := "ok"
		redisStatus := "ok"

		sqlDB, err := database.DB.DB()
		if err != nil || sqlDB.Ping() != nil {
			dbStatus = "error"
		}

		if database.Redis != nil {
			if _, err := database.Redis.Ping(context.Background()).Result(); err != nil {
				redisStatus = "error"
			}
		} else {
			redisStatus = "not configured"
		}

		status := "ok"
		if dbStatus != "ok" || redisStatus == "error" {
			status = "degraded"
		}

		c.JSON(200, gin.H{
			"status": status,
			"checks": gin.H{
				"database": dbStatus,
				"redis":    redisStatus,
			},
		})
	})

	r.GET("/socket.io/*any", handlers.SocketHandler(socketServer))
	r.POST("/socket.io/*any", handlers.SocketHandler(socketServer))

	port := config.AppConfig.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", port).Str("env", env).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server gracefully...")
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
