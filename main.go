package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"

	"learnhub/realtime-service/config"
	"learnhub/realtime-service/db"
	"learnhub/realtime-service/handlers"
	"learnhub/realtime-service/middleware"
	"learnhub/realtime-service/services"
	"learnhub/realtime-service/utils"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var port string

	root := &cobra.Command{
		Use:           "realtime-service",
		Short:         "Presence, chat and notification gateway",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(loadConfig(port))
		},
	}
	root.PersistentFlags().StringVar(&port, "port", "", "HTTP port (overrides PORT)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(loadConfig(port))
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Delete read notifications past the retention window and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(loadConfig(port))
		},
	})

	return root
}

func loadConfig(port string) *config.Config {
	cfg := config.LoadConfig()
	if port != "" {
		cfg.Port = port
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	return cfg
}

func runServe(cfg *config.Config) error {
	logger := utils.NewLogger(cfg.LogLevel).With("instance_id", cfg.InstanceID)

	// Connect to the notification database
	database, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}

	// Conversation storage and course/user lookups
	var (
		store       services.ConversationStore
		catalog     services.CourseCatalog
		users       services.UserDirectory
		mongoClient *mongo.Client
	)
	switch cfg.ChatStore {
	case "memory":
		memCatalog := services.NewMemoryCatalog()
		store, catalog, users = services.NewMemoryStore(), memCatalog, memCatalog
		logger.Warn("Using in-memory chat store; conversations are lost on restart")
	default:
		client, mongoDB, err := db.ConnectMongo(context.Background(), cfg)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", "error", err)
		}
		mongoClient = client

		mongoStore := services.NewMongoStore(mongoDB)
		if err := mongoStore.EnsureIndexes(context.Background()); err != nil {
			logger.Fatal("Failed to create indexes", "error", err)
		}
		mongoCatalog := services.NewMongoCatalog(mongoDB)
		store, catalog, users = mongoStore, mongoCatalog, mongoCatalog
	}

	// Realtime core
	presence := services.NewPresenceRegistry(logger)
	rooms := services.NewRoomRegistry()
	gateway := services.NewGateway(presence, rooms, logger)
	sessions := services.NewSessionManager(presence, rooms, gateway, logger)
	dispatcher := services.NewDispatcher(sessions, rooms, presence, gateway, store, services.DispatcherConfig{
		EnforceParticipants: cfg.EnforceParticipants,
	}, logger)

	var background []interface{ Stop() }

	// Cross-instance presence and fan-out
	if cfg.RedisURL != "" {
		redisClient, err := services.NewRedisClient(context.Background(), cfg)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", "error", err)
		}
		defer redisClient.Close()

		mirror := services.NewRedisPresence(redisClient, cfg.InstanceID, logger)
		mirror.SetPresenceTTL(cfg.PresenceTTL)
		presence.SetMirror(mirror)

		refresher := services.NewPeriodicTask("presence-refresh", cfg.PresenceTTL/3, presence.RefreshMirror, logger)
		refresher.Start()
		background = append(background, refresher)

		relay := services.NewRelay(redisClient, gateway, cfg.InstanceID, logger)
		relay.Start()
		gateway.SetRelay(relay)
		background = append(background, relay)
	}

	// Notifications
	notifications := services.NewNotificationService(
		services.NewGormNotificationRepository(database), catalog, gateway, cfg.NotificationRetention, logger)
	sweeper := services.NewRetentionSweeper(notifications, cfg.NotificationSweepInterval, logger)
	sweeper.Start()
	background = append(background, sweeper)

	chat := services.NewChatService(store, catalog, users, gateway, logger)

	// Initialize handlers
	wsHandler := handlers.NewWebSocketHandler(sessions, dispatcher, cfg.AllowedOrigins, cfg.SendBufferSize, cfg.EventsPerSecond, logger)
	chatHandler := handlers.NewChatHandler(chat, logger)
	notificationHandler := handlers.NewNotificationHandler(notifications, logger)
	presenceHandler := handlers.NewPresenceHandler(presence, logger)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	router.GET("/health", handlers.HealthCheck(gateway, cfg.InstanceID))
	router.GET("/ws", wsHandler.Handle)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Auth(cfg.JWTSecret))
	{
		chats := v1.Group("/chat")
		{
			chats.POST("/private", chatHandler.OpenPrivateChat)
			chats.GET("/all", chatHandler.ListChats)
			chats.POST("/course", chatHandler.JoinCourseGroup)
			chats.GET("/:id", chatHandler.GetChat)
		}

		notes := v1.Group("/notifications")
		{
			notes.GET("", middleware.RequireRole("admin"), notificationHandler.ListAll)
			notes.POST("", notificationHandler.Create)
			notes.GET("/user", notificationHandler.ListForUser)
			notes.GET("/mentor", middleware.RequireRole("mentor"), notificationHandler.ListForMentor)
			notes.PUT("/:id/read", notificationHandler.MarkRead)
		}

		presenceRoutes := v1.Group("/presence")
		{
			presenceRoutes.GET("/status", presenceHandler.GetStatus)
			presenceRoutes.GET("/online", presenceHandler.GetOnlineUsers)
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting realtime service", "port", cfg.Port, "chat_store", cfg.ChatStore)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	for i := len(background) - 1; i >= 0; i-- {
		background[i].Stop()
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	if mongoClient != nil {
		if err := mongoClient.Disconnect(ctx); err != nil {
			logger.Error("Failed to disconnect MongoDB", "error", err)
		}
	}

	logger.Info("Server exited")
	return nil
}

func runSweep(cfg *config.Config) error {
	logger := utils.NewLogger(cfg.LogLevel)

	database, err := db.Connect(cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// The sweep touches neither the catalog nor live connections.
	gateway := services.NewGateway(services.NewPresenceRegistry(logger), services.NewRoomRegistry(), logger)
	notifications := services.NewNotificationService(
		services.NewGormNotificationRepository(database), services.NewMemoryCatalog(), gateway, cfg.NotificationRetention, logger)

	deleted, err := notifications.Sweep(ctx, time.Now())
	if err != nil {
		logger.Error("Sweep failed", "error", err)
		return err
	}

	logger.Info("Sweep finished", "deleted", deleted)
	return nil
}
