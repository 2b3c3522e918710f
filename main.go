package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/kafuffle/kafuffle-api/config"
	"github.com/kafuffle/kafuffle-api/controllers"
	"github.com/kafuffle/kafuffle-api/middleware"
	"github.com/kafuffle/kafuffle-api/services"
)

func main() {
	log.Println("Starting Kafuffle API server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := config.InitTelemetry(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			log.Printf("Failed to flush telemetry: %v", err)
		}
	}()

	// Connect to database
	if err := config.ConnectDatabase(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := config.Migrate(config.GetDB()); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Println("Database migration completed successfully")

	if cfg.AWSS3Bucket != "" {
		s3Service, err := services.InitS3Service(ctx, cfg)
		if err != nil {
			log.Fatalf("Failed to initialize S3: %v", err)
		}
		services.InitAttachmentService(s3Service)
		log.Printf("Attachments stored in s3://%s", cfg.AWSS3Bucket)
	} else {
		log.Println("AWS_S3_BUCKET not set, attachments are disabled")
	}

	if cfg.RealtimeFanoutEnabled() {
		client, err := config.NewRedisClient(ctx, cfg)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer client.Close()

		broker := services.NewRedisBroker(client, services.GetHub())
		go func() {
			if err := broker.Run(ctx, nil); err != nil {
				log.Printf("Realtime relay stopped: %v", err)
			}
		}()
		services.SetPublisher(broker)
		log.Printf("Realtime events relayed through Redis at %s", cfg.RedisAddr)
	}

	router := setupRouter(cfg, middleware.EnsureValidToken(cfg))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           config.TraceHandler(cfg, router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Server is running on http://localhost:%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown failed: %v", err)
	}
}

// setupRouter builds the API router. auth authenticates every route except
// the health and database status checks.
func setupRouter(cfg *config.Config, auth gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", healthCheck)
		v1.GET("/database/status", databaseStatus)

		protected := v1.Group("", auth, middleware.RequireScope(cfg.Auth0Scope))

		protected.POST("/users", controllers.CreateUser)
		protected.GET("/users/me", controllers.GetMyProfile)
		protected.PUT("/users/me", controllers.UpdateMyProfile)

		protected.POST("/spaces", controllers.CreateSpace)
		protected.GET("/spaces", controllers.ListMySpaces)
		protected.GET("/spaces/:id/members", controllers.ListMembers)
		protected.POST("/spaces/:id/members", controllers.AddMember)
		protected.PATCH("/spaces/:id/members/:userId", controllers.UpdateMemberRole)
		protected.DELETE("/spaces/:id/members/:userId", controllers.RemoveMember)
		protected.POST("/spaces/:id/channels", controllers.CreateChannel)
		protected.GET("/spaces/:id/channels", controllers.ListChannels)

		protected.POST("/channels/:id/messages", controllers.SendMessage)
		protected.GET("/channels/:id/messages", controllers.ListMessages)
		protected.GET("/channels/:id/messages/search", controllers.SearchMessages)
		protected.GET("/channels/:id/ws", controllers.ChannelFeed)

		protected.GET("/messages/:id", controllers.GetMessage)
		protected.PATCH("/messages/:id", controllers.EditMessage)
		protected.DELETE("/messages/:id", controllers.DeleteMessage)
		protected.POST("/messages/:id/reactions", controllers.AddReaction)
		protected.DELETE("/messages/:id/reactions/:emoji", controllers.RemoveReaction)

		protected.GET("/attachments/:id", controllers.GetAttachment)
	}

	return router
}

// healthCheck handles the health check endpoint
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Kafuffle API is running",
	})
}

// databaseStatus checks database connectivity and returns table information
func databaseStatus(c *gin.Context) {
	db := config.GetDB()
	if db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": "Database is not configured",
			},
		})
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": "Failed to get database instance",
			},
		})
		return
	}

	if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_CONNECTION_ERROR",
				"message": "Database connection failed",
			},
		})
		return
	}

	query := "SELECT tablename FROM pg_tables WHERE schemaname = 'public' ORDER BY tablename"
	if db.Dialector.Name() == "sqlite" {
		query = "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
	}

	var tables []string
	if err := db.Raw(query).Scan(&tables).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_QUERY_ERROR",
				"message": "Failed to query tables",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Database connected",
		"tables":  tables,
	})
}
