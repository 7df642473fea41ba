// main.go
package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"blitzcup/config"
	"blitzcup/contest"
	"blitzcup/controllers"
	"blitzcup/judge"
	"blitzcup/logger"
	"blitzcup/middleware"
	"blitzcup/store"
	"blitzcup/websocket"
)

func main() {
	cfg := config.Load()
	logger.SetLogLevel(cfg.Env)
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	// Durable stores: users in PostgreSQL, rooms as Redis documents.
	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer pool.Close()
	users := store.NewPostgresUserStore(pool)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	rooms := store.NewRedisRoomStore(redisClient)

	// Realtime gateway and the contest state machine.
	hub := websocket.NewHub()
	judgeClient := judge.New(cfg.JudgeBaseURL)
	machine := contest.NewMachine(contest.NewRegistry(), rooms, users, judgeClient, hub)
	gateway := websocket.NewGateway(hub, machine, cfg.JWTSecret)

	authController := controllers.NewAuthController(users, cfg.JWTSecret, cfg.JWTExpiry)
	roomController := controllers.NewRoomController(machine, rooms, cfg.ApplicationURL)

	router := gin.Default()
	router.GET("/health", controllers.Health)

	api := router.Group("/api")
	{
		api.POST("/auth/register", authController.Register)
		api.POST("/auth/login", authController.Login)

		protected := api.Group("/", middleware.AuthRequired(cfg.JWTSecret))
		{
			protected.GET("/profile/me", authController.Me)
			protected.POST("/rooms/create", roomController.Create)
			protected.POST("/rooms/join", roomController.Join)
			protected.POST("/rooms/leave", roomController.Leave)
			protected.GET("/rooms/details/:roomId", roomController.Details)
			protected.POST("/rooms/verify", roomController.Verify)
			protected.GET("/rooms/:roomId/qrcode", roomController.QRCode)
		}
	}

	// Realtime connections authenticate with the same token, on the query
	// string or the Authorization header.
	router.GET("/ws", func(c *gin.Context) {
		gateway.ServeWs(c.Writer, c.Request)
	})

	// Start the broadcast fan-out loop.
	go hub.Run()

	logger.Info.Printf("BlitzCup server listening on :%s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}
