package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/trackvault/api/internal/client"
	"github.com/trackvault/api/internal/config"
	"github.com/trackvault/api/internal/extract"
	"github.com/trackvault/api/internal/handler"
	"github.com/trackvault/api/internal/middleware"
	"github.com/trackvault/api/internal/model"
	"github.com/trackvault/api/internal/service"
	"github.com/trackvault/api/internal/store"
	"github.com/trackvault/api/internal/worker"
	ws "github.com/trackvault/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Storage sink: R2 when configured, in-memory otherwise
	var storage client.StorageClient
	r2Client, err := client.NewR2Client(&cfg.R2)
	if err != nil {
		log.Printf("Warning: R2 not configured, using in-memory storage: %v", err)
		storage = client.NewMemoryStorage()
	} else {
		storage = r2Client
	}

	// Initialize job store
	jobStore := store.NewRedisStore(redisClient, time.Duration(cfg.Capture.RetentionHours)*time.Hour)

	// Initialize services
	canceler := service.NewCanceler()
	queue := service.NewAsynqQueue(asynqClient)
	captureService := service.NewCaptureService(jobStore, storage, queue, canceler, hub)

	// Initialize handlers
	captureHandler := handler.NewCaptureHandler(captureService, validate)
	libraryHandler := handler.NewLibraryHandler(captureService)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: cfg.Server.Env == "production",
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,Range",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())

	// Capture routes
	captures := api.Group("/captures")
	captures.Post("/", rateLimiter.CaptureLimit(cfg.RateLimit.CapturesPerHour), captureHandler.Start)
	captures.Get("/:id", captureHandler.Status)
	captures.Post("/:id/cancel", captureHandler.Cancel)
	captures.Post("/:id/retry", captureHandler.Retry)

	// Library routes
	library := api.Group("/library")
	library.Get("/", libraryHandler.List)
	library.Get("/:ref/stream", libraryHandler.Stream)
	library.Delete("/:ref", libraryHandler.Delete)

	// WebSocket routes
	app.Use("/ws", authMiddleware.Authenticate(), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/captures/:id", func(c *fiber.Ctx) error {
		// Resolve ownership before upgrading so authorization failures
		// stay ordinary HTTP errors.
		userID := middleware.GetUserID(c)
		jobID := c.Params("id")
		if _, err := captureService.GetStatus(c.Context(), userID, jobID); err != nil {
			return fiber.ErrNotFound
		}
		return websocket.New(func(conn *websocket.Conn) {
			hub.HandleConnection(conn, jobID, func() (*model.CaptureStatusResponse, error) {
				return captureService.GetStatus(context.Background(), userID, jobID)
			})
		})(c)
	})

	// Start Asynq worker server
	go startWorkerServer(cfg, captureService, storage)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, captureService *service.CaptureService, storage client.StorageClient) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Capture.Concurrency,
			Queues: map[string]int{
				service.QueueCapture: 10,
			},
		},
	)

	attemptTimeout := time.Duration(cfg.Capture.AttemptTimeout) * time.Second
	chain := extract.NewChain(attemptTimeout,
		extract.NewExecStrategy("yt-dlp", cfg.Capture.YtDlpBinary, cfg.Capture.CookieFile, cfg.Capture.ScratchDir),
		extract.NewNativeStrategy(),
		extract.NewExecStrategy("youtube-dl", cfg.Capture.YoutubeDL, cfg.Capture.CookieFile, cfg.Capture.ScratchDir),
	)
	resolver := extract.NewInfoResolver(cfg.Capture.YtDlpBinary)

	captureWorker := worker.NewCaptureWorker(captureService, storage, chain, resolver)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeCapture, captureWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
