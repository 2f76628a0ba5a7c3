package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
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

	"github.com/clipstack/transcoder/internal/client"
	"github.com/clipstack/transcoder/internal/config"
	"github.com/clipstack/transcoder/internal/engine"
	"github.com/clipstack/transcoder/internal/handler"
	"github.com/clipstack/transcoder/internal/middleware"
	"github.com/clipstack/transcoder/internal/model"
	"github.com/clipstack/transcoder/internal/service"
	"github.com/clipstack/transcoder/internal/store"
	"github.com/clipstack/transcoder/internal/webhook"
	"github.com/clipstack/transcoder/internal/worker"
	"github.com/clipstack/transcoder/internal/workspace"
	ws "github.com/clipstack/transcoder/internal/websocket"
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

	// Object storage
	storage, err := client.NewS3Client(&cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize storage client: %v", err)
	}

	// Transcoding engine
	ffmpeg := engine.NewFFmpeg()
	if !ffmpeg.Available() {
		log.Println("Warning: ffmpeg/ffprobe not found on PATH, jobs will fail")
	}

	// Preset table: built-in defaults extended from configuration, built
	// once and passed explicitly. Never mutated after this point.
	presets := buildPresets(cfg)

	jobStore := store.NewRedisStore(redisClient)
	jobService := service.NewJobService(jobStore, asynqClient, storage, presets)
	notifier := webhook.NewNotifier(&cfg.Webhook)
	workspaces := workspace.NewManager(storage, cfg.Worker.WorkDir)
	transcodeWorker := worker.NewTranscodeWorker(jobService, ffmpeg, workspaces, storage, notifier, hub, cfg)

	jobHandler := handler.NewJobHandler(jobService, validate)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":   redisClient.Ping(c.Context()).Err() == nil,
				"engine":  ffmpeg.Available(),
				"storage": true,
			},
		})
	})

	// Job routes
	app.Post("/jobs", rateLimiter.SubmitLimit(cfg.RateLimit.SubmitPerMin), jobHandler.Submit)
	app.Get("/jobs/:id", jobHandler.Get)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:id", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("id")
		hub.HandleConnection(c, jobID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, transcodeWorker)

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

func buildPresets(cfg *config.Config) model.PresetTable {
	presets := model.DefaultPresets()
	for name, p := range cfg.Presets {
		presets[name] = model.OutputSpec{
			Format:       p.Format,
			VideoCodec:   p.VideoCodec,
			AudioCodec:   p.AudioCodec,
			Resolution:   p.Resolution,
			VideoBitrate: p.VideoBitrate,
			AudioBitrate: p.AudioBitrate,
			FrameRate:    p.FrameRate,
			Profile:      p.Profile,
			Quality:      p.Quality,
		}
	}
	return presets
}

func startWorkerServer(cfg *config.Config, transcodeWorker *worker.TranscodeWorker) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				"transcode": 1,
			},
			LogLevel: asynqLogLevel,
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeTranscode, transcodeWorker.ProcessTask)

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
