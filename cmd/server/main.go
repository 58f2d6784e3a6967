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

	"github.com/deploydeck/api/internal/auth"
	"github.com/deploydeck/api/internal/client"
	"github.com/deploydeck/api/internal/config"
	"github.com/deploydeck/api/internal/handler"
	"github.com/deploydeck/api/internal/middleware"
	"github.com/deploydeck/api/internal/service"
	"github.com/deploydeck/api/internal/store"
	ws "github.com/deploydeck/api/internal/websocket"
	"github.com/deploydeck/api/internal/worker"
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

	// Job state persists to Redis when it is reachable; without it the
	// store is memory-only and a restart loses batch history.
	ctx := context.Background()
	var persister store.Persister
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v — job state is memory-only", err)
	} else {
		persister = store.NewRedisPersister(redisClient, cfg.Engine.JobTTL)
	}

	// Initialize the job store and recover interrupted work
	st := store.New(store.RetryPolicy{
		MaxRetries: cfg.Engine.MaxRetries,
		BaseDelay:  cfg.Engine.BaseDelay,
		MaxDelay:   cfg.Engine.MaxDelay,
	}, persister)
	recovered, err := st.Recover(ctx)
	if err != nil {
		log.Printf("Warning: state recovery failed: %v", err)
	}

	// Initialize WebSocket hub and wire it to store transitions
	hub := ws.NewHub()
	go hub.Run()
	st.SetListener(hub.StoreListener())
	go st.Run()

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize the device management API client
	var tokens client.TokenProvider
	switch {
	case cfg.Graph.StaticToken != "":
		tokens = &client.StaticTokenProvider{Value: cfg.Graph.StaticToken}
	case cfg.Graph.TenantID != "" && cfg.Graph.ClientID != "" && cfg.Graph.ClientSecret != "":
		tokens = client.NewClientCredentialsProvider(cfg.Graph.TokenURL(), cfg.Graph.ClientID, cfg.Graph.ClientSecret, cfg.Graph.Scope)
	default:
		log.Println("Warning: Graph credentials not configured — assignment calls will fail until they are set")
		tokens = &client.StaticTokenProvider{}
	}
	graphClient := client.NewGraphClient(&cfg.Graph, tokens)

	// Directory browsing falls back to sample data without credentials
	var directoryGraph client.GraphAPI
	if cfg.Graph.IsConfigured() {
		directoryGraph = graphClient
	}

	// Initialize R2 client (optional - continues if not configured)
	var storageClient client.StorageClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 client not initialized: %v", err)
		} else {
			storageClient = r2Client
		}
	} else {
		log.Println("Info: R2 storage not configured, using mock report links")
	}

	// Initialize Zitadel JWKS verifier (optional - falls back to legacy JWT)
	var jwksVerifier *auth.JWKSVerifier
	if cfg.Zitadel.Issuer != "" {
		var err error
		jwksVerifier, err = auth.NewJWKSVerifier(&cfg.Zitadel)
		if err != nil {
			log.Printf("Warning: JWKS verifier not initialized: %v", err)
		} else {
			defer jwksVerifier.Close()
		}
	}

	// Initialize services
	dispatcher := service.NewDispatcher(st, asynqClient, cfg.Graph.BatchSize)
	assignmentService := service.NewAssignmentService(st, dispatcher)
	directoryService := service.NewDirectoryService(directoryGraph)
	reportService := service.NewReportService(st, storageClient, time.Hour)

	// Initialize handlers
	assignmentHandler := handler.NewAssignmentHandler(assignmentService, reportService, validate)
	directoryHandler := handler.NewDirectoryHandler(directoryService)

	// Initialize auth handler for ForwardAuth verification
	var tokenVerifier auth.TokenVerifier
	if jwksVerifier != nil {
		tokenVerifier = jwksVerifier
	}
	authHandler := handler.NewAuthHandler(tokenVerifier, cfg.JWT.Secret)

	// Initialize middleware (with fallback support)
	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		log.Println("Info: Gateway mode enabled — using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		// Direct mode: auth is handled by the backend itself
		var authMiddleware *middleware.AuthMiddleware
		if jwksVerifier != nil && cfg.JWT.Secret != "" {
			authMiddleware = middleware.NewAuthMiddlewareWithFallback(jwksVerifier, cfg.JWT.Secret)
		} else if jwksVerifier != nil {
			authMiddleware = middleware.NewAuthMiddleware(jwksVerifier)
		} else {
			authMiddleware = middleware.NewLegacyAuthMiddleware(cfg.JWT.Secret)
		}
		apiAuthMiddleware = authMiddleware.Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    2 * 1024 * 1024, // 2MB
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"graph":   cfg.Graph.IsConfigured(),
				"redis":   persister != nil,
				"storage": storageClient != nil,
				"auth":    jwksVerifier != nil || cfg.JWT.Secret != "",
			},
		})
	})

	// ForwardAuth verification endpoint (internal, called by Traefik)
	app.Get("/auth/verify", authHandler.Verify)

	// API routes
	api := app.Group("/api", apiAuthMiddleware)

	// Assignment routes
	assignments := api.Group("/assignments")
	assignments.Post("/bulk", rateLimiter.BulkLimit(cfg.RateLimit.BulkPerHour), assignmentHandler.SubmitBulk)
	assignments.Get("/", rateLimiter.ReadsLimit(cfg.RateLimit.ReadsPerMin), assignmentHandler.ListBatches)
	assignments.Get("/:batchId", rateLimiter.ReadsLimit(cfg.RateLimit.ReadsPerMin), assignmentHandler.GetBatch)
	assignments.Get("/:batchId/summary", rateLimiter.ReadsLimit(cfg.RateLimit.ReadsPerMin), assignmentHandler.GetSummary)
	assignments.Get("/:batchId/jobs", rateLimiter.ReadsLimit(cfg.RateLimit.ReadsPerMin), assignmentHandler.ListJobs)
	assignments.Get("/:batchId/report", rateLimiter.ReportsLimit(cfg.RateLimit.ReportsPerHour), assignmentHandler.GetReport)
	assignments.Post("/:batchId/cancel", rateLimiter.ReadsLimit(cfg.RateLimit.ReadsPerMin), assignmentHandler.Cancel)

	// Directory routes
	directory := api.Group("/directory", rateLimiter.ReadsLimit(cfg.RateLimit.ReadsPerMin))
	directory.Get("/apps", directoryHandler.ListApps)
	directory.Get("/groups", directoryHandler.ListGroups)
	directory.Get("/filters", directoryHandler.ListFilters)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/batches/:batchId", websocket.New(func(c *websocket.Conn) {
		batchID := c.Params("batchId")
		hub.HandleConnection(c, batchID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, st, graphClient, dispatcher)

	// Re-dispatch jobs that were mid-flight when the last process died
	if len(recovered) > 0 {
		if err := assignmentService.Redispatch(recovered); err != nil {
			log.Printf("Warning: failed to re-dispatch recovered jobs: %v", err)
		}
	}

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

func startWorkerServer(cfg *config.Config, st *store.Store, graph client.GraphAPI, dispatcher *service.Dispatcher) {
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
			Concurrency: cfg.Engine.Workers,
			Queues: map[string]int{
				service.QueueCritical: 8,
				service.QueueHigh:     4,
				service.QueueNormal:   2,
				service.QueueLow:      1,
			},
			LogLevel: asynqLogLevel,
		},
	)

	assignWorker := worker.NewAssignWorker(st, graph, dispatcher, cfg.Graph.ResourceTimeout)

	mux := asynq.NewServeMux()
	mux.HandleFunc(worker.TaskTypeAssignChunk, assignWorker.ProcessTask)

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
