package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/guthubrx/cartae-connections/internal/api/handlers"
	"github.com/guthubrx/cartae-connections/internal/cache/redis"
	"github.com/guthubrx/cartae-connections/internal/connections"
	"github.com/guthubrx/cartae-connections/internal/detection"
	"github.com/guthubrx/cartae-connections/internal/embedding"
	"github.com/guthubrx/cartae-connections/internal/graph/neo4j"
	"github.com/guthubrx/cartae-connections/internal/ingestion"
	"github.com/guthubrx/cartae-connections/internal/metrics"
	"github.com/guthubrx/cartae-connections/internal/middleware/ratelimit"
	"github.com/guthubrx/cartae-connections/internal/middleware/security"
	"github.com/guthubrx/cartae-connections/internal/middleware/validation"
	"github.com/guthubrx/cartae-connections/internal/storage/sqlite"
	"github.com/guthubrx/cartae-connections/internal/vector/milvus"
	"github.com/guthubrx/cartae-connections/pkg/config"
	appLogger "github.com/guthubrx/cartae-connections/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Cartae Connections API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	neo4jClient, err := neo4j.NewClient(
		cfg.Neo4j.URI,
		cfg.Neo4j.Username,
		cfg.Neo4j.Password,
		cfg.Neo4j.Database,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Neo4j client", zap.Error(err))
	}
	defer neo4jClient.Close(context.Background())

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.APIKey,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	err = milvusClient.CreateCollection(context.Background())
	if err != nil {
		appLogger.Fatal("Failed to create collection", zap.Error(err))
	}

	redisClient, err := redis.NewClient(
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer redisClient.Close()

	embeddingClient := embedding.NewClient(
		cfg.Embedding.APIKey,
		cfg.Embedding.Model,
		time.Duration(cfg.Embedding.TimeoutSec)*time.Second,
	)
	embedder := embedding.NewCachedEmbedder(
		embeddingClient,
		redisClient,
		time.Duration(cfg.Embedding.CacheTTLSec)*time.Second,
	)

	detector := connections.NewDetector(milvusClient)
	detector.SetBatchConcurrency(cfg.Detection.BatchConcurrency)

	detectionService := detection.NewService(
		detector,
		sqliteClient,
		sqliteClient,
		neo4jClient,
		redisClient,
		time.Duration(cfg.Detection.CacheTTLSec)*time.Second,
	)
	detectionService.SetDefaultOptions(connections.DetectionOptions{
		MinScore:           cfg.Detection.MinScore,
		MaxConnections:     cfg.Detection.MaxConnections,
		TemporalWindowDays: cfg.Detection.TemporalWindowDays,
	})

	processor := ingestion.NewProcessor(
		sqliteClient,
		milvusClient,
		neo4jClient,
		redisClient,
		embedder,
	)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{
		Logger: appLogger.GetLogger(),
	})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	app.Use(validation.Middleware(validation.Config{
		MaxContentSize: cfg.Server.BodyLimit,
		Logger:         appLogger.GetLogger(),
	}))

	connectionsHandler := handlers.NewConnectionsHandler(detectionService)
	itemsHandler := handlers.NewItemsHandler(processor, sqliteClient, neo4jClient)
	wsHandler := handlers.NewWebSocketHandler(detectionService)

	api := app.Group("/api/v1")

	api.Post("/items", itemsHandler.HandleIngest)
	api.Get("/items/:id", itemsHandler.HandleGet)
	api.Delete("/items/:id", itemsHandler.HandleDelete)
	api.Get("/items/:id/connections", itemsHandler.HandleStoredConnections)
	api.Get("/items/:id/neighbors", itemsHandler.HandleNeighbors)

	api.Post("/connections/detect", connectionsHandler.HandleDetect)
	api.Post("/connections/strongest", connectionsHandler.HandleStrongest)
	api.Post("/connections/check", connectionsHandler.HandleCheck)
	api.Post("/connections/batch", connectionsHandler.HandleBatch)

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/batch", websocket.New(wsHandler.HandleConnection))

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
