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
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"github.com/ajeer/ajeer-backend/internal/api"
	"github.com/ajeer/ajeer-backend/internal/config"
	"github.com/ajeer/ajeer-backend/internal/database"
	"github.com/ajeer/ajeer-backend/internal/images"
	"github.com/ajeer/ajeer-backend/internal/objectstore"
	"github.com/ajeer/ajeer-backend/internal/providers/openai"
	"github.com/ajeer/ajeer-backend/internal/repository/postgres"
	"github.com/ajeer/ajeer-backend/internal/services"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if cfg.Development {
		logger.SetLevel(logrus.DebugLevel)
	}

	// Operator escape hatch: `server rollback-migration` undoes the last
	// migration and exits without serving.
	if len(os.Args) > 1 && os.Args[1] == "rollback-migration" {
		if err := database.RollbackMigration(cfg.Database); err != nil {
			logger.WithError(err).Fatal("Failed to roll back migration")
		}
		logger.Info("Rolled back last migration")
		return
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := database.RunMigrations(cfg.Database); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}

	provider, err := openai.NewProvider(cfg.OpenAI)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize AI provider")
	}

	conversationRepo := postgres.NewConversationRepository(db.DB)
	messageRepo := postgres.NewMessageRepository(db.DB, int64(cfg.Limits.MaxMessagesPerThread))

	svc, err := services.NewServices(cfg, provider, conversationRepo, messageRepo, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize services")
	}

	// Image uploads are optional: without a bucket the endpoint is absent.
	var imageService *images.Service
	if cfg.Storage.Bucket != "" {
		uploader, err := objectstore.NewClient(context.Background(), cfg.Storage)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize object storage")
		}
		defer uploader.Close()
		imageService = images.NewService(uploader, logger,
			cfg.Limits.MaxImageSizeBytes, cfg.Limits.ImageUploadConcurrency)
	}

	app := fiber.New(fiber.Config{
		AppName: "Ajeer Chat Backend",
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: getOrigins(),
		AllowHeaders: "Origin, Content-Type, Accept, Accept-Language",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	api.SetupRoutes(app, cfg, svc, imageService, logger)

	// Drain buffered assistant output before the process exits so nothing
	// a client already saw streamed is lost from the durable log.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-shutdown
		logger.WithField("signal", sig.String()).Info("Shutting down")

		// Stop accepting traffic before tearing down the workers behind it.
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).Error("Server shutdown failed")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := svc.Shutdown(ctx); err != nil {
			logger.WithError(err).Error("Batcher drain timed out during shutdown")
		}
		if imageService != nil {
			imageService.Close()
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.WithField("addr", addr).Info("Ajeer backend starting")
	if err := app.Listen(addr); err != nil {
		logger.WithError(err).Fatal("Failed to start server")
	}
}

func getOrigins() string {
	origins := os.Getenv("AJEER_CORS_ORIGINS")
	if origins == "" {
		return "http://localhost:5173,http://localhost:3000"
	}
	return origins
}
