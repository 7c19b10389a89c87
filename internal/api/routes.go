package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/ajeer/ajeer-backend/internal/api/handlers"
	"github.com/ajeer/ajeer-backend/internal/api/middleware"
	"github.com/ajeer/ajeer-backend/internal/config"
	"github.com/ajeer/ajeer-backend/internal/images"
	"github.com/ajeer/ajeer-backend/internal/services"
)

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, cfg *config.Config, svc *services.Services, imageService *images.Service, logger *logrus.Logger) {
	handlers.SetDevelopment(cfg.Development)

	threadHandler := handlers.NewThreadHandler(svc, logger, cfg.Development)
	messageHandler := handlers.NewMessageHandler(svc, logger, cfg.Development)

	api := app.Group("/api",
		middleware.RequestTracker(),
		middleware.Locale(),
		middleware.RateLimit(cfg.Limits.RequestsPerMinute),
	)

	api.Post("/create-threads", threadHandler.CreateThread)
	api.Post("/create-messages", messageHandler.AddMessage)
	api.Post("/fetch-messages", messageHandler.FetchMessages)

	if imageService != nil {
		imageHandler := handlers.NewImageHandler(imageService, logger)
		api.Post("/upload-image", imageHandler.UploadImage)
	}

	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.SendString("pong")
	})
}
