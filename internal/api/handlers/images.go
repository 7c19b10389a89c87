package handlers

import (
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/ajeer/ajeer-backend/internal/api/middleware"
	"github.com/ajeer/ajeer-backend/internal/apperr"
	"github.com/ajeer/ajeer-backend/internal/images"
)

// ImageHandler serves image uploads.
type ImageHandler struct {
	images *images.Service
	logger *logrus.Logger
}

// NewImageHandler creates a new image handler
func NewImageHandler(imageService *images.Service, logger *logrus.Logger) *ImageHandler {
	return &ImageHandler{images: imageService, logger: logger}
}

// UploadImage handles POST /api/upload-image: validate the multipart
// image, enqueue it for background upload, and answer 202 with a job id.
func (h *ImageHandler) UploadImage(c *fiber.Ctx) error {
	requestID := middleware.RequestID(c)
	locale := middleware.GetLocale(c)

	fileHeader, err := c.FormFile("image")
	if err != nil {
		return errorJSON(c, requestID,
			apperr.Validation(apperr.CodeFieldRequired, map[string]interface{}{"locale": locale}))
	}

	file, err := fileHeader.Open()
	if err != nil {
		return errorJSON(c, requestID,
			apperr.Processing(apperr.CodeInternal, map[string]interface{}{"locale": locale}).WithCause(err))
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return errorJSON(c, requestID,
			apperr.Processing(apperr.CodeInternal, map[string]interface{}{"locale": locale}).WithCause(err))
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	h.logger.WithFields(logrus.Fields{
		"requestId": requestID,
		"filename":  fileHeader.Filename,
		"mimeType":  mimeType,
		"size":      len(data),
	}).Debug("Image upload received")

	jobID, err := h.images.Enqueue(data, fileHeader.Filename, mimeType, locale)
	if err != nil {
		return errorJSON(c, requestID, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success":   true,
		"jobId":     jobID,
		"requestId": requestID,
	})
}
