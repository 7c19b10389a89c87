package handlers

import (
	"bufio"
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/ajeer/ajeer-backend/internal/api/middleware"
	"github.com/ajeer/ajeer-backend/internal/api/sse"
	"github.com/ajeer/ajeer-backend/internal/apperr"
	"github.com/ajeer/ajeer-backend/internal/services"
)

// MessageHandler serves message submission and history.
type MessageHandler struct {
	svc         *services.Services
	logger      *logrus.Logger
	development bool
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(svc *services.Services, logger *logrus.Logger, development bool) *MessageHandler {
	return &MessageHandler{svc: svc, logger: logger, development: development}
}

type addMessageRequest struct {
	UserID       string `json:"userId"`
	UserIDAlt    string `json:"user_Id"`
	ThreadID     string `json:"threadId"`
	ThreadIDAlt  string `json:"thread_Id"`
	Message      string `json:"message"`
	ImageURL     string `json:"imageUrl"`
	Language     string `json:"language"`
}

func (r *addMessageRequest) userID() string {
	if r.UserID != "" {
		return r.UserID
	}
	return r.UserIDAlt
}

func (r *addMessageRequest) threadID() string {
	if r.ThreadID != "" {
		return r.ThreadID
	}
	return r.ThreadIDAlt
}

// AddMessage handles POST /api/create-messages: persist the user message
// immediately, append it to the provider thread, then stream the reply.
func (h *MessageHandler) AddMessage(c *fiber.Ctx) error {
	requestID := middleware.RequestID(c)
	locale := middleware.GetLocale(c)
	startTime := middleware.StartTime(c)

	var req addMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, requestID,
			apperr.Validation(apperr.CodeFieldRequired, map[string]interface{}{"locale": locale}))
	}

	userID := req.userID()
	conversationID := req.threadID()

	err := h.svc.Messages.AddMessage(c.Context(), userID, conversationID, req.Message, req.ImageURL, locale, requestID)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"requestId":      requestID,
			"conversationId": conversationID,
			"error":          err.Error(),
		}).Error("Message processing failed")
		return errorJSON(c, requestID, err)
	}

	h.logger.WithFields(logrus.Fields{
		"requestId":      requestID,
		"conversationId": conversationID,
		"processingTime": time.Since(startTime).String(),
	}).Debug("Message processing completed")

	sse.SetHeaders(c)
	c.Status(fiber.StatusCreated)

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		writer := sse.NewWriter(w, requestID)
		if err := writer.Start(conversationID); err != nil {
			return
		}
		if err := writer.MetaMessage(conversationID, userID); err != nil {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sub, err := h.svc.Threads.OpenReplyStream(ctx, conversationID)
		if err != nil {
			_ = writer.Error(apperr.Sanitize(err, h.development))
			return
		}

		session := h.svc.NewSession(conversationID, requestID, locale, sub, writer, nil)
		state := session.Run(ctx)

		h.logger.WithFields(logrus.Fields{
			"requestId":      requestID,
			"conversationId": conversationID,
			"state":          state.String(),
		}).Debug("Stream session finished")
	})
	return nil
}

// FetchMessages handles POST /api/fetch-messages.
func (h *MessageHandler) FetchMessages(c *fiber.Ctx) error {
	requestID := middleware.RequestID(c)
	locale := middleware.GetLocale(c)

	var req addMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, requestID,
			apperr.Validation(apperr.CodeFieldRequired, map[string]interface{}{"locale": locale}))
	}

	h.logger.WithFields(logrus.Fields{
		"requestId":      requestID,
		"userId":         req.userID(),
		"conversationId": req.threadID(),
	}).Info("Fetch messages request")

	messages, err := h.svc.Messages.FetchMessages(c.Context(), req.userID(), req.threadID(), locale)
	if err != nil {
		return errorJSON(c, requestID, err)
	}

	h.logger.WithFields(logrus.Fields{
		"requestId":      requestID,
		"conversationId": req.threadID(),
		"count":          len(messages),
	}).Info("Messages fetched")

	return c.JSON(fiber.Map{"messages": messages})
}

// devMode widens error payloads with internal detail. Set once at route
// setup, before the server accepts traffic.
var devMode bool

// SetDevelopment toggles development-mode error verbosity.
func SetDevelopment(enabled bool) {
	devMode = enabled
}

// errorJSON writes the pre-stream structured error response. Used only
// before SSE headers are committed.
func errorJSON(c *fiber.Ctx, requestID string, err error) error {
	safe := apperr.Sanitize(err, devMode)
	return c.Status(apperr.StatusOf(err)).JSON(fiber.Map{
		"success":   false,
		"error":     safe,
		"requestId": requestID,
	})
}
