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

// Compile-time check: the SSE writer is the session's client sink.
var _ services.EventSink = (*sse.Writer)(nil)

// ThreadHandler serves conversation creation.
type ThreadHandler struct {
	svc         *services.Services
	logger      *logrus.Logger
	development bool
}

// NewThreadHandler creates a new thread handler
func NewThreadHandler(svc *services.Services, logger *logrus.Logger, development bool) *ThreadHandler {
	return &ThreadHandler{svc: svc, logger: logger, development: development}
}

type createThreadRequest struct {
	UserID   string `json:"user_Id"`
	Message  string `json:"message"`
	Language string `json:"language"`
}

// CreateThread handles POST /api/create-threads: create the conversation,
// process the initial message, then stream the assistant reply over SSE.
// Everything that can fail with an HTTP error runs before the channel
// opens; once streaming starts, failures are in-band events.
func (h *ThreadHandler) CreateThread(c *fiber.Ctx) error {
	requestID := middleware.RequestID(c)
	locale := middleware.GetLocale(c)
	startTime := middleware.StartTime(c)

	var req createThreadRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, requestID,
			apperr.Validation(apperr.CodeFieldRequired, map[string]interface{}{"locale": locale}))
	}

	meta, err := h.svc.Threads.CreateConversation(c.Context(), req.UserID, req.Message, locale, requestID)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"requestId": requestID,
			"error":     err.Error(),
		}).Error("Thread creation failed")
		return errorJSON(c, requestID, err)
	}

	h.logger.WithFields(logrus.Fields{
		"requestId":      requestID,
		"conversationId": meta.ConversationID,
		"duration":       time.Since(startTime).String(),
	}).Info("Conversation created")

	// All fallible setup succeeded; commit to streaming.
	sse.SetHeaders(c)
	c.Status(fiber.StatusCreated)

	h.streamReply(c, meta.ConversationID, requestID, locale, func(w *sse.Writer) error {
		if err := w.Start(meta.ConversationID); err != nil {
			return err
		}
		return w.MetaThread(meta.ConversationID, meta.UserID, meta.IsGuest)
	})
	return nil
}

// streamReply runs the streaming session inside fiber's body stream
// writer. Client disconnect surfaces as a write/flush error on the sink.
func (h *ThreadHandler) streamReply(c *fiber.Ctx, conversationID, requestID, locale string, preamble func(*sse.Writer) error) {
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		writer := sse.NewWriter(w, requestID)
		if err := preamble(writer); err != nil {
			h.logger.WithFields(logrus.Fields{
				"requestId":      requestID,
				"conversationId": conversationID,
				"error":          err.Error(),
			}).Warn("Client gone before streaming started")
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sub, err := h.svc.Threads.OpenReplyStream(ctx, conversationID)
		if err != nil {
			// Headers are committed; report in-band.
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
}
