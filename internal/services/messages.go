package services

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"github.com/ajeer/ajeer-backend/internal/apperr"
	"github.com/ajeer/ajeer-backend/internal/providers"
	"github.com/ajeer/ajeer-backend/internal/repository"
)

// MessageContent is the content part of the fetch-messages response.
type MessageContent struct {
	Text     string  `json:"text"`
	ImageURL *string `json:"imageUrl"`
}

// MessageView is one message in the fetch-messages response.
type MessageView struct {
	SeqID      int64          `json:"seqId"`
	Author     string         `json:"author"`
	Content    MessageContent `json:"content"`
	CreatedAt  string         `json:"createdAt"`
	ReceivedAt int64          `json:"receivedAt"`
}

// MessageService persists user messages immediately and serves ordered
// message history.
type MessageService struct {
	provider         providers.ThreadProvider
	conversations    repository.ConversationRepository
	messages         repository.MessageRepository
	logger           *logrus.Logger
	maxMessageLength int
	maxMessages      int
}

// NewMessageService creates a new message service
func NewMessageService(provider providers.ThreadProvider, conversations repository.ConversationRepository, messages repository.MessageRepository, logger *logrus.Logger, maxMessageLength, maxMessages int) *MessageService {
	return &MessageService{
		provider:         provider,
		conversations:    conversations,
		messages:         messages,
		logger:           logger,
		maxMessageLength: maxMessageLength,
		maxMessages:      maxMessages,
	}
}

// AddMessage persists the user message durably, appends it to the
// provider thread, and touches the conversation timestamp. Persist and
// append run concurrently; either failure fails the request before the
// reply stream is opened.
func (s *MessageService) AddMessage(ctx context.Context, userID, conversationID, message, imageURL, locale, requestID string) error {
	if err := ValidateID(userID, locale); err != nil {
		return err
	}
	if err := ValidateID(conversationID, locale); err != nil {
		return err
	}
	message, err := ValidateMessage(message, s.maxMessageLength, locale)
	if err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"requestId":      requestID,
		"userId":         userID,
		"conversationId": conversationID,
		"messageLength":  len(message),
	}).Info("Processing new message")

	segments := []providers.Segment{{Type: "text", Text: message}}
	if imageURL != "" {
		segments = append(segments, providers.Segment{Type: "image_url", ImageURL: imageURL})
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		_, err := s.messages.WriteImmediate(gctx, conversationID, repository.NewMessage{
			Author:   "user",
			Content:  message,
			ImageURL: imageURL,
		})
		if err != nil {
			return storageAppErr(err, locale, s.maxMessages)
		}
		return nil
	})

	g.Go(func() error {
		if err := s.provider.AppendMessage(gctx, conversationID, providers.ThreadMessage{
			Role:     "user",
			Segments: segments,
		}); err != nil {
			return providerAppErr(err, locale)
		}
		return nil
	})

	return g.Wait()
}

// FetchMessages verifies ownership and returns the conversation's messages
// in sequence order.
func (s *MessageService) FetchMessages(ctx context.Context, userID, conversationID, locale string) ([]MessageView, error) {
	if err := ValidateID(userID, locale); err != nil {
		return nil, err
	}
	if err := ValidateID(conversationID, locale); err != nil {
		return nil, err
	}

	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, storageAppErr(err, locale, s.maxMessages)
	}

	if conv.UserID.Valid && conv.UserID.String != userID {
		return nil, apperr.Forbidden(apperr.CodeForbidden,
			map[string]interface{}{"locale": locale})
	}

	msgs, err := s.messages.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, storageAppErr(err, locale, s.maxMessages)
	}

	views := make([]MessageView, len(msgs))
	for i, m := range msgs {
		var imageURL *string
		if m.ImageURL.Valid {
			u := m.ImageURL.String
			imageURL = &u
		}
		views[i] = MessageView{
			SeqID:      m.SeqID,
			Author:     m.Author,
			Content:    MessageContent{Text: m.Content, ImageURL: imageURL},
			CreatedAt:  m.CreatedAt,
			ReceivedAt: m.ReceivedAtMs,
		}
	}
	return views, nil
}
