package services

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"github.com/ajeer/ajeer-backend/internal/apperr"
	"github.com/ajeer/ajeer-backend/internal/providers"
	"github.com/ajeer/ajeer-backend/internal/repository"
)

// ConversationMeta identifies a freshly created conversation.
type ConversationMeta struct {
	ConversationID string
	UserID         string
	IsGuest        bool
}

// ThreadService creates conversations: AI-side thread, store record with a
// zero-initialized sequence counter, and the initial message.
type ThreadService struct {
	provider         providers.ThreadProvider
	conversations    repository.ConversationRepository
	messages         repository.MessageRepository
	logger           *logrus.Logger
	maxMessageLength int
	maxMessages      int
}

// NewThreadService creates a new thread service
func NewThreadService(provider providers.ThreadProvider, conversations repository.ConversationRepository, messages repository.MessageRepository, logger *logrus.Logger, maxMessageLength, maxMessages int) *ThreadService {
	return &ThreadService{
		provider:         provider,
		conversations:    conversations,
		messages:         messages,
		logger:           logger,
		maxMessageLength: maxMessageLength,
		maxMessages:      maxMessages,
	}
}

// CreateConversation determines identity, creates the provider thread and
// the store record, then processes the initial message. Any failure here
// is fatal to the request: no partial conversation is exposed.
func (s *ThreadService) CreateConversation(ctx context.Context, rawUserID, message, locale, requestID string) (*ConversationMeta, error) {
	message, err := ValidateMessage(message, s.maxMessageLength, locale)
	if err != nil {
		return nil, err
	}

	isGuest := rawUserID == ""
	userID := rawUserID
	if isGuest {
		userID = uuid.NewString()
		s.logger.WithFields(logrus.Fields{
			"requestId": requestID,
			"guestId":   userID,
		}).Debug("Generated guest user ID")
	} else if err := ValidateID(userID, locale); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"requestId": requestID,
		"userId":    userID,
		"isGuest":   isGuest,
	}).Info("Creating conversation")

	conversationID, err := s.provider.CreateThread(ctx)
	if err != nil {
		return nil, apperr.Processing(apperr.CodeProviderError,
			map[string]interface{}{"locale": locale}).WithCause(err)
	}

	conv := repository.Conversation{
		ID:      conversationID,
		IsGuest: isGuest,
		UserID:  sql.NullString{String: userID, Valid: true},
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, apperr.Processing(apperr.CodeDatabaseError,
			map[string]interface{}{"locale": locale}).WithCause(err)
	}

	if err := s.processInitialMessage(ctx, conversationID, message, locale, requestID); err != nil {
		return nil, err
	}

	return &ConversationMeta{
		ConversationID: conversationID,
		UserID:         userID,
		IsGuest:        isGuest,
	}, nil
}

// processInitialMessage submits the first message through the same
// append-and-persist path used for every later message: provider append
// and immediate durable write run concurrently.
func (s *ThreadService) processInitialMessage(ctx context.Context, conversationID, message, locale, requestID string) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.provider.AppendMessage(gctx, conversationID, providers.ThreadMessage{
			Role:     "user",
			Segments: []providers.Segment{{Type: "text", Text: message}},
		})
		if err != nil {
			return providerAppErr(err, locale)
		}
		return nil
	})

	g.Go(func() error {
		_, err := s.messages.WriteImmediate(gctx, conversationID, repository.NewMessage{
			Author:  "user",
			Content: message,
		})
		if err != nil {
			return storageAppErr(err, locale, s.maxMessages)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		s.logger.WithFields(logrus.Fields{
			"requestId":      requestID,
			"conversationId": conversationID,
			"error":          err.Error(),
		}).Error("Initial message handling failed")
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"requestId":      requestID,
		"conversationId": conversationID,
		"messageLength":  len(message),
	}).Info("Initial message processed")
	return nil
}

// OpenReplyStream subscribes to the provider's reply stream for a
// conversation.
func (s *ThreadService) OpenReplyStream(ctx context.Context, conversationID string) (providers.Subscription, error) {
	return s.provider.StreamReplies(ctx, conversationID)
}

func providerAppErr(err error, locale string) error {
	if errors.Is(err, providers.ErrTimeout) {
		return apperr.Processing(apperr.CodeProviderTimeout,
			map[string]interface{}{"locale": locale}).WithCause(err)
	}
	return apperr.Processing(apperr.CodeProviderError,
		map[string]interface{}{"locale": locale}).WithCause(err)
}

func storageAppErr(err error, locale string, maxMessages int) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(apperr.CodeThreadNotFound,
			map[string]interface{}{"locale": locale})
	case errors.Is(err, repository.ErrMessageLimit):
		return apperr.Validation(apperr.CodeMessageLimit,
			map[string]interface{}{"locale": locale, "max": maxMessages})
	default:
		return apperr.Processing(apperr.CodeDatabaseError,
			map[string]interface{}{"locale": locale}).WithCause(err)
	}
}
