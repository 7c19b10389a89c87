package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ajeer/ajeer-backend/internal/batcher"
	"github.com/ajeer/ajeer-backend/internal/config"
	"github.com/ajeer/ajeer-backend/internal/providers"
	"github.com/ajeer/ajeer-backend/internal/repository"
)

// Services aggregates the application services around one shared batcher.
type Services struct {
	Threads  *ThreadService
	Messages *MessageService
	Batcher  *batcher.Batcher

	logger      *logrus.Logger
	development bool
}

// NewServices wires the services. The batcher's flush callback is the
// durable multi-message writer, so buffered assistant output commits
// transactionally with gap-free sequence numbers.
func NewServices(
	cfg *config.Config,
	provider providers.ThreadProvider,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	logger *logrus.Logger,
) (*Services, error) {
	flush := func(ctx context.Context, conversationID string, items []batcher.Item) error {
		batch := make([]repository.NewMessage, len(items))
		for i, it := range items {
			batch[i] = repository.NewMessage{
				Author:       it.Author,
				Content:      it.Content,
				ImageURL:     it.ImageURL,
				ReceivedAtMs: it.ReceivedAtMs,
			}
		}
		return messages.WriteBatch(ctx, conversationID, batch)
	}

	b, err := batcher.New(flush, batcher.Options{
		BatchSize:  cfg.Batch.Size,
		MaxDelay:   time.Duration(cfg.Batch.MaxDelayMs) * time.Millisecond,
		RetryDelay: time.Duration(cfg.Batch.RetryDelayMs) * time.Millisecond,
		MaxRetries: cfg.Batch.MaxRetries,
	}, logger)
	if err != nil {
		return nil, err
	}

	return &Services{
		Threads: NewThreadService(provider, conversations, messages, logger,
			cfg.Limits.MaxMessageLength, cfg.Limits.MaxMessagesPerThread),
		Messages: NewMessageService(provider, conversations, messages, logger,
			cfg.Limits.MaxMessageLength, cfg.Limits.MaxMessagesPerThread),
		Batcher:     b,
		logger:      logger,
		development: cfg.Development,
	}, nil
}

// NewSession builds a streaming session bound to the shared batcher.
func (s *Services) NewSession(conversationID, requestID, locale string, sub providers.Subscription, sink EventSink, onErrored func()) *StreamSession {
	return NewStreamSession(StreamSessionParams{
		ConversationID: conversationID,
		RequestID:      requestID,
		Locale:         locale,
		Subscription:   sub,
		Sink:           sink,
		Batcher:        s.Batcher,
		Logger:         s.logger,
		Development:    s.development,
		OnErrored:      onErrored,
	})
}

// Shutdown drains every buffered conversation before the process exits.
func (s *Services) Shutdown(ctx context.Context) error {
	return s.Batcher.DrainAll(ctx)
}
