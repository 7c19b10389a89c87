package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ajeer/ajeer-backend/internal/apperr"
	"github.com/ajeer/ajeer-backend/internal/batcher"
	"github.com/ajeer/ajeer-backend/internal/providers"
)

// EventSink is the client-facing side of a streaming session. Token must
// return an error once the client connection is gone so the session can
// transition to its disconnected state.
type EventSink interface {
	Token(token string) error
	End() error
	Error(safe apperr.SafeError) error
}

// SessionState is the streaming session's lifecycle state.
type SessionState int

const (
	StateStarting SessionState = iota
	StateStreaming
	// Terminal states. Exactly one is reached per session, and every
	// terminal path attempts a durable flush of buffered output.
	StateEnded
	StateErrored
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateEnded:
		return "ended"
	case StateErrored:
		return "errored"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// StreamSession binds one client connection to one AI reply stream. Deltas
// are forwarded to the client and, independently, enqueued for durable
// batching; a slow storage path never delays token delivery.
type StreamSession struct {
	conversationID string
	requestID      string
	locale         string
	sub            providers.Subscription
	sink           EventSink
	batcher        *batcher.Batcher
	logger         *logrus.Logger
	development    bool
	flushTimeout   time.Duration

	// onErrored clears any session-level thread association after a
	// stream error. Optional.
	onErrored func()

	state SessionState
}

// StreamSessionParams configures a StreamSession.
type StreamSessionParams struct {
	ConversationID string
	RequestID      string
	Locale         string
	Subscription   providers.Subscription
	Sink           EventSink
	Batcher        *batcher.Batcher
	Logger         *logrus.Logger
	Development    bool
	FlushTimeout   time.Duration
	OnErrored      func()
}

// NewStreamSession creates a session in the starting state.
func NewStreamSession(p StreamSessionParams) *StreamSession {
	if p.FlushTimeout <= 0 {
		p.FlushTimeout = 10 * time.Second
	}
	if p.Logger == nil {
		p.Logger = logrus.StandardLogger()
	}
	return &StreamSession{
		conversationID: p.ConversationID,
		requestID:      p.RequestID,
		locale:         p.Locale,
		sub:            p.Subscription,
		sink:           p.Sink,
		batcher:        p.Batcher,
		logger:         p.Logger,
		development:    p.Development,
		flushTimeout:   p.FlushTimeout,
		onErrored:      p.OnErrored,
		state:          StateStarting,
	}
}

// State returns the session's current state.
func (s *StreamSession) State() SessionState {
	return s.state
}

// Run consumes the reply stream until a terminal transition. ctx
// cancellation is the client-disconnect signal. Returns the terminal
// state reached.
func (s *StreamSession) Run(ctx context.Context) SessionState {
	s.state = StateStreaming
	s.logger.WithFields(logrus.Fields{
		"requestId":      s.requestID,
		"conversationId": s.conversationID,
	}).Debug("Stream session started")

	for {
		select {
		case <-ctx.Done():
			return s.disconnected()

		case ev, ok := <-s.sub.Events():
			if !ok {
				// Provider closed the stream without a terminal event;
				// treat it as a normal end so buffered output still lands.
				return s.ended()
			}

			switch ev.Type {
			case providers.EventDelta:
				if done := s.handleDelta(ev.Delta); done {
					return s.disconnected()
				}

			case providers.EventEnd:
				return s.ended()

			case providers.EventError:
				return s.errored(ev.Err)
			}
		}
	}
}

// handleDelta forwards one token to the client and enqueues it for
// durability. The two paths are independent: an enqueue problem is logged
// and swallowed, and only a dead client connection stops the stream.
func (s *StreamSession) handleDelta(delta string) (disconnected bool) {
	if err := s.sink.Token(delta); err != nil {
		s.logger.WithFields(logrus.Fields{
			"requestId":      s.requestID,
			"conversationId": s.conversationID,
			"error":          err.Error(),
		}).Warn("Client write failed mid-stream")
		return true
	}

	s.batcher.Add(s.conversationID, batcher.Item{
		Author:  "assistant",
		Content: delta,
	})
	return false
}

func (s *StreamSession) ended() SessionState {
	s.flushBuffered("stream end")
	if err := s.sink.End(); err != nil {
		s.logger.WithFields(logrus.Fields{
			"requestId":      s.requestID,
			"conversationId": s.conversationID,
			"error":          err.Error(),
		}).Debug("End event not delivered")
	}
	s.state = StateEnded
	return s.state
}

func (s *StreamSession) errored(cause error) SessionState {
	s.logger.WithFields(logrus.Fields{
		"requestId":      s.requestID,
		"conversationId": s.conversationID,
		"error":          errString(cause),
	}).Error("Stream error")

	s.flushBuffered("stream error")

	if s.onErrored != nil {
		s.onErrored()
	}

	safe := apperr.Sanitize(s.mapStreamError(cause), s.development)
	if err := s.sink.Error(safe); err != nil {
		s.logger.WithFields(logrus.Fields{
			"requestId": s.requestID,
			"error":     err.Error(),
		}).Debug("Error event not delivered")
	}
	s.state = StateErrored
	return s.state
}

// disconnected handles the client going away before the stream finished:
// stop consuming upstream, then make sure nothing buffered is stranded.
func (s *StreamSession) disconnected() SessionState {
	s.logger.WithFields(logrus.Fields{
		"requestId":      s.requestID,
		"conversationId": s.conversationID,
	}).Warn("Client disconnected prematurely")

	s.sub.Stop()
	s.flushBuffered("client disconnect")
	s.state = StateDisconnected
	return s.state
}

// flushBuffered force-flushes the conversation's buffer. Failure here is
// logged, never re-thrown: terminal paths must complete.
func (s *StreamSession) flushBuffered(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.flushTimeout)
	defer cancel()

	if err := s.batcher.FlushAll(ctx, s.conversationID); err != nil {
		s.logger.WithFields(logrus.Fields{
			"requestId":      s.requestID,
			"conversationId": s.conversationID,
			"reason":         reason,
			"error":          err.Error(),
		}).Error("Flush on terminal path failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"requestId":      s.requestID,
		"conversationId": s.conversationID,
		"reason":         reason,
	}).Debug("Buffer flushed")
}

func (s *StreamSession) mapStreamError(cause error) error {
	if errors.Is(cause, providers.ErrTimeout) {
		return apperr.Processing(apperr.CodeProviderTimeout, map[string]interface{}{"locale": s.locale}).WithCause(cause)
	}
	return apperr.Processing(apperr.CodeProviderError, map[string]interface{}{"locale": s.locale}).WithCause(cause)
}

func errString(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}
