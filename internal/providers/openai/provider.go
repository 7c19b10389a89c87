package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/ajeer/ajeer-backend/internal/config"
	"github.com/ajeer/ajeer-backend/internal/providers"
)

// Provider implements providers.ThreadProvider against OpenAI. Thread
// identity and message history live in the Threads API; replies are
// generated with chat-completion streaming over the thread's history.
type Provider struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewProvider creates a new OpenAI thread provider
func NewProvider(cfg config.OpenAIConfig) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Provider{
		client:  openai.NewClient(cfg.APIKey),
		model:   cfg.Model,
		timeout: timeout,
	}, nil
}

// CreateThread creates a new provider thread and returns its id
func (p *Provider) CreateThread(ctx context.Context) (string, error) {
	thread, err := p.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return thread.ID, nil
}

// AppendMessage adds a message to the thread, bounded by the configured
// timeout. On deadline the call reports providers.ErrTimeout even though
// the underlying request may still complete.
func (p *Provider) AppendMessage(ctx context.Context, threadID string, msg providers.ThreadMessage) error {
	if threadID == "" {
		return errors.New("threadID is required")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err := p.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    msg.Role,
		Content: flattenSegments(msg.Segments),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("append message to %s: %w", threadID, providers.ErrTimeout)
		}
		return fmt.Errorf("append message to %s: %w", threadID, err)
	}
	return nil
}

// StreamReplies generates the assistant reply for the thread's current
// history and streams its deltas.
func (p *Provider) StreamReplies(ctx context.Context, threadID string) (providers.Subscription, error) {
	if threadID == "" {
		return nil, errors.New("threadID is required")
	}

	streamCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		events: make(chan providers.Event),
		cancel: cancel,
	}

	go sub.run(streamCtx, p, threadID)

	return sub, nil
}

func flattenSegments(segments []providers.Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		switch seg.Type {
		case "image_url":
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(seg.ImageURL)
		default:
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(seg.Text)
		}
	}
	return b.String()
}

// subscription adapts one chat-completion stream to providers.Subscription.
type subscription struct {
	events   chan providers.Event
	cancel   context.CancelFunc
	stopOnce sync.Once
}

func (s *subscription) Events() <-chan providers.Event {
	return s.events
}

// Stop cancels the upstream stream. The run goroutine emits its terminal
// event and closes the channel.
func (s *subscription) Stop() {
	s.stopOnce.Do(s.cancel)
}

func (s *subscription) run(ctx context.Context, p *Provider, threadID string) {
	defer close(s.events)
	defer s.cancel()

	history, err := p.threadHistory(ctx, threadID)
	if err != nil {
		s.emit(ctx, providers.Event{Type: providers.EventError, Err: err})
		return
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: history,
		Stream:   true,
	})
	if err != nil {
		s.emit(ctx, providers.Event{Type: providers.EventError, Err: err})
		return
	}
	defer stream.Close()

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			s.emit(ctx, providers.Event{Type: providers.EventEnd})
			return
		}
		if err != nil {
			s.emit(ctx, providers.Event{Type: providers.EventError, Err: err})
			return
		}

		if len(response.Choices) == 0 {
			continue
		}
		if delta := response.Choices[0].Delta.Content; delta != "" {
			if !s.emit(ctx, providers.Event{Type: providers.EventDelta, Delta: delta}) {
				return
			}
		}
	}
}

// emit delivers an event unless the subscription was stopped.
func (s *subscription) emit(ctx context.Context, ev providers.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Provider) threadHistory(ctx context.Context, threadID string) ([]openai.ChatCompletionMessage, error) {
	order := "asc"
	list, err := p.client.ListMessage(ctx, threadID, nil, &order, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("list thread messages: %w", err)
	}

	history := make([]openai.ChatCompletionMessage, 0, len(list.Messages))
	for _, msg := range list.Messages {
		var b strings.Builder
		for _, part := range msg.Content {
			if part.Text != nil {
				b.WriteString(part.Text.Value)
			}
		}
		history = append(history, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: b.String(),
		})
	}
	return history, nil
}
