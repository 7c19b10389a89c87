// Package providers abstracts the conversational-AI thread service: create
// a thread, append messages to it, and subscribe to a streamed reply.
package providers

import (
	"context"
	"errors"
)

// ErrTimeout marks a provider call that exceeded its deadline. The
// underlying request may still complete out-of-band; callers treat the
// call as failed regardless.
var ErrTimeout = errors.New("provider call timed out")

// Segment is one part of a message payload sent to the provider.
type Segment struct {
	Type     string // "text" or "image_url"
	Text     string
	ImageURL string
}

// ThreadMessage is a message appended to a provider thread.
type ThreadMessage struct {
	Role     string // "user" or "assistant"
	Segments []Segment
}

// EventType tags reply-stream events.
type EventType int

const (
	// EventDelta carries one incremental text fragment.
	EventDelta EventType = iota
	// EventEnd signals the reply completed normally. Terminal.
	EventEnd
	// EventError signals the stream failed. Terminal.
	EventError
)

// Event is one reply-stream event. Exactly one of Delta or Err is set
// depending on Type.
type Event struct {
	Type  EventType
	Delta string
	Err   error
}

// Subscription is a live reply stream. The Events channel is closed after
// a terminal event; Stop cancels the upstream stream and is safe to call
// more than once.
type Subscription interface {
	Events() <-chan Event
	Stop()
}

// ThreadProvider is the AI-thread service consumed by the orchestrator.
type ThreadProvider interface {
	// CreateThread creates a provider-side thread and returns its opaque id.
	CreateThread(ctx context.Context) (string, error)
	// AppendMessage adds a message to the thread. Fails with ErrTimeout
	// when the configured provider timeout elapses.
	AppendMessage(ctx context.Context, threadID string, msg ThreadMessage) error
	// StreamReplies starts generating the assistant reply for the thread's
	// current state and returns a subscription over its deltas.
	StreamReplies(ctx context.Context, threadID string) (Subscription, error)
}
