package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// ErrMessageLimit is returned when a user-message write would exceed the
// per-conversation message cap.
var ErrMessageLimit = errors.New("conversation message limit reached")

// Conversation mirrors an AI-provider thread in the store. The id is the
// opaque thread id issued by the provider.
type Conversation struct {
	ID        string         `db:"id"`
	UserID    sql.NullString `db:"user_id"`
	IsGuest   bool           `db:"is_guest"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

// Message is a committed, immutable message. SeqID is strictly increasing
// and gap-free within a conversation; ReceivedAtMs is authoritative for
// ordering, CreatedAt is the human-readable display timestamp.
type Message struct {
	ConversationID string         `db:"conversation_id"`
	SeqID          int64          `db:"seq_id"`
	Author         string         `db:"author"`
	Content        string         `db:"content"`
	ImageURL       sql.NullString `db:"image_url"`
	CreatedAt      string         `db:"created_at"`
	ReceivedAtMs   int64          `db:"received_at_ms"`
}

// NewMessage is an uncommitted message; sequence number and display
// timestamp are assigned at commit time.
type NewMessage struct {
	Author       string
	Content      string
	ImageURL     string
	ReceivedAtMs int64
}

// Counter is the per-conversation sequence allocator state. It is only
// mutated inside the same transaction that writes the messages consuming
// the next sequence values.
type Counter struct {
	ConversationID   string `db:"conversation_id"`
	LastSeqID        int64  `db:"last_seq_id"`
	UserMessageCount int64  `db:"user_message_count"`
}

// ConversationRepository defines conversation storage operations.
type ConversationRepository interface {
	// Create inserts the conversation record and its zero-initialized
	// counter in one transaction.
	Create(ctx context.Context, conv Conversation) error
	Get(ctx context.Context, id string) (*Conversation, error)
}

// MessageRepository defines the durable message writer. Both write methods
// run as a single transaction: read the counter, assign consecutive
// sequence numbers, write every message, persist the advanced counter.
type MessageRepository interface {
	// WriteImmediate commits one message and returns its sequence number.
	// User-authored writes count against the per-conversation limit.
	WriteImmediate(ctx context.Context, conversationID string, msg NewMessage) (int64, error)
	// WriteBatch commits all messages or none of them.
	WriteBatch(ctx context.Context, conversationID string, msgs []NewMessage) error
	ListByConversation(ctx context.Context, conversationID string) ([]Message, error)
	Counter(ctx context.Context, conversationID string) (*Counter, error)
}
