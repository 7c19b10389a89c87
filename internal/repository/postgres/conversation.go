package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/ajeer/ajeer-backend/internal/repository"
)

// ConversationRepository implements repository.ConversationRepository using PostgreSQL
type ConversationRepository struct {
	db *sqlx.DB
}

// NewConversationRepository creates a new PostgreSQL conversation repository
func NewConversationRepository(db *sqlx.DB) repository.ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create inserts the conversation record plus its zero-initialized counter.
// Both rows commit together so a conversation is never visible without a
// sequence allocator.
func (r *ConversationRepository) Create(ctx context.Context, conv repository.Conversation) error {
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO conversations (id, user_id, is_guest, created_at, updated_at)
		VALUES (:id, :user_id, :is_guest, :created_at, :updated_at)
	`, conv)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversation_counters (conversation_id, last_seq_id, user_message_count)
		VALUES ($1, 0, 0)
	`, conv.ID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// Get retrieves a conversation by ID
func (r *ConversationRepository) Get(ctx context.Context, id string) (*repository.Conversation, error) {
	var conv repository.Conversation
	query := `
		SELECT id, user_id, is_guest, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`

	err := r.db.GetContext(ctx, &conv, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return &conv, nil
}
