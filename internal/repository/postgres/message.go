package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/ajeer/ajeer-backend/internal/repository"
)

// MessageRepository implements repository.MessageRepository using
// PostgreSQL. Sequence allocation and message writes share one transaction;
// the counter row is locked FOR UPDATE so concurrent writers on the same
// conversation serialize and no sequence number is ever assigned twice.
type MessageRepository struct {
	db              *sqlx.DB
	maxUserMessages int64
}

// NewMessageRepository creates a new PostgreSQL message repository.
// maxUserMessages <= 0 disables the per-conversation user-message cap.
func NewMessageRepository(db *sqlx.DB, maxUserMessages int64) repository.MessageRepository {
	return &MessageRepository{db: db, maxUserMessages: maxUserMessages}
}

// WriteImmediate commits a single message, returning its sequence number.
func (r *MessageRepository) WriteImmediate(ctx context.Context, conversationID string, msg repository.NewMessage) (int64, error) {
	var seq int64
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		counter, err := lockCounter(ctx, tx, conversationID)
		if err != nil {
			return err
		}

		userDelta := int64(0)
		if msg.Author == "user" {
			if r.maxUserMessages > 0 && counter.UserMessageCount >= r.maxUserMessages {
				return repository.ErrMessageLimit
			}
			userDelta = 1
		}

		seq = counter.LastSeqID + 1
		if err := insertMessage(ctx, tx, conversationID, seq, msg); err != nil {
			return err
		}

		return advanceCounter(ctx, tx, conversationID, seq, userDelta)
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// WriteBatch commits all messages in input order with consecutive sequence
// numbers, or none of them.
func (r *MessageRepository) WriteBatch(ctx context.Context, conversationID string, msgs []repository.NewMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		counter, err := lockCounter(ctx, tx, conversationID)
		if err != nil {
			return err
		}

		seq := counter.LastSeqID
		userDelta := int64(0)
		for _, msg := range msgs {
			seq++
			if msg.Author == "user" {
				userDelta++
			}
			if err := insertMessage(ctx, tx, conversationID, seq, msg); err != nil {
				return err
			}
		}

		return advanceCounter(ctx, tx, conversationID, seq, userDelta)
	})
}

// ListByConversation retrieves messages ordered by sequence number
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]repository.Message, error) {
	var messages []repository.Message
	query := `
		SELECT conversation_id, seq_id, author, content, image_url, created_at, received_at_ms
		FROM messages
		WHERE conversation_id = $1
		ORDER BY seq_id ASC
	`

	err := r.db.SelectContext(ctx, &messages, query, conversationID)
	if err != nil {
		return nil, err
	}

	return messages, nil
}

// Counter returns the current counter state for a conversation
func (r *MessageRepository) Counter(ctx context.Context, conversationID string) (*repository.Counter, error) {
	var counter repository.Counter
	query := `
		SELECT conversation_id, last_seq_id, user_message_count
		FROM conversation_counters
		WHERE conversation_id = $1
	`

	err := r.db.GetContext(ctx, &counter, query, conversationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return &counter, nil
}

func (r *MessageRepository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func lockCounter(ctx context.Context, tx *sqlx.Tx, conversationID string) (*repository.Counter, error) {
	var counter repository.Counter
	err := tx.GetContext(ctx, &counter, `
		SELECT conversation_id, last_seq_id, user_message_count
		FROM conversation_counters
		WHERE conversation_id = $1
		FOR UPDATE
	`, conversationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &counter, nil
}

func insertMessage(ctx context.Context, tx *sqlx.Tx, conversationID string, seq int64, msg repository.NewMessage) error {
	receivedAt := msg.ReceivedAtMs
	if receivedAt == 0 {
		receivedAt = time.Now().UnixMilli()
	}

	imageURL := sql.NullString{}
	if msg.ImageURL != "" {
		imageURL = sql.NullString{String: msg.ImageURL, Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, seq_id, author, content, image_url, created_at, received_at_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, conversationID, seq, msg.Author, msg.Content, imageURL,
		repository.FormatCreatedAt(receivedAt), receivedAt)
	return err
}

func advanceCounter(ctx context.Context, tx *sqlx.Tx, conversationID string, lastSeq, userDelta int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE conversation_counters
		SET last_seq_id = $2, user_message_count = user_message_count + $3
		WHERE conversation_id = $1
	`, conversationID, lastSeq, userDelta)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = NOW() WHERE id = $1`, conversationID)
	return err
}
