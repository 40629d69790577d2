package postgres

import (
	"context"
	"errors"
	"time"

	"marketplace-backend/internal/models"
	"marketplace-backend/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const messageColumns = `id, chat_id, sender_username, text, status, created_at`

type messageRepo struct {
	pool *pgxpool.Pool
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	var status string
	if err := row.Scan(&m.ID, &m.ChatID, &m.SenderUsername, &m.Text, &status, &m.CreatedAt); err != nil {
		return nil, classify(err)
	}
	m.Status = models.MessageStatus(status)
	return &m, nil
}

func (r messageRepo) Append(ctx context.Context, m *models.Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Status == "" || m.Status == models.MessageSending {
		m.Status = models.MessageSent
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	// Lock the conversation row so appends to one chat are serialized and
	// timestamps stay strictly increasing.
	var chatID string
	err = tx.QueryRow(ctx, `SELECT id FROM conversations WHERE id = $1 FOR UPDATE`, m.ChatID).Scan(&chatID)
	if err != nil {
		return classify(err)
	}

	insert := `INSERT INTO messages (id, chat_id, sender_username, text, status, created_at)
		SELECT $1, $2, $3, $4, $5,
			GREATEST(clock_timestamp(), COALESCE(max(created_at) + interval '1 microsecond', '-infinity'))
		FROM messages WHERE chat_id = $2
		RETURNING created_at`
	err = tx.QueryRow(ctx, insert, m.ID, m.ChatID, m.SenderUsername, m.Text, string(m.Status)).Scan(&m.CreatedAt)
	if err != nil {
		return classify(err)
	}

	_, err = tx.Exec(ctx, `UPDATE conversations SET last_message = $2, updated_at = $3 WHERE id = $1`,
		m.ChatID, m.Text, m.CreatedAt)
	if err != nil {
		return classify(err)
	}

	return classify(tx.Commit(ctx))
}

func (r messageRepo) GetByID(ctx context.Context, id string) (*models.Message, error) {
	return scanMessage(r.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
}

func (r messageRepo) List(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM (
			SELECT ` + messageColumns + ` FROM messages WHERE chat_id = $1 ORDER BY created_at DESC LIMIT $2
		) recent ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, chatID, limitArg(limit))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, classify(rows.Err())
}

func (r messageRepo) Advance(ctx context.Context, id string, status models.MessageStatus) (*models.Message, error) {
	query := `UPDATE messages SET status = $2
		WHERE id = $1 AND (CASE status
			WHEN 'sending' THEN 0 WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 ELSE 3 END) < $3
		RETURNING ` + messageColumns
	m, err := scanMessage(r.pool.QueryRow(ctx, query, id, string(status), status.Rank()))
	if errors.Is(err, store.ErrNotFound) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, store.ErrStaleStatus
	}
	return m, err
}

func (r messageRepo) MarkReadBefore(ctx context.Context, chatID, reader string, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE messages SET status = 'read'
		WHERE chat_id = $1 AND sender_username <> $2 AND created_at <= $3 AND status <> 'read'`,
		chatID, reader, before)
	if err != nil {
		return 0, classify(err)
	}
	return tag.RowsAffected(), nil
}
