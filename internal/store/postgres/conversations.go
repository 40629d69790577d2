package postgres

import (
	"context"
	"errors"

	"marketplace-backend/internal/models"
	"marketplace-backend/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const conversationColumns = `id, listing_id, participant_a, participant_b, status, last_message, updated_at, created_at`

type convRepo struct {
	pool *pgxpool.Pool
}

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var c models.Conversation
	var status string
	err := row.Scan(&c.ID, &c.ListingID, &c.ParticipantA, &c.ParticipantB, &status, &c.LastMessage, &c.UpdatedAt, &c.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	c.Status = models.ConversationStatus(status)
	return &c, nil
}

func (r convRepo) Find(ctx context.Context, listingID, userA, userB string) (*models.Conversation, error) {
	a, b := models.OrderedPair(userA, userB)
	query := `SELECT ` + conversationColumns + ` FROM conversations
		WHERE listing_id = $1
		AND LEAST(participant_a, participant_b) = $2
		AND GREATEST(participant_a, participant_b) = $3`
	return scanConversation(r.pool.QueryRow(ctx, query, listingID, a, b))
}

func (r convRepo) Insert(ctx context.Context, c *models.Conversation) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = models.ConversationActive
	}
	c.ParticipantA, c.ParticipantB = models.OrderedPair(c.ParticipantA, c.ParticipantB)

	query := `INSERT INTO conversations (id, listing_id, participant_a, participant_b, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + conversationColumns
	saved, err := scanConversation(r.pool.QueryRow(ctx, query, c.ID, c.ListingID, c.ParticipantA, c.ParticipantB, string(c.Status)))
	if err != nil {
		return err
	}
	*c = *saved
	return nil
}

func (r convRepo) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	return scanConversation(r.pool.QueryRow(ctx, query, id))
}

func (r convRepo) ListForUser(ctx context.Context, username string) ([]models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations
		WHERE participant_a = $1 OR participant_b = $1
		ORDER BY updated_at DESC`
	rows, err := r.pool.Query(ctx, query, username)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, classify(rows.Err())
}

func (r convRepo) SetStatus(ctx context.Context, id string, from, to models.ConversationStatus) (*models.Conversation, error) {
	query := `UPDATE conversations SET status = $3, updated_at = clock_timestamp()
		WHERE id = $1 AND status = $2
		RETURNING ` + conversationColumns
	c, err := scanConversation(r.pool.QueryRow(ctx, query, id, string(from), string(to)))
	if errors.Is(err, store.ErrNotFound) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, store.ErrStaleStatus
	}
	return c, err
}
