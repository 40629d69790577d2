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

const pingColumns = `id, listing_id, sender_username, receiver_username, message, status,
	created_at, responded_at, response_time_minutes, response_message, ping_count, last_ping_at`

type pingRepo struct {
	pool *pgxpool.Pool
}

func scanPing(row pgx.Row) (*models.Ping, error) {
	var p models.Ping
	var status string
	err := row.Scan(&p.ID, &p.ListingID, &p.SenderUsername, &p.ReceiverUsername, &p.Message, &status,
		&p.CreatedAt, &p.RespondedAt, &p.ResponseTimeMinutes, &p.ResponseMessage, &p.PingCount, &p.LastPingAt)
	if err != nil {
		return nil, classify(err)
	}
	p.Status = models.PingStatus(status)
	return &p, nil
}

func (r pingRepo) Insert(ctx context.Context, p *models.Ping) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	query := `INSERT INTO pings (id, listing_id, sender_username, receiver_username, message)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + pingColumns
	saved, err := scanPing(r.pool.QueryRow(ctx, query, p.ID, p.ListingID, p.SenderUsername, p.ReceiverUsername, p.Message))
	if err != nil {
		return err
	}
	*p = *saved
	return nil
}

func (r pingRepo) GetByID(ctx context.Context, id string) (*models.Ping, error) {
	query := `SELECT ` + pingColumns + ` FROM pings WHERE id = $1`
	return scanPing(r.pool.QueryRow(ctx, query, id))
}

func (r pingRepo) FindOpen(ctx context.Context, t store.Triple) (*models.Ping, error) {
	query := `SELECT ` + pingColumns + ` FROM pings
		WHERE listing_id = $1 AND sender_username = $2 AND receiver_username = $3
		AND status IN ('pending', 'accepted')
		ORDER BY created_at DESC
		LIMIT 1`
	return scanPing(r.pool.QueryRow(ctx, query, t.ListingID, t.Sender, t.Receiver))
}

func (r pingRepo) Respond(ctx context.Context, id string, status models.PingStatus, responseMessage *string) (*models.Ping, error) {
	// The status check and the write are one statement so two concurrent
	// responses cannot both succeed.
	query := `UPDATE pings SET
			status = $2,
			responded_at = clock_timestamp(),
			response_time_minutes = GREATEST(0, FLOOR(EXTRACT(EPOCH FROM (clock_timestamp() - created_at)) / 60))::int,
			response_message = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + pingColumns
	p, err := scanPing(r.pool.QueryRow(ctx, query, id, string(status), responseMessage))
	if errors.Is(err, store.ErrNotFound) {
		return nil, r.missOrStale(ctx, id)
	}
	return p, err
}

func (r pingRepo) Bump(ctx context.Context, id string) (*models.Ping, error) {
	query := `UPDATE pings SET ping_count = ping_count + 1, last_ping_at = clock_timestamp()
		WHERE id = $1 AND status = 'accepted'
		RETURNING ` + pingColumns
	p, err := scanPing(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, r.missOrStale(ctx, id)
	}
	return p, err
}

// missOrStale tells a missing row from one whose status did not match.
func (r pingRepo) missOrStale(ctx context.Context, id string) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return store.ErrStaleStatus
}

func (r pingRepo) ListByReceiver(ctx context.Context, receiver string, limit int) ([]models.Ping, error) {
	query := `SELECT ` + pingColumns + ` FROM pings WHERE receiver_username = $1 ORDER BY last_ping_at DESC LIMIT $2`
	return r.list(ctx, query, receiver, limit)
}

func (r pingRepo) ListBySender(ctx context.Context, sender string, limit int) ([]models.Ping, error) {
	query := `SELECT ` + pingColumns + ` FROM pings WHERE sender_username = $1 ORDER BY last_ping_at DESC LIMIT $2`
	return r.list(ctx, query, sender, limit)
}

func (r pingRepo) list(ctx context.Context, query, username string, limit int) ([]models.Ping, error) {
	rows, err := r.pool.Query(ctx, query, username, limitArg(limit))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var pings []models.Ping
	for rows.Next() {
		p, err := scanPing(rows)
		if err != nil {
			return nil, err
		}
		pings = append(pings, *p)
	}
	return pings, classify(rows.Err())
}
