package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps counters in the rate_limits table. The window check,
// reset and increment happen in one upsert using the database clock.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const incrQuery = `
	INSERT INTO rate_limits AS rl (key, window_start, count)
	VALUES ($1, clock_timestamp(), 1)
	ON CONFLICT (key) DO UPDATE SET
		count = CASE WHEN rl.window_start + $2::bigint * interval '1 millisecond' <= EXCLUDED.window_start
			THEN 1 ELSE rl.count + 1 END,
		window_start = CASE WHEN rl.window_start + $2::bigint * interval '1 millisecond' <= EXCLUDED.window_start
			THEN EXCLUDED.window_start ELSE rl.window_start END
	RETURNING count,
		GREATEST(0, FLOOR(EXTRACT(EPOCH FROM (window_start + $2::bigint * interval '1 millisecond' - clock_timestamp())) * 1000))::bigint`

func (s *PostgresStore) Incr(ctx context.Context, key string, window time.Duration) (Window, error) {
	var w Window
	var resetMs int64
	if err := s.pool.QueryRow(ctx, incrQuery, key, window.Milliseconds()).Scan(&w.Count, &resetMs); err != nil {
		return Window{}, fmt.Errorf("rate limit incr: %w", err)
	}
	w.ResetIn = time.Duration(resetMs) * time.Millisecond
	return w, nil
}
