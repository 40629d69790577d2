package postgres

import (
	"context"

	"marketplace-backend/internal/models"
	"marketplace-backend/internal/store"

	"github.com/jackc/pgx/v5/pgxpool"
)

type grantRepo struct {
	pool *pgxpool.Pool
}

func (r grantRepo) Upsert(ctx context.Context, g models.PhoneUnlockGrant) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO phone_unlock_grants (owner_username, unlocked_by_username)
		VALUES ($1, $2)
		ON CONFLICT (owner_username, unlocked_by_username) DO NOTHING`, g.Owner, g.UnlockedBy)
	return classify(err)
}

func (r grantRepo) Exists(ctx context.Context, owner, viewer string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM phone_unlock_grants WHERE owner_username = $1 AND unlocked_by_username = $2
	)`, owner, viewer).Scan(&exists)
	return exists, classify(err)
}

func (r grantRepo) Delete(ctx context.Context, owner, viewer string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM phone_unlock_grants WHERE owner_username = $1 AND unlocked_by_username = $2`,
		owner, viewer)
	return classify(err)
}

func (r grantRepo) DeleteAll(ctx context.Context, owner string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM phone_unlock_grants WHERE owner_username = $1`, owner)
	if err != nil {
		return 0, classify(err)
	}
	return tag.RowsAffected(), nil
}

func (r grantRepo) ListByOwner(ctx context.Context, owner string) ([]models.PhoneUnlockGrant, error) {
	rows, err := r.pool.Query(ctx, `SELECT owner_username, unlocked_by_username, unlocked_at
		FROM phone_unlock_grants WHERE owner_username = $1 ORDER BY unlocked_at`, owner)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var grants []models.PhoneUnlockGrant
	for rows.Next() {
		var g models.PhoneUnlockGrant
		if err := rows.Scan(&g.Owner, &g.UnlockedBy, &g.UnlockedAt); err != nil {
			return nil, classify(err)
		}
		grants = append(grants, g)
	}
	return grants, classify(rows.Err())
}

type userRepo struct {
	pool *pgxpool.Pool
}

func (r userRepo) Create(ctx context.Context, u *models.User) error {
	if u.PhonePreference == "" {
		u.PhonePreference = models.PhonePingConfirmation
	}
	query := `INSERT INTO users (username, password_hash, phone, phone_sharing_preference)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, query, u.Username, u.PasswordHash, u.Phone, string(u.PhonePreference)).
		Scan(&u.ID, &u.CreatedAt)
	return classify(err)
}

func (r userRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	var pref string
	query := `SELECT id, username, password_hash, phone, phone_sharing_preference, created_at
		FROM users WHERE username = $1`
	err := r.pool.QueryRow(ctx, query, username).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Phone, &pref, &u.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	u.PhonePreference = models.PhonePreference(pref)
	return &u, nil
}

func (r userRepo) SetPhone(ctx context.Context, username string, phone *string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET phone = $2 WHERE username = $1`, username, phone)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r userRepo) SetPhonePreference(ctx context.Context, username string, pref models.PhonePreference) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET phone_sharing_preference = $2 WHERE username = $1`,
		username, string(pref))
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

type listingRepo struct {
	pool *pgxpool.Pool
}

func (r listingRepo) GetListing(ctx context.Context, listingID string) (*models.Listing, error) {
	var l models.Listing
	err := r.pool.QueryRow(ctx, `SELECT id, owner_username FROM listings WHERE id = $1`, listingID).
		Scan(&l.ID, &l.OwnerUsername)
	if err != nil {
		return nil, classify(err)
	}
	return &l, nil
}
