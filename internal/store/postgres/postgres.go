// Package postgres implements store.Store on PostgreSQL through pgx. The
// invariants the services rely on are enforced by the schema in
// internal/db: a partial unique index for pending pings, a unique index on
// (listing, unordered pair) for conversations and a primary key on grants.
package postgres

import (
	"errors"
	"fmt"
	"net"

	"marketplace-backend/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Pings() store.PingRepository                 { return pingRepo{s.pool} }
func (s *Store) Conversations() store.ConversationRepository { return convRepo{s.pool} }
func (s *Store) Messages() store.MessageRepository           { return messageRepo{s.pool} }
func (s *Store) Grants() store.GrantRepository               { return grantRepo{s.pool} }
func (s *Store) Users() store.UserRepository                 { return userRepo{s.pool} }
func (s *Store) Listings() store.ListingDirectory            { return listingRepo{s.pool} }

// classify maps driver errors onto the store sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", store.ErrUniqueViolation, pgErr.ConstraintName)
		}
		return err
	}
	var connectErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connectErr) || errors.As(err, &netErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}

// limitArg turns a non-positive limit into SQL NULL, which LIMIT treats
// as unbounded.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
