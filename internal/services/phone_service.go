package services

import (
	"context"
	"errors"
	"fmt"

	"marketplace-backend/internal/models"
	"marketplace-backend/internal/store"

	"go.uber.org/zap"
)

// PhoneService decides whether a viewer may see an owner's phone number.
// Grants are only written by PingService when a ping is accepted.
type PhoneService struct {
	users  store.UserRepository
	grants store.GrantRepository
	log    *zap.Logger
}

func NewPhoneService(users store.UserRepository, grants store.GrantRepository, log *zap.Logger) *PhoneService {
	return &PhoneService{users: users, grants: grants, log: log}
}

// GetVisibility never returns the number when CanShare is false.
func (s *PhoneService) GetVisibility(ctx context.Context, owner, viewer string) (models.PhoneVisibility, error) {
	hidden := models.PhoneVisibility{}
	u, err := s.users.GetByUsername(ctx, owner)
	if err != nil {
		return hidden, lookup("user "+owner, err)
	}
	if u.Phone == nil || *u.Phone == "" {
		return hidden, nil
	}

	visible := func() models.PhoneVisibility {
		phone := *u.Phone
		return models.PhoneVisibility{Phone: &phone, CanShare: true}
	}

	if owner == viewer {
		return visible(), nil
	}
	switch u.PhonePreference {
	case models.PhoneEveryone:
		return visible(), nil
	case models.PhonePingConfirmation:
		ok, err := s.grants.Exists(ctx, owner, viewer)
		if err != nil {
			return hidden, fmt.Errorf("check grant: %w", err)
		}
		if ok {
			return visible(), nil
		}
	}
	return hidden, nil
}

func (s *PhoneService) grant(ctx context.Context, owner, viewer string) error {
	err := s.grants.Upsert(ctx, models.PhoneUnlockGrant{Owner: owner, UnlockedBy: viewer})
	if err != nil && !errors.Is(err, store.ErrUniqueViolation) {
		return fmt.Errorf("grant phone visibility: %w", err)
	}
	s.log.Info("phone unlocked", zap.String("owner", owner), zap.String("viewer", viewer))
	return nil
}

// Revoke removes viewer's grant. Removing a missing grant is not an error.
func (s *PhoneService) Revoke(ctx context.Context, owner, viewer string) error {
	if err := s.grants.Delete(ctx, owner, viewer); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("revoke grant: %w", err)
	}
	return nil
}

func (s *PhoneService) RevokeAll(ctx context.Context, owner string) (int64, error) {
	n, err := s.grants.DeleteAll(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("revoke grants: %w", err)
	}
	s.log.Info("phone grants revoked", zap.String("owner", owner), zap.Int64("count", n))
	return n, nil
}

// SetPreference changes how owner shares the number. Existing grants are
// kept so switching back restores them.
func (s *PhoneService) SetPreference(ctx context.Context, owner string, pref models.PhonePreference) error {
	if !pref.Valid() {
		return invalid("preference", "must be everyone or ping_confirmation")
	}
	if err := s.users.SetPhonePreference(ctx, owner, pref); err != nil {
		return lookup("user "+owner, err)
	}
	return nil
}

func (s *PhoneService) ListGrants(ctx context.Context, owner string) ([]models.PhoneUnlockGrant, error) {
	grants, err := s.grants.ListByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	return grants, nil
}
