package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"marketplace-backend/internal/auth"
	"marketplace-backend/internal/models"
	"marketplace-backend/internal/store"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	maxUsernameLength = 32
)

type UserService struct {
	users store.UserRepository
	auth  *auth.Authenticator
	log   *zap.Logger
}

func NewUserService(users store.UserRepository, authenticator *auth.Authenticator, log *zap.Logger) *UserService {
	return &UserService{users: users, auth: authenticator, log: log}
}

func (s *UserService) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	username := strings.TrimSpace(req.Username)
	if err := checkUsername(username); err != nil {
		return nil, err
	}
	if len(req.Password) < minPasswordLength {
		return nil, invalid("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}
	phone, err := normalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		Username:        username,
		PasswordHash:    string(hash),
		Phone:           phone,
		PhonePreference: models.PhonePingConfirmation,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.log.Info("user registered", zap.String("username", username))
	return user, nil
}

func (s *UserService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(req.Username))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(user)
}

// Refresh trades a refresh token for a new token pair.
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (*models.AuthResponse, error) {
	claims, err := s.auth.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByUsername(ctx, claims.Username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return s.issue(user)
}

func (s *UserService) issue(user *models.User) (*models.AuthResponse, error) {
	token, err := s.auth.GenerateToken(user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	refresh, err := s.auth.GenerateRefreshToken(user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	return &models.AuthResponse{
		Token:        token,
		RefreshToken: refresh,
		Username:     user.Username,
		UserID:       user.ID,
	}, nil
}

func (s *UserService) GetProfile(ctx context.Context, username string) (*models.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, lookup("user", err)
	}
	return user, nil
}

// SetPhone stores or clears the user's phone number.
func (s *UserService) SetPhone(ctx context.Context, username string, phone *string) error {
	normalized, err := normalizePhone(phone)
	if err != nil {
		return err
	}
	if err := s.users.SetPhone(ctx, username, normalized); err != nil {
		return lookup("user", err)
	}
	return nil
}

func checkUsername(username string) error {
	if username == "" {
		return invalid("username", "is required")
	}
	if len(username) > maxUsernameLength {
		return invalid("username", fmt.Sprintf("must be at most %d characters", maxUsernameLength))
	}
	for _, r := range username {
		ok := r == '_' || r == '.' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			return invalid("username", "may only contain letters, digits, '.', '_' and '-'")
		}
	}
	return nil
}

// normalizePhone keeps a leading '+' and the digits, dropping spaces,
// dashes and parentheses. Blank input clears the number.
func normalizePhone(phone *string) (*string, error) {
	if phone == nil || strings.TrimSpace(*phone) == "" {
		return nil, nil
	}
	var b strings.Builder
	for i, r := range strings.TrimSpace(*phone) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return nil, invalid("phone", "contains invalid characters")
		}
	}
	out := b.String()
	digits := len(strings.TrimPrefix(out, "+"))
	if digits < 6 || digits > 15 {
		return nil, invalid("phone", "must have between 6 and 15 digits")
	}
	return &out, nil
}
