package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Claims is the payload of access and refresh tokens.
type Claims struct {
	UserID    int    `json:"user_id"`
	Username  string `json:"username"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Authenticator issues and validates HMAC signed JWTs.
type Authenticator struct {
	secretKey       []byte
	issuer          string
	validity        time.Duration
	refreshValidity time.Duration
}

func NewAuthenticator(secretKey, issuer string, validity, refreshValidity time.Duration) *Authenticator {
	return &Authenticator{
		secretKey:       []byte(secretKey),
		issuer:          issuer,
		validity:        validity,
		refreshValidity: refreshValidity,
	}
}

// GenerateToken creates a signed access token.
func (a *Authenticator) GenerateToken(userID int, username string) (string, error) {
	return a.sign(userID, username, tokenTypeAccess, a.validity)
}

// GenerateRefreshToken creates a signed refresh token.
func (a *Authenticator) GenerateRefreshToken(userID int, username string) (string, error) {
	return a.sign(userID, username, tokenTypeRefresh, a.refreshValidity)
}

// ValidateToken parses an access token.
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	return a.validate(tokenString, tokenTypeAccess)
}

// ValidateRefreshToken parses a refresh token.
func (a *Authenticator) ValidateRefreshToken(tokenString string) (*Claims, error) {
	return a.validate(tokenString, tokenTypeRefresh)
}

func (a *Authenticator) sign(userID int, username, tokenType string, validity time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:    userID,
		Username:  username,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    a.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secretKey)
}

func (a *Authenticator) validate(tokenString, tokenType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secretKey, nil
	}, jwt.WithIssuer(a.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.TokenType != tokenType || claims.Username == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
