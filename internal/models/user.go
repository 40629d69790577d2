package models

import "time"

type User struct {
	ID              int             `json:"id"`
	Username        string          `json:"username"`
	PasswordHash    string          `json:"-"`
	Phone           *string         `json:"-"`
	PhonePreference PhonePreference `json:"phone_sharing_preference"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Listing is the slice of a listing this service reads from the directory.
type Listing struct {
	ID            string `json:"id"`
	OwnerUsername string `json:"owner_username"`
}

type RegisterRequest struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	Phone    *string `json:"phone,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	Username     string `json:"username"`
	UserID       int    `json:"user_id"`
}

type SetPhoneRequest struct {
	Phone *string `json:"phone"`
}
