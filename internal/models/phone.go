package models

import "time"

type PhonePreference string

const (
	PhoneEveryone         PhonePreference = "everyone"
	PhonePingConfirmation PhonePreference = "ping_confirmation"
)

func (p PhonePreference) Valid() bool {
	return p == PhoneEveryone || p == PhonePingConfirmation
}

// PhoneUnlockGrant lets UnlockedBy see Owner's phone number while Owner
// shares by ping confirmation.
type PhoneUnlockGrant struct {
	Owner      string    `json:"owner"`
	UnlockedBy string    `json:"unlocked_by"`
	UnlockedAt time.Time `json:"unlocked_at"`
}

// PhoneVisibility is what a viewer gets when asking for an owner's phone.
// Phone is always nil when CanShare is false.
type PhoneVisibility struct {
	Phone    *string `json:"phone"`
	CanShare bool    `json:"canShare"`
}

type SetPhonePreferenceRequest struct {
	Preference PhonePreference `json:"preference"`
}
