package models

import "time"

// SourceConnection stores credentials for one SurveyCTO server. The password
// is encrypted at rest and never serialized in API responses.
type SourceConnection struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	ServerURL   string    `json:"server_url" db:"server_url"`
	Username    string    `json:"username" db:"username"`
	Password    string    `json:"password,omitempty" db:"-"` // plaintext, request payload only
	PasswordEnc []byte    `json:"-" db:"password_enc"`
	Status      string    `json:"status" db:"status"` // enum: valid, invalid, untested
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
