package domain

import (
	"errors"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotActivated   = errors.New("user is not activated")
)

type User struct {
	ID          int64     `db:"id"`
	Email       string    `db:"email"`
	Password    string    `db:"password_hash"`
	IsActivated bool      `db:"is_activated"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Verification is the answer to "who holds this credential". Invalid
// credentials are a normal answer, not an error.
type Verification struct {
	UserID    int64
	Valid     bool
	ExpiresAt time.Time
}
