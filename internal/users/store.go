package users

import (
	"context"
	"errors"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUsernameTaken     = errors.New("username already exists")
	ErrPasswordMismatch  = errors.New("passwords do not match")
	ErrBadPassword       = errors.New("incorrect password")
	ErrWrongSecretAnswer = errors.New("incorrect secret answer")

	// ErrStorageCorrupt marks an unreadable credential document rather than
	// letting a parse failure crash the caller.
	ErrStorageCorrupt = errors.New("credential store corrupt")
)

// Record is one stored credential entry. The username is the store key and
// never appears inside the record itself.
type Record struct {
	PasswordHash   string `json:"password_hash"`
	SecretQuestion string `json:"secret_question"`
	SecretAnswer   string `json:"secret_answer"`
}

// Store persists credential records keyed by username.
type Store interface {
	Get(ctx context.Context, username string) (Record, error)
	Put(ctx context.Context, username string, record Record) error
	Close() error
}
