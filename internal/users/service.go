package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when the username does not exist so a login
// probe costs the same whether or not the account is real.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("medichat.invalid"), bcrypt.DefaultCost)

// Service implements account operations on top of a Store. Passwords are
// stored as bcrypt hashes; secret answers are matched case-insensitively
// with surrounding whitespace ignored.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Signup registers a new account. Signing up does not log the user in.
func (s *Service) Signup(ctx context.Context, username, password, confirmPassword, question, answer string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("username must not be empty")
	}
	// A taken username wins over any complaint about the password fields.
	_, err := s.store.Get(ctx, username)
	switch {
	case err == nil:
		return ErrUsernameTaken
	case !errors.Is(err, ErrUserNotFound):
		return err
	}

	if password == "" {
		return errors.New("password must not be empty")
	}
	if password != confirmPassword {
		return ErrPasswordMismatch
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.store.Put(ctx, username, Record{
		PasswordHash:   string(hash),
		SecretQuestion: question,
		SecretAnswer:   answer,
	})
}

func (s *Service) Login(ctx context.Context, username, password string) error {
	rec, err := s.store.Get(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		// Burn a comparison anyway to keep timing flat for unknown users.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)) != nil {
		return ErrBadPassword
	}
	return nil
}

func (s *Service) SecretQuestion(ctx context.Context, username string) (string, error) {
	rec, err := s.store.Get(ctx, username)
	if err != nil {
		return "", err
	}
	return rec.SecretQuestion, nil
}

func (s *Service) VerifySecretAnswer(ctx context.Context, username, answer string) (bool, error) {
	rec, err := s.store.Get(ctx, username)
	if err != nil {
		return false, err
	}
	return secretAnswerMatches(rec.SecretAnswer, answer), nil
}

// ResetPassword replaces the password hash after checking the secret answer.
// The secret question and answer are left untouched.
func (s *Service) ResetPassword(ctx context.Context, username, answer, newPassword, confirmPassword string) error {
	rec, err := s.store.Get(ctx, username)
	if err != nil {
		return err
	}
	if !secretAnswerMatches(rec.SecretAnswer, answer) {
		return ErrWrongSecretAnswer
	}
	if newPassword == "" {
		return errors.New("password must not be empty")
	}
	if newPassword != confirmPassword {
		return ErrPasswordMismatch
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	rec.PasswordHash = string(hash)
	return s.store.Put(ctx, username, rec)
}

func secretAnswerMatches(stored, given string) bool {
	return strings.EqualFold(strings.TrimSpace(stored), strings.TrimSpace(given))
}
