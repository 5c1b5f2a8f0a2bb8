package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists credentials in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmt := `CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		secret_question TEXT NOT NULL,
		secret_answer TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("init users schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, username string) (Record, error) {
	var rec Record
	err := s.pool.QueryRow(ctx,
		`SELECT password_hash, secret_question, secret_answer FROM users WHERE username=$1`,
		username,
	).Scan(&rec.PasswordHash, &rec.SecretQuestion, &rec.SecretAnswer)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrUserNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("query user: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Put(ctx context.Context, username string, record Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (username, password_hash, secret_question, secret_answer)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (username) DO UPDATE
		 SET password_hash=EXCLUDED.password_hash,
		     secret_question=EXCLUDED.secret_question,
		     secret_answer=EXCLUDED.secret_answer`,
		username,
		record.PasswordHash,
		record.SecretQuestion,
		record.SecretAnswer,
	)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
