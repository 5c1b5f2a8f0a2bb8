package chats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists chat threads in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initChatSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, now: time.Now}, nil
}

func initChatSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_threads (
			username TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (username, name)
		);`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			thread TEXT NOT NULL,
			position INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_thread_position
			ON chat_messages (username, thread, position);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init chat schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) EnsureUser(_ context.Context, _ string) error {
	// Users exist implicitly: a row appears when the first thread is created.
	return nil
}

func (s *PostgresStore) ListThreads(ctx context.Context, username string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name FROM chat_threads WHERE username=$1 ORDER BY created_at, name`,
		username,
	)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan thread row: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thread rows: %w", err)
	}
	return names, nil
}

func (s *PostgresStore) CreateThread(ctx context.Context, username string) (string, error) {
	name := ThreadName(s.now().UTC())
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_threads (username, name) VALUES ($1, $2)
		 ON CONFLICT (username, name) DO NOTHING`,
		username, name,
	)
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	// Same-second collision means the later creation overwrites: the thread
	// restarts empty, like the file store.
	_, err = s.pool.Exec(ctx,
		`DELETE FROM chat_messages WHERE username=$1 AND thread=$2`,
		username, name,
	)
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return name, nil
}

func (s *PostgresStore) Messages(ctx context.Context, username, thread string) ([]Message, error) {
	if err := s.threadExists(ctx, username, thread); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, role, content, created_at FROM chat_messages
		 WHERE username=$1 AND thread=$2 ORDER BY position`,
		username, thread,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return msgs, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, username, thread string, msg Message) error {
	if err := s.threadExists(ctx, username, thread); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, username, thread, position, role, content, created_at)
		 SELECT $1, $2, $3, COALESCE(MAX(position)+1, 0), $4, $5, $6
		 FROM chat_messages WHERE username=$2 AND thread=$3`,
		msg.ID, username, thread, msg.Role, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteMessageAt(ctx context.Context, username, thread string, index int) (int, error) {
	if err := s.threadExists(ctx, username, thread); err != nil {
		return 0, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, role FROM chat_messages
		 WHERE username=$1 AND thread=$2 ORDER BY position`,
		username, thread,
	)
	if err != nil {
		return 0, fmt.Errorf("query messages: %w", err)
	}
	type entry struct {
		id   string
		role string
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.id, &e.role); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan message row: %w", err)
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate message rows: %w", err)
	}

	if index < 0 || index >= len(entries) {
		return 0, ErrMessageIndex
	}
	doomed := []string{entries[index].id}
	if entries[index].role == RoleUser && index+1 < len(entries) && entries[index+1].role == RoleAssistant {
		doomed = append(doomed, entries[index+1].id)
	}

	_, err = s.pool.Exec(ctx,
		`DELETE FROM chat_messages WHERE id = ANY($1)`,
		doomed,
	)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return len(doomed), nil
}

func (s *PostgresStore) ClearThread(ctx context.Context, username, thread string) error {
	if err := s.threadExists(ctx, username, thread); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM chat_messages WHERE username=$1 AND thread=$2`,
		username, thread,
	)
	if err != nil {
		return fmt.Errorf("clear thread: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) threadExists(ctx context.Context, username, thread string) error {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM chat_threads WHERE username=$1 AND name=$2`,
		username, thread,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrThreadNotFound
	}
	if err != nil {
		return fmt.Errorf("query thread: %w", err)
	}
	return nil
}
