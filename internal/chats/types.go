package chats

import (
	"context"
	"errors"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrThreadNotFound = errors.New("thread not found")
	ErrMessageIndex   = errors.New("message index out of range")

	// ErrStorageCorrupt marks an unreadable chat document rather than
	// letting a parse failure crash the caller.
	ErrStorageCorrupt = errors.New("chat store corrupt")
)

// Message is one conversational turn inside a thread. Content carries the
// timestamp prefix (and sentinel markers for user turns) exactly as it is
// forwarded to the completion service.
type Message struct {
	ID        string    `json:"id,omitempty"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Store persists per-user chat threads as ordered message lists. Thread
// iteration order is creation order.
type Store interface {
	EnsureUser(ctx context.Context, username string) error
	ListThreads(ctx context.Context, username string) ([]string, error)
	CreateThread(ctx context.Context, username string) (string, error)
	Messages(ctx context.Context, username, thread string) ([]Message, error)
	AppendMessage(ctx context.Context, username, thread string, msg Message) error
	// DeleteMessageAt removes the message at index. A user message
	// immediately followed by an assistant reply takes the reply with it.
	// Returns how many messages were removed (1 or 2).
	DeleteMessageAt(ctx context.Context, username, thread string, index int) (int, error)
	ClearThread(ctx context.Context, username, thread string) error
	Close() error
}

// ThreadName derives a thread name from its creation time at second
// granularity. Two creations within the same second collide and the later
// one wins, matching the store's overwrite behavior.
func ThreadName(t time.Time) string {
	return "Chat_" + t.Format("20060102_150405")
}
