package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var ErrMissingAPIKey = errors.New("completion API key is not set")

// ChatMessage is one entry of the ordered message sequence sent to the
// completion service.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries the full prompt: one leading system message followed by
// the active thread's history, newest user message last.
type Request struct {
	Messages []ChatMessage
}

// Response is the final assembled reply after all deltas have streamed.
type Response struct {
	Text string
}

// DeltaHandler receives streaming text fragments in arrival order.
type DeltaHandler func(delta string) error

// Gateway produces an assistant reply as a finite, non-restartable stream of
// fragments. Any transport or service error surfaces as a single terminal
// failure; callers must not commit a partial reply.
type Gateway interface {
	StreamCompletion(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error)
}

// Config controls gateway construction.
type Config struct {
	Mode        string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
	Timeout     time.Duration
}

func NewGateway(cfg Config) (Gateway, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return NewMockGateway(), nil
		}
		return NewHTTPGateway(cfg), nil
	case "http":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, ErrMissingAPIKey
		}
		return NewHTTPGateway(cfg), nil
	case "mock":
		return NewMockGateway(), nil
	default:
		return nil, fmt.Errorf("unsupported completion mode %q", cfg.Mode)
	}
}
