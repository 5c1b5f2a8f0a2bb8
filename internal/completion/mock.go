package completion

import (
	"context"
	"strings"
)

// MockGateway provides deterministic local replies when no API key is
// configured, so the service stays usable in dev and tests.
type MockGateway struct{}

func NewMockGateway() *MockGateway { return &MockGateway{} }

func (g *MockGateway) StreamCompletion(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	text := buildMockReply(req)
	if onDelta != nil && text != "" {
		// Emit word by word so callers exercise their streaming path.
		words := strings.SplitAfter(text, " ")
		for _, w := range words {
			if err := onDelta(w); err != nil {
				return Response{}, err
			}
		}
	}
	return Response{Text: text}, nil
}

func buildMockReply(req Request) string {
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			last = strings.TrimSpace(req.Messages[i].Content)
			break
		}
	}
	if last == "" {
		return "Sorry, I can only answer medical-related questions."
	}
	return "Mock reply to: " + last
}
