package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeUserMessage        MessageType = "user_message"
	TypeAssistantTextDelta MessageType = "assistant_text_delta"
	TypeAssistantTurnEnd   MessageType = "assistant_turn_end"
	TypeSystemEvent        MessageType = "system_event"
	TypeErrorEvent         MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// UserMessage is the only client-originated frame: one chat turn for the
// named thread.
type UserMessage struct {
	Type   MessageType `json:"type"`
	Thread string      `json:"thread"`
	Text   string      `json:"text"`
}

type AssistantTextDelta struct {
	Type      MessageType `json:"type"`
	Thread    string      `json:"thread"`
	TextDelta string      `json:"text_delta"`
}

// AssistantTurnEnd closes a turn. Content is the stored form of the full
// assistant reply (timestamp prefix included); clients replace their
// accumulated deltas with it.
type AssistantTurnEnd struct {
	Type    MessageType `json:"type"`
	Thread  string      `json:"thread"`
	Content string      `json:"content"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeUserMessage:
		var msg UserMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Thread) == "" {
			return nil, errors.New("user_message requires a thread")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
