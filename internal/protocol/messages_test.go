package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessage(t *testing.T) {
	raw := []byte(`{"type":"user_message","thread":"Chat_20240307_140509","text":"hello"}`)
	parsed, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	msg, ok := parsed.(UserMessage)
	if !ok {
		t.Fatalf("parsed type = %T, want UserMessage", parsed)
	}
	if msg.Thread != "Chat_20240307_140509" || msg.Text != "hello" {
		t.Fatalf("parsed message = %+v", msg)
	}
}

func TestParseClientMessageRejectsMissingThread(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":"user_message","text":"hi"}`)); err == nil {
		t.Fatalf("message without thread should fail")
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"assistant_text_delta"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsGarbage(t *testing.T) {
	if _, err := ParseClientMessage([]byte("not json")); err == nil {
		t.Fatalf("garbage payload should fail")
	}
}
