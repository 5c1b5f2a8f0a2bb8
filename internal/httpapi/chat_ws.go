package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clinloop/medichat/internal/chats"
	"github.com/clinloop/medichat/internal/completion"
	"github.com/clinloop/medichat/internal/prompt"
	"github.com/clinloop/medichat/internal/protocol"
	"github.com/clinloop/medichat/internal/session"
)

const wsReadIdleTimeout = 120 * time.Second

// handleChatWS runs chat turns over a websocket: the client sends one
// user_message per turn and receives assistant_text_delta frames followed by
// assistant_turn_end. Turns run one at a time; there is no cancellation of a
// turn in flight.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		respondError(w, http.StatusBadRequest, "missing_token", "query parameter token is required")
		return
	}
	sess, err := s.sessions.Get(token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid_token", "session not found or expired")
		return
	}
	if s.gateway == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "completion gateway not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := frameTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadIdleTimeout))
		return nil
	})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadIdleTimeout))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.sendEvent(ctx, outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				Code:      "invalid_client_message",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}

		msg, ok := parsed.(protocol.UserMessage)
		if !ok {
			continue
		}
		s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeUserMessage)).Inc()

		// Logout or inactivity expiry may have ended the session while the
		// socket stayed open. Re-check before every turn.
		sess, err = s.sessions.Get(token)
		if err != nil {
			s.sendEvent(ctx, outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				Code:      "session_ended",
				Retryable: false,
				Detail:    "session not found or expired",
			})
			break
		}
		_ = s.sessions.Touch(token)

		// One turn at a time: the read loop blocks until the stream is
		// fully consumed or fails.
		s.runChatTurn(ctx, sess, token, msg, outbound)

		if ctx.Err() != nil {
			break
		}
	}

	// Let the writer drain anything still queued before tearing down.
	close(outbound)
	<-writerDone
	cancel()
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func (s *Server) runChatTurn(ctx context.Context, sess *session.Session, token string, msg protocol.UserMessage, outbound chan<- any) {
	if err := prompt.ScreenUserInput(msg.Text); err != nil {
		code := "restricted_input"
		if errors.Is(err, prompt.ErrEmptyInput) {
			code = "empty_message"
		}
		s.sendEvent(ctx, outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			Code:      code,
			Retryable: false,
			Detail:    err.Error(),
		})
		return
	}

	history, err := s.chats.Messages(ctx, sess.Username, msg.Thread)
	if err != nil {
		code := "storage_error"
		if errors.Is(err, chats.ErrThreadNotFound) {
			code = "thread_not_found"
		}
		s.sendEvent(ctx, outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			Code:      code,
			Retryable: false,
			Detail:    err.Error(),
		})
		return
	}
	_ = s.sessions.SetActiveThread(token, msg.Thread)

	wrapped := prompt.WrapUserMessage(msg.Text, s.now())

	reqMsgs := make([]completion.ChatMessage, 0, len(history)+2)
	reqMsgs = append(reqMsgs, completion.ChatMessage{
		Role:    completion.RoleSystem,
		Content: prompt.SystemInstruction(),
	})
	for _, m := range history {
		reqMsgs = append(reqMsgs, completion.ChatMessage{Role: m.Role, Content: m.Content})
	}
	reqMsgs = append(reqMsgs, completion.ChatMessage{Role: completion.RoleUser, Content: wrapped})

	turnStart := time.Now()
	firstDelta := true
	res, err := s.gateway.StreamCompletion(ctx, completion.Request{Messages: reqMsgs}, func(delta string) error {
		if firstDelta {
			firstDelta = false
			s.metrics.ObserveFirstDeltaLatency(time.Since(turnStart))
		}
		return s.sendEvent(ctx, outbound, protocol.AssistantTextDelta{
			Type:      protocol.TypeAssistantTextDelta,
			Thread:    msg.Thread,
			TextDelta: delta,
		})
	})
	if err != nil {
		s.metrics.CompletionErrors.WithLabelValues("transport").Inc()
		// Nothing is persisted on failure: the user message only commits
		// together with a complete assistant reply.
		s.sendEvent(ctx, outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			Code:      "completion_failed",
			Retryable: true,
			Detail:    err.Error(),
		})
		return
	}

	stamped := prompt.StampAssistantMessage(res.Text, s.now())
	if err := s.chats.AppendMessage(ctx, sess.Username, msg.Thread, chats.Message{Role: chats.RoleUser, Content: wrapped}); err != nil {
		s.sendEvent(ctx, outbound, protocol.ErrorEvent{
			Type:   protocol.TypeErrorEvent,
			Code:   "storage_error",
			Detail: err.Error(),
		})
		return
	}
	if err := s.chats.AppendMessage(ctx, sess.Username, msg.Thread, chats.Message{Role: chats.RoleAssistant, Content: stamped}); err != nil {
		s.sendEvent(ctx, outbound, protocol.ErrorEvent{
			Type:   protocol.TypeErrorEvent,
			Code:   "storage_error",
			Detail: err.Error(),
		})
		return
	}

	s.metrics.ObserveTurnDuration(time.Since(turnStart))
	s.sendEvent(ctx, outbound, protocol.AssistantTurnEnd{
		Type:    protocol.TypeAssistantTurnEnd,
		Thread:  msg.Thread,
		Content: stamped,
	})
}

func (s *Server) sendEvent(ctx context.Context, outbound chan<- any, msg any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case outbound <- msg:
		return nil
	}
}

func frameTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.AssistantTextDelta:
		return m.Type, true
	case protocol.AssistantTurnEnd:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
