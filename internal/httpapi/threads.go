package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clinloop/medichat/internal/chats"
)

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	threads, err := s.chats.ListThreads(r.Context(), sess.Username)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	if threads == nil {
		threads = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"threads":       threads,
		"active_thread": sess.ActiveThread,
	})
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	name, err := s.chats.CreateThread(r.Context(), sess.Username)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	_ = s.sessions.SetActiveThread(sess.Token, name)
	respondJSON(w, http.StatusCreated, map[string]string{"thread": name})
}

func (s *Server) handleSelectThread(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	name := chi.URLParam(r, "name")

	if _, err := s.chats.Messages(r.Context(), sess.Username, name); err != nil {
		s.respondThreadError(w, err)
		return
	}
	_ = s.sessions.SetActiveThread(sess.Token, name)
	respondJSON(w, http.StatusOK, map[string]string{"active_thread": name})
}

func (s *Server) handleThreadMessages(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	name := chi.URLParam(r, "name")

	msgs, err := s.chats.Messages(r.Context(), sess.Username, name)
	if err != nil {
		s.respondThreadError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"thread":   name,
		"messages": msgs,
	})
}

func (s *Server) handleClearThread(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	name := chi.URLParam(r, "name")

	if err := s.chats.ClearThread(r.Context(), sess.Username, name); err != nil {
		s.respondThreadError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared", "thread": name})
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	name := chi.URLParam(r, "name")

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_index", "message index must be an integer")
		return
	}

	removed, err := s.chats.DeleteMessageAt(r.Context(), sess.Username, name, index)
	if err != nil {
		s.respondThreadError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "deleted",
		"removed": removed,
	})
}

func (s *Server) respondThreadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chats.ErrThreadNotFound):
		respondError(w, http.StatusNotFound, "thread_not_found", "thread not found")
	case errors.Is(err, chats.ErrMessageIndex):
		respondError(w, http.StatusBadRequest, "invalid_index", "message index out of range")
	case errors.Is(err, chats.ErrStorageCorrupt):
		respondError(w, http.StatusInternalServerError, "storage_corrupt", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
	}
}
