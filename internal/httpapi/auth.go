package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/clinloop/medichat/internal/session"
	"github.com/clinloop/medichat/internal/users"
)

type ctxKey int

const sessionKey ctxKey = iota

func sessionFromContext(ctx context.Context) (*session.Session, bool) {
	s, ok := ctx.Value(sessionKey).(*session.Session)
	return s, ok
}

// requireSession resolves the bearer token against the session manager and
// refreshes the session's activity clock.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			respondError(w, http.StatusUnauthorized, "missing_token", "authorization bearer token is required")
			return
		}
		sess, err := s.sessions.Get(token)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid_token", "session not found or expired")
			return
		}
		_ = s.sessions.Touch(token)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sess)))
	})
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type signupRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	SecretQuestion  string `json:"secret_question"`
	SecretAnswer    string `json:"secret_answer"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	err := s.users.Signup(r.Context(), req.Username, req.Password, req.ConfirmPassword, req.SecretQuestion, req.SecretAnswer)
	switch {
	case errors.Is(err, users.ErrUsernameTaken):
		s.metrics.AuthEvents.WithLabelValues("signup", "username_taken").Inc()
		respondError(w, http.StatusConflict, "username_taken", "username already exists")
		return
	case errors.Is(err, users.ErrPasswordMismatch):
		s.metrics.AuthEvents.WithLabelValues("signup", "password_mismatch").Inc()
		respondError(w, http.StatusBadRequest, "password_mismatch", "passwords do not match")
		return
	case err != nil:
		s.metrics.AuthEvents.WithLabelValues("signup", "error").Inc()
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	s.metrics.AuthEvents.WithLabelValues("signup", "ok").Inc()
	// Signup never logs the user in; they go through login next.
	respondJSON(w, http.StatusCreated, map[string]string{
		"status":   "signed_up",
		"username": strings.TrimSpace(req.Username),
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token        string   `json:"token"`
	Username     string   `json:"username"`
	ActiveThread string   `json:"active_thread"`
	Threads      []string `json:"threads"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	err := s.users.Login(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, users.ErrUserNotFound):
		s.metrics.AuthEvents.WithLabelValues("login", "user_not_found").Inc()
		respondError(w, http.StatusUnauthorized, "user_not_found", "user not found")
		return
	case errors.Is(err, users.ErrBadPassword):
		s.metrics.AuthEvents.WithLabelValues("login", "bad_password").Inc()
		respondError(w, http.StatusUnauthorized, "bad_password", "incorrect password")
		return
	case err != nil:
		s.metrics.AuthEvents.WithLabelValues("login", "error").Inc()
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}

	// Entering the chat selects the most recently created thread, or starts
	// a fresh one for first-time users. The session is only created once the
	// thread bootstrap succeeds, so a storage failure cannot evict the user's
	// previous session.
	if err := s.chats.EnsureUser(r.Context(), req.Username); err != nil {
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	threads, err := s.chats.ListThreads(r.Context(), req.Username)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	var active string
	if len(threads) > 0 {
		active = threads[len(threads)-1]
	} else {
		active, err = s.chats.CreateThread(r.Context(), req.Username)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
			return
		}
		threads = append(threads, active)
	}

	sess := s.sessions.Create(req.Username)
	_ = s.sessions.SetActiveThread(sess.Token, active)

	s.metrics.AuthEvents.WithLabelValues("login", "ok").Inc()
	s.metrics.SessionEvents.WithLabelValues("created").Inc()
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))

	respondJSON(w, http.StatusOK, loginResponse{
		Token:        sess.Token,
		Username:     sess.Username,
		ActiveThread: active,
		Threads:      threads,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	if _, err := s.sessions.End(sess.Token); err != nil {
		respondError(w, http.StatusUnauthorized, "invalid_token", "session not found")
		return
	}
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	respondJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handleSecretQuestion(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if username == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query parameter username is required")
		return
	}
	q, err := s.users.SecretQuestion(r.Context(), username)
	if errors.Is(err, users.ErrUserNotFound) {
		respondError(w, http.StatusNotFound, "user_not_found", "user not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"username":        username,
		"secret_question": q,
	})
}

type resetPasswordRequest struct {
	Username        string `json:"username"`
	SecretAnswer    string `json:"secret_answer"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	err := s.users.ResetPassword(r.Context(), req.Username, req.SecretAnswer, req.NewPassword, req.ConfirmPassword)
	switch {
	case errors.Is(err, users.ErrUserNotFound):
		s.metrics.AuthEvents.WithLabelValues("reset_password", "user_not_found").Inc()
		respondError(w, http.StatusNotFound, "user_not_found", "user not found")
		return
	case errors.Is(err, users.ErrWrongSecretAnswer):
		s.metrics.AuthEvents.WithLabelValues("reset_password", "wrong_secret_answer").Inc()
		respondError(w, http.StatusForbidden, "wrong_secret_answer", "incorrect answer to the secret question")
		return
	case errors.Is(err, users.ErrPasswordMismatch):
		s.metrics.AuthEvents.WithLabelValues("reset_password", "password_mismatch").Inc()
		respondError(w, http.StatusBadRequest, "password_mismatch", "passwords do not match")
		return
	case err != nil:
		s.metrics.AuthEvents.WithLabelValues("reset_password", "error").Inc()
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	s.metrics.AuthEvents.WithLabelValues("reset_password", "ok").Inc()
	// Resetting does not log the user in either.
	respondJSON(w, http.StatusOK, map[string]string{"status": "password_reset"})
}
