package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/clinloop/medichat/internal/chats"
	"github.com/clinloop/medichat/internal/completion"
	"github.com/clinloop/medichat/internal/config"
	"github.com/clinloop/medichat/internal/observability"
	"github.com/clinloop/medichat/internal/session"
	"github.com/clinloop/medichat/internal/users"
)

type Server struct {
	cfg      config.Config
	users    *users.Service
	chats    chats.Store
	sessions *session.Manager
	gateway  completion.Gateway
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
	now      func() time.Time
}

func New(cfg config.Config, userSvc *users.Service, chatStore chats.Store, sessions *session.Manager, gateway completion.Gateway, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		users:    userSvc,
		chats:    chatStore,
		sessions: sessions,
		gateway:  gateway,
		metrics:  metrics,
		now:      time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browser connections must come from the same host unless
				// explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/auth/signup", s.handleSignup)
	r.Post("/v1/auth/login", s.handleLogin)
	r.Get("/v1/auth/secret-question", s.handleSecretQuestion)
	r.Post("/v1/auth/reset-password", s.handleResetPassword)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Post("/v1/auth/logout", s.handleLogout)
		r.Get("/v1/threads", s.handleListThreads)
		r.Post("/v1/threads", s.handleCreateThread)
		r.Post("/v1/threads/{name}/select", s.handleSelectThread)
		r.Get("/v1/threads/{name}/messages", s.handleThreadMessages)
		r.Post("/v1/threads/{name}/clear", s.handleClearThread)
		r.Delete("/v1/threads/{name}/messages/{index}", s.handleDeleteMessage)
	})

	r.Get("/v1/chat/ws", s.handleChatWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.storeMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"store_mode": s.storeMode(),
	})
}

func (s *Server) storeMode() string {
	if strings.TrimSpace(s.cfg.DatabaseURL) != "" {
		return "postgres"
	}
	return "file"
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
