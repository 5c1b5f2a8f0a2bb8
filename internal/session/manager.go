package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("session not found")

// Session is the in-memory state of one authenticated client. Nothing here
// is persisted: logout (or expiry) drops the active-thread pointer and the
// token without touching stored credentials or chat history.
type Session struct {
	Token          string    `json:"token"`
	Username       string    `json:"username"`
	Status         Status    `json:"status"`
	ActiveThread   string    `json:"active_thread"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	tokenByUser       map[string]string
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		tokenByUser:       make(map[string]string),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create opens a session for a freshly authenticated user. A previous active
// session for the same user is ended first: one client, one session.
func (m *Manager) Create(username string) *Session {
	now := time.Now().UTC()
	s := &Session{
		Token:          uuid.NewString(),
		Username:       username,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if oldToken, ok := m.tokenByUser[username]; ok {
		if old, exists := m.sessions[oldToken]; exists {
			old.Status = StatusEnded
			old.ActiveThread = ""
			delete(m.sessions, oldToken)
		}
	}
	m.sessions[s.Token] = s
	m.tokenByUser[username] = s.Token
	return clone(s)
}

func (m *Manager) Get(token string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[token]
	if !ok || s.Status != StatusActive {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) Touch(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok || s.Status != StatusActive {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// SetActiveThread moves the session's thread pointer. The thread itself
// lives in the conversation store; the session only remembers the name.
func (m *Manager) SetActiveThread(token, thread string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok || s.Status != StatusActive {
		return ErrNotFound
	}
	s.ActiveThread = thread
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) End(token string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.ActiveThread = ""
	s.LastActivityAt = time.Now().UTC()
	delete(m.sessions, token)
	if m.tokenByUser[s.Username] == token {
		delete(m.tokenByUser, s.Username)
	}
	return clone(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for token, s := range m.sessions {
		if s.Status != StatusActive {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.ActiveThread = ""
		s.LastActivityAt = now
		expired = append(expired, clone(s))
		delete(m.sessions, token)
		if m.tokenByUser[s.Username] == token {
			delete(m.tokenByUser, s.Username)
		}
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
