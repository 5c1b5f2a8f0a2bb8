package chats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// userThreads is the per-user slice of the on-disk document. Go maps do not
// preserve insertion order, so creation order lives in an explicit slice
// alongside the thread map.
type userThreads struct {
	Order   []string             `json:"order"`
	Threads map[string][]Message `json:"threads"`
}

// FileStore keeps every user's threads in a single JSON document. Mutations
// rewrite the whole document through an atomic rename, serialized by an
// in-process mutex.
type FileStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, now: time.Now}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) EnsureUser(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc[username]; ok {
		return nil
	}
	doc[username] = &userThreads{Threads: map[string][]Message{}}
	return s.save(doc)
}

func (s *FileStore) ListThreads(_ context.Context, username string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	u, ok := doc[username]
	if !ok {
		return nil, nil
	}
	out := make([]string, len(u.Order))
	copy(out, u.Order)
	return out, nil
}

func (s *FileStore) CreateThread(_ context.Context, username string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return "", err
	}
	u := doc[username]
	if u == nil {
		u = &userThreads{Threads: map[string][]Message{}}
		doc[username] = u
	}
	name := ThreadName(s.now().UTC())
	if _, exists := u.Threads[name]; !exists {
		u.Order = append(u.Order, name)
	}
	u.Threads[name] = []Message{}
	if err := s.save(doc); err != nil {
		return "", err
	}
	return name, nil
}

func (s *FileStore) Messages(_ context.Context, username, thread string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	msgs, err := threadMessages(doc, username, thread)
	if err != nil {
		return nil, err
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *FileStore) AppendMessage(_ context.Context, username, thread string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	msgs, err := threadMessages(doc, username, thread)
	if err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}
	doc[username].Threads[thread] = append(msgs, msg)
	return s.save(doc)
}

func (s *FileStore) DeleteMessageAt(_ context.Context, username, thread string, index int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return 0, err
	}
	msgs, err := threadMessages(doc, username, thread)
	if err != nil {
		return 0, err
	}
	if index < 0 || index >= len(msgs) {
		return 0, ErrMessageIndex
	}

	removed := 1
	// Delete the higher index first so the target index stays valid.
	if msgs[index].Role == RoleUser && index+1 < len(msgs) && msgs[index+1].Role == RoleAssistant {
		msgs = append(msgs[:index+1], msgs[index+2:]...)
		removed = 2
	}
	msgs = append(msgs[:index], msgs[index+1:]...)

	doc[username].Threads[thread] = msgs
	if err := s.save(doc); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *FileStore) ClearThread(_ context.Context, username, thread string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, err := threadMessages(doc, username, thread); err != nil {
		return err
	}
	doc[username].Threads[thread] = []Message{}
	return s.save(doc)
}

func (s *FileStore) Close() error { return nil }

func threadMessages(doc map[string]*userThreads, username, thread string) ([]Message, error) {
	u, ok := doc[username]
	if !ok {
		return nil, ErrThreadNotFound
	}
	msgs, ok := u.Threads[thread]
	if !ok {
		return nil, ErrThreadNotFound
	}
	return msgs, nil
}

func (s *FileStore) load() (map[string]*userThreads, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		if err := s.save(map[string]*userThreads{}); err != nil {
			return nil, err
		}
		return map[string]*userThreads{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	doc := map[string]*userThreads{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStorageCorrupt, s.path, err)
	}
	for _, u := range doc {
		if u.Threads == nil {
			u.Threads = map[string][]Message{}
		}
	}
	return doc, nil
}

func (s *FileStore) save(doc map[string]*userThreads) error {
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".chats-*.json")
	if err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	if err := os.Rename(name, s.path); err != nil {
		os.Remove(name)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
