// Package session persists per-conversation history, keyed by the derived
// session key. Channels resolve-or-create a session per envelope; the
// intake loop appends one exchange per reply.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/tinyland-inc/bridgeclaw/pkg/providers/protocoltypes"
)

// maxHistory bounds the retained turns per session; older turns roll off.
const maxHistory = 50

type Session struct {
	Key       string                   `json:"key"`
	Messages  []protocoltypes.Message  `json:"messages"`
	CreatedAt time.Time                `json:"created_at"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// Store is the persistence seam between channels and conversation state.
type Store interface {
	GetOrCreate(key string) (*Session, error)
	Append(key string, msgs ...protocoltypes.Message) error
	Clear(key string) error
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// FileStore keeps one JSON file per session under dir.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, unsafeKeyChars.ReplaceAllString(key, "_")+".json")
}

func (s *FileStore) GetOrCreate(key string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(key)
}

func (s *FileStore) Append(key string, msgs ...protocoltypes.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.loadLocked(key)
	if err != nil {
		return err
	}
	sess.Messages = append(sess.Messages, msgs...)
	if len(sess.Messages) > maxHistory {
		sess.Messages = sess.Messages[len(sess.Messages)-maxHistory:]
	}
	sess.UpdatedAt = time.Now().UTC()
	return s.saveLocked(sess)
}

func (s *FileStore) Clear(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FileStore) loadLocked(key string) (*Session, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		now := time.Now().UTC()
		return &Session{Key: key, CreatedAt: now, UpdatedAt: now}, nil
	}
	if err != nil {
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parsing session %s: %w", key, err)
	}
	return &sess, nil
}

func (s *FileStore) saveLocked(sess *Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(sess.Key), data, 0o600)
}
