// Package session persists the client's credential and user summary under
// two named keys, token and user.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/upb/rentiful/backend/models"
)

// Storage keys
const (
	TokenKey = "token"
	UserKey  = "user"
)

// ErrNoSession is returned by Load when no complete session is stored
var ErrNoSession = errors.New("no stored session")

// Session is what a successful login, registration or identity check leaves behind
type Session struct {
	Token string
	User  models.Summary
}

// Store persists at most one session. Clear is logout.
type Store interface {
	Load() (*Session, error)
	Save(s Session) error
	Clear() error
}

// FileStore keeps each key in its own file under Dir
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir if needed and returns a store over it
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Load returns ErrNoSession when either key is missing or the user entry
// cannot be decoded
func (s *FileStore) Load() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.read(TokenKey)
	if err != nil {
		return nil, err
	}
	rawUser, err := s.read(UserKey)
	if err != nil {
		return nil, err
	}

	var user models.Summary
	if err := json.Unmarshal([]byte(rawUser), &user); err != nil {
		return nil, fmt.Errorf("%w: corrupt user entry: %v", ErrNoSession, err)
	}

	return &Session{Token: token, User: user}, nil
}

// Save writes both keys
func (s *FileStore) Save(sess Session) error {
	user, err := json.Marshal(sess.User)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(TokenKey, []byte(sess.Token)); err != nil {
		return err
	}
	return s.write(UserKey, user)
}

// Clear removes both keys. Missing keys are not an error.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, key := range []string{TokenKey, UserKey} {
		if err := os.Remove(filepath.Join(s.dir, key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *FileStore) read(key string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNoSession
		}
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", ErrNoSession
	}
	return value, nil
}

// write replaces key atomically
func (s *FileStore) write(key string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, key+".*")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, key)); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu      sync.RWMutex
	session *Session
}

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load() (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil, ErrNoSession
	}
	s := *m.session
	return &s, nil
}

func (m *MemoryStore) Save(s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = &s
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}
