package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/zhouzirui/z-tavern/messenger/internal/model/chat"
	"github.com/zhouzirui/z-tavern/messenger/internal/storage"
)

const (
	keyToken        = "session:token"
	keyRefreshToken = "session:refreshToken"
	keyUser         = "session:user"
)

// Session holds the signed-in identity: the bearer token, the optional
// refresh token and the user profile, persisted in a storage.Store.
type Session struct {
	mu    sync.RWMutex
	store storage.Store
}

// New returns a session persisted in store.
func New(store storage.Store) *Session {
	return &Session{store: store}
}

// Token returns the stored bearer token or "".
func (s *Session) Token() string {
	return s.getString(keyToken)
}

// RefreshToken returns the stored refresh token or "".
func (s *Session) RefreshToken() string {
	return s.getString(keyRefreshToken)
}

// User returns the stored user, if any.
func (s *Session) User() (chat.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := s.store.Get(keyUser)
	if err != nil {
		return chat.User{}, false
	}
	var u chat.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return chat.User{}, false
	}
	return u, true
}

// UserID returns the stored user's identifier as a string, or "" when no
// user is known.
func (s *Session) UserID() string {
	u, ok := s.User()
	if !ok {
		return ""
	}
	return u.ID.String()
}

// Authenticated reports whether a bearer token is stored.
func (s *Session) Authenticated() bool {
	return s.Token() != ""
}

// SignIn stores the credentials and the user of a successful login.
// An empty refresh token leaves any stored one untouched.
func (s *Session) SignIn(token, refreshToken string, user chat.User) error {
	if token == "" {
		return errors.New("session: empty access token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Set(keyToken, []byte(token)); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	if refreshToken != "" {
		if err := s.store.Set(keyRefreshToken, []byte(refreshToken)); err != nil {
			return fmt.Errorf("store refresh token: %w", err)
		}
	}
	return s.setUserLocked(user)
}

// SetUser replaces the stored user profile.
func (s *Session) SetUser(user chat.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setUserLocked(user)
}

// Clear removes token, refresh token and user.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, k := range []string{keyToken, keyRefreshToken, keyUser} {
		if err := s.store.Delete(k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Session) setUserLocked(user chat.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	if err := s.store.Set(keyUser, raw); err != nil {
		return fmt.Errorf("store user: %w", err)
	}
	return nil
}

func (s *Session) getString(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, err := s.store.Get(key)
	if err != nil {
		return ""
	}
	return string(raw)
}
