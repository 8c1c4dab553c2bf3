package conversation

import (
	"context"
	"errors"
	"sync"

	"github.com/zhouzirui/z-tavern/messenger/internal/model/chat"
)

// ErrUnknownConversation is returned when a conversation is not in the
// last listing.
var ErrUnknownConversation = errors.New("conversation not found in chat list")

// Lister fetches the chat users listing. *api.Client satisfies it.
type Lister interface {
	ListChatUsers(ctx context.Context) (chat.ChatUsers, error)
}

// Service keeps the last chat users listing to resolve counterparts.
type Service struct {
	lister Lister

	mu    sync.RWMutex
	users []chat.ChatUser
}

// NewService creates a conversation service.
func NewService(lister Lister) *Service {
	return &Service{lister: lister}
}

// List fetches the conversations of the signed-in user.
func (s *Service) List(ctx context.Context) ([]chat.ChatUser, error) {
	res, err := s.lister.ListChatUsers(ctx)
	if err != nil {
		return nil, err
	}

	users := make([]chat.ChatUser, 0, len(res.UniqueUsers))
	for _, u := range res.UniqueUsers {
		if u.ConversationID == "" {
			continue
		}
		users = append(users, u)
	}

	s.mu.Lock()
	s.users = users
	s.mu.Unlock()

	out := make([]chat.ChatUser, len(users))
	copy(out, users)
	return out, nil
}

// Find returns the conversation from the last listing, fetching once if the
// listing is empty or does not contain it.
func (s *Service) Find(ctx context.Context, conversationID string) (chat.ChatUser, error) {
	if u, ok := s.cached(conversationID); ok {
		return u, nil
	}
	if _, err := s.List(ctx); err != nil {
		return chat.ChatUser{}, err
	}
	if u, ok := s.cached(conversationID); ok {
		return u, nil
	}
	return chat.ChatUser{}, ErrUnknownConversation
}

// Receiver returns the counterpart's user id, the recipient of messages sent
// in the conversation.
func (s *Service) Receiver(ctx context.Context, conversationID string) (string, error) {
	u, err := s.Find(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if u.Participant.Receiver == "" {
		return "", ErrUnknownConversation
	}
	return u.Participant.Receiver.String(), nil
}

func (s *Service) cached(conversationID string) (chat.ChatUser, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.ConversationID == conversationID {
			return u, true
		}
	}
	return chat.ChatUser{}, false
}
