package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-tavern/messenger/internal/model/chat"
)

var (
	ErrConversationRequired = errors.New("conversation id is required")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrTextRequired         = errors.New("text is required")
	ErrReceiverRequired     = errors.New("receiver is required")
	ErrForbidden            = errors.New("not allowed to modify this message")
	ErrNotMember            = errors.New("not a member of this conversation")
)

// Service is the in-memory message backend of the development server:
// conversations between two users, their ordered messages and a fan-out of
// change events.
type Service struct {
	mu            sync.RWMutex
	conversations map[string]conversation
	messages      map[string][]chat.Message
	index         map[string]string // message id -> conversation id
	hub           *Hub
	now           func() time.Time
}

type conversation struct {
	ID        string
	Members   [2]string
	CreatedAt time.Time
}

func (c conversation) has(userID string) bool {
	return c.Members[0] == userID || c.Members[1] == userID
}

func (c conversation) other(userID string) string {
	if c.Members[0] == userID {
		return c.Members[1]
	}
	return c.Members[0]
}

// NewService bootstraps the in-memory chat service.
func NewService(hub *Hub) *Service {
	if hub == nil {
		hub = NewHub()
	}
	return &Service{
		conversations: make(map[string]conversation),
		messages:      make(map[string][]chat.Message),
		index:         make(map[string]string),
		hub:           hub,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Hub returns the event hub messages are published to.
func (s *Service) Hub() *Hub {
	return s.hub
}

// EnsureConversation returns the conversation between a and b, creating it
// on first use.
func (s *Service) EnsureConversation(_ context.Context, a, b string) (string, error) {
	if a == "" || b == "" {
		return "", ErrReceiverRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.conversations {
		if c.has(a) && c.has(b) {
			return c.ID, nil
		}
	}

	c := conversation{ID: newID(), Members: [2]string{a, b}, CreatedAt: s.now()}
	s.conversations[c.ID] = c
	s.messages[c.ID] = make([]chat.Message, 0, 16)
	return c.ID, nil
}

// Member reports whether userID takes part in the conversation.
func (s *Service) Member(conversationID, userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	return ok && c.has(userID)
}

// Membership is a conversation seen from one of its members.
type Membership struct {
	ConversationID string
	Counterpart    string
}

// Conversations returns the conversations of userID ordered by last
// activity, newest first.
func (s *Service) Conversations(_ context.Context, userID string) []Membership {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type entry struct {
		m    Membership
		last time.Time
	}
	entries := make([]entry, 0)
	for _, c := range s.conversations {
		if !c.has(userID) {
			continue
		}
		last := c.CreatedAt
		if msgs := s.messages[c.ID]; len(msgs) > 0 {
			last = msgs[len(msgs)-1].CreatedAt
		}
		entries = append(entries, entry{
			m:    Membership{ConversationID: c.ID, Counterpart: c.other(userID)},
			last: last,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].last.After(entries[j].last) })

	out := make([]Membership, len(entries))
	for i, e := range entries {
		out[i] = e.m
	}
	return out
}

// SendMessage appends a message from sender. A missing conversation id
// resolves the conversation with receiver.
func (s *Service) SendMessage(ctx context.Context, sender string, req chat.SendRequest) (chat.Message, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return chat.Message{}, ErrTextRequired
	}
	if req.Receiver == "" {
		return chat.Message{}, ErrReceiverRequired
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		id, err := s.EnsureConversation(ctx, sender, req.Receiver)
		if err != nil {
			return chat.Message{}, err
		}
		conversationID = id
	}

	s.mu.Lock()
	c, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return chat.Message{}, ErrConversationNotFound
	}
	if !c.has(sender) || !c.has(req.Receiver) {
		s.mu.Unlock()
		return chat.Message{}, ErrNotMember
	}

	msg := chat.Message{
		ID:             newID(),
		ConversationID: conversationID,
		Sender:         chat.ID(sender),
		Receiver:       chat.ID(req.Receiver),
		Text:           text,
		CreatedAt:      s.now(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	s.index[msg.ID] = conversationID
	s.mu.Unlock()

	s.hub.Publish(Event{Type: EventCreated, ConversationID: conversationID, MessageID: msg.ID})
	return msg, nil
}

// ListMessages returns the messages of a conversation, oldest first.
func (s *Service) ListMessages(_ context.Context, userID, conversationID string) ([]chat.Message, error) {
	if conversationID == "" {
		return nil, ErrConversationRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	if !c.has(userID) {
		return nil, ErrNotMember
	}

	messages := s.messages[conversationID]
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// EditMessage replaces the text of a message. Only its sender may edit it.
func (s *Service) EditMessage(_ context.Context, messageID, userID, text string) (chat.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return chat.Message{}, ErrTextRequired
	}

	s.mu.Lock()
	conversationID, pos, err := s.locateLocked(messageID)
	if err != nil {
		s.mu.Unlock()
		return chat.Message{}, err
	}
	msg := &s.messages[conversationID][pos]
	if msg.Sender.String() != userID {
		s.mu.Unlock()
		return chat.Message{}, ErrForbidden
	}
	at := s.now()
	msg.Text = text
	msg.EditedAt = &at
	updated := *msg
	s.mu.Unlock()

	s.hub.Publish(Event{Type: EventUpdated, ConversationID: conversationID, MessageID: messageID})
	return updated, nil
}

// DeleteMessage removes a message. Only its sender may delete it.
func (s *Service) DeleteMessage(_ context.Context, messageID, userID string) error {
	s.mu.Lock()
	conversationID, pos, err := s.locateLocked(messageID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	msgs := s.messages[conversationID]
	if msgs[pos].Sender.String() != userID {
		s.mu.Unlock()
		return ErrForbidden
	}
	s.messages[conversationID] = append(msgs[:pos:pos], msgs[pos+1:]...)
	delete(s.index, messageID)
	s.mu.Unlock()

	s.hub.Publish(Event{Type: EventDeleted, ConversationID: conversationID, MessageID: messageID})
	return nil
}

func (s *Service) locateLocked(messageID string) (string, int, error) {
	conversationID, ok := s.index[messageID]
	if !ok {
		return "", 0, ErrMessageNotFound
	}
	for i, m := range s.messages[conversationID] {
		if m.ID == messageID {
			return conversationID, i, nil
		}
	}
	return "", 0, ErrMessageNotFound
}

// newID returns a 32-character hex identifier, the format of server-assigned
// ids.
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
