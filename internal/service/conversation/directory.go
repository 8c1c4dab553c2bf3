package conversation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/messenger/internal/backend"
	"github.com/zhouzirui/z-tavern/messenger/internal/logger"
	"github.com/zhouzirui/z-tavern/messenger/internal/model/social"
)

const (
	tableConversations = "conversations"
	tableParticipants  = "conversation_participants"
	tableProfiles      = "profiles"
)

var (
	ErrUserRequired = errors.New("user id is required")
	ErrSelfChat     = errors.New("cannot start a conversation with yourself")
	ErrNotCreated   = errors.New("backend returned no created conversation")
)

// Directory lists the people one can talk to and opens one-to-one
// conversations with them in the hosted backend.
type Directory struct {
	db *backend.Client
}

// NewDirectory creates a directory over db.
func NewDirectory(db *backend.Client) *Directory {
	return &Directory{db: db}
}

// Users returns every profile except selfID's.
func (d *Directory) Users(ctx context.Context, selfID string) ([]social.Profile, error) {
	if selfID == "" {
		return nil, ErrUserRequired
	}
	var profiles []social.Profile
	q := backend.From("*").Neq("id", selfID).Order("full_name", true)
	if err := d.db.Select(ctx, tableProfiles, q, &profiles); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return profiles, nil
}

// Start returns the conversation selfID already shares with otherID, or
// creates one with both as participants. created reports which happened.
func (d *Directory) Start(ctx context.Context, selfID, otherID string) (conversationID string, created bool, err error) {
	if selfID == "" || otherID == "" {
		return "", false, ErrUserRequired
	}
	if selfID == otherID {
		return "", false, ErrSelfChat
	}

	existing, err := d.shared(ctx, selfID, otherID)
	if err != nil {
		return "", false, err
	}
	if existing != "" {
		return existing, false, nil
	}

	var rows []social.Conversation
	if err := d.db.Insert(ctx, tableConversations, social.Conversation{CreatedBy: selfID}, &rows); err != nil {
		return "", false, fmt.Errorf("create conversation: %w", err)
	}
	if len(rows) == 0 {
		return "", false, ErrNotCreated
	}
	conversationID = rows[0].ID

	participants := []social.ConversationParticipant{
		{ConversationID: conversationID, UserID: selfID},
		{ConversationID: conversationID, UserID: otherID},
	}
	if err := d.db.Insert(ctx, tableParticipants, participants, nil); err != nil {
		return "", false, fmt.Errorf("add participants: %w", err)
	}

	logger.Log.Info("conversation_started",
		zap.String("conversation", conversationID),
		zap.String("user", selfID),
		zap.String("other", otherID),
	)
	return conversationID, true, nil
}

// shared finds a conversation both users take part in.
func (d *Directory) shared(ctx context.Context, selfID, otherID string) (string, error) {
	var mine []social.ConversationParticipant
	q := backend.From("conversation_id").Eq("user_id", selfID)
	if err := d.db.Select(ctx, tableParticipants, q, &mine); err != nil {
		return "", fmt.Errorf("list conversations: %w", err)
	}

	for _, m := range mine {
		var other []social.ConversationParticipant
		q := backend.From("user_id").Eq("conversation_id", m.ConversationID).Eq("user_id", otherID).Limit(1)
		if err := d.db.Select(ctx, tableParticipants, q, &other); err != nil {
			return "", fmt.Errorf("check participants: %w", err)
		}
		if len(other) > 0 {
			return m.ConversationID, nil
		}
	}
	return "", nil
}
