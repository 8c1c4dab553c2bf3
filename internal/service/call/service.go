// Package call keeps the voice and video call log of the hosted backend.
package call

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
	tableCalls                    = "calls"
	tableCallParticipants         = "call_participants"
	tableConversationParticipants = "conversation_participants"
	tableProfiles                 = "profiles"
)

var (
	ErrUserRequired         = errors.New("user id is required")
	ErrConversationRequired = errors.New("conversation id is required")
	ErrInvalidType          = errors.New("call type must be voice or video")
	ErrNotCreated           = errors.New("backend returned no created call")
)

// Service reads and starts calls.
type Service struct {
	db *backend.Client
}

// NewService creates a call service.
func NewService(db *backend.Client) *Service {
	return &Service{db: db}
}

// History returns the calls of every conversation userID takes part in,
// newest first, with the caller and the other participant attached.
func (s *Service) History(ctx context.Context, userID string) ([]social.Call, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}

	var memberships []social.ConversationParticipant
	q := backend.From("conversation_id").Eq("user_id", userID)
	if err := s.db.Select(ctx, tableConversationParticipants, q, &memberships); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if len(memberships) == 0 {
		return []social.Call{}, nil
	}

	ids := make([]string, 0, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.ConversationID)
	}

	var calls []social.Call
	q = backend.From("*").In("conversation_id", ids).Order("created_at", false)
	if err := s.db.Select(ctx, tableCalls, q, &calls); err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}

	profiles := make(map[string]*social.Profile)
	lookup := func(id string) *social.Profile {
		if p, ok := profiles[id]; ok {
			return p
		}
		p := s.profile(ctx, id)
		profiles[id] = p
		return p
	}

	for i := range calls {
		calls[i].Caller = lookup(calls[i].CallerID)
		if other := s.otherParticipant(ctx, calls[i].ConversationID, userID); other != "" {
			calls[i].OtherUser = lookup(other)
		}
	}
	return calls, nil
}

// Start logs an ongoing call placed by callerID and joins the caller to it.
func (s *Service) Start(ctx context.Context, conversationID, callerID, callType string) (social.Call, error) {
	if conversationID == "" {
		return social.Call{}, ErrConversationRequired
	}
	if callerID == "" {
		return social.Call{}, ErrUserRequired
	}
	if callType != social.CallVoice && callType != social.CallVideo {
		return social.Call{}, ErrInvalidType
	}

	var created []social.Call
	row := social.Call{
		ConversationID: conversationID,
		CallerID:       callerID,
		CallType:       callType,
		Status:         social.CallOngoing,
	}
	if err := s.db.Insert(ctx, tableCalls, row, &created); err != nil {
		return social.Call{}, fmt.Errorf("create call: %w", err)
	}
	if len(created) == 0 {
		return social.Call{}, ErrNotCreated
	}
	c := created[0]

	participant := social.CallParticipant{CallID: c.ID, UserID: callerID, Status: social.ParticipantJoined}
	if err := s.db.Insert(ctx, tableCallParticipants, participant, nil); err != nil {
		return c, fmt.Errorf("join call: %w", err)
	}

	logger.Log.Info("call_started",
		zap.String("call", c.ID),
		zap.String("conversation", conversationID),
		zap.String("type", callType),
	)
	return c, nil
}

func (s *Service) otherParticipant(ctx context.Context, conversationID, userID string) string {
	var rows []social.ConversationParticipant
	q := backend.From("user_id").Eq("conversation_id", conversationID).Neq("user_id", userID).Limit(1)
	if err := s.db.Select(ctx, tableConversationParticipants, q, &rows); err != nil {
		logger.Log.Warn("call_participant_lookup_failed", zap.String("conversation", conversationID), zap.Error(err))
		return ""
	}
	if len(rows) == 0 {
		return ""
	}
	return rows[0].UserID
}

func (s *Service) profile(ctx context.Context, userID string) *social.Profile {
	var rows []social.Profile
	if err := s.db.Select(ctx, tableProfiles, backend.From("*").Eq("id", userID).Limit(1), &rows); err != nil {
		logger.Log.Warn("profile_lookup_failed", zap.String("user", userID), zap.Error(err))
		return nil
	}
	if len(rows) == 0 {
		return nil
	}
	return &rows[0]
}
