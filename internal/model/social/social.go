package social

import "time"

// Content types of a status update.
const (
	ContentImage = "image"
	ContentVideo = "video"
	ContentText  = "text"
)

// Call types and states.
const (
	CallVoice = "voice"
	CallVideo = "video"

	CallOngoing   = "ongoing"
	CallCompleted = "completed"
	CallMissed    = "missed"
	CallRejected  = "rejected"
)

// Profile is the public profile row of a user.
type Profile struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	FullName   string     `json:"full_name"`
	AvatarURL  *string    `json:"avatar_url"`
	StatusText string     `json:"status_text"`
	IsOnline   bool       `json:"is_online"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
}

// StatusUpdate is a story that expires after a day.
type StatusUpdate struct {
	ID          string     `json:"id,omitempty"`
	UserID      string     `json:"user_id"`
	ContentType string     `json:"content_type"`
	ContentURL  *string    `json:"content_url"`
	Caption     *string    `json:"caption"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`

	Author *Profile `json:"-"`
}

// StatusView records that a user opened a status update.
type StatusView struct {
	StatusID string `json:"status_id"`
	ViewerID string `json:"viewer_id"`
}

// Call is one voice or video call within a conversation.
type Call struct {
	ID             string     `json:"id,omitempty"`
	ConversationID string     `json:"conversation_id"`
	CallerID       string     `json:"caller_id"`
	CallType       string     `json:"call_type"`
	Status         string     `json:"status"`
	Duration       int        `json:"duration"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`

	Caller    *Profile `json:"-"`
	OtherUser *Profile `json:"-"`
}

// Participant states of a call.
const (
	ParticipantJoined = "joined"
)

// CallParticipant links a user to a call.
type CallParticipant struct {
	CallID string `json:"call_id"`
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// Conversation is a conversation row of the hosted backend.
type Conversation struct {
	ID        string     `json:"id,omitempty"`
	IsGroup   bool       `json:"is_group"`
	Name      *string    `json:"name,omitempty"`
	CreatedBy string     `json:"created_by"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// ConversationParticipant links a user to a conversation.
type ConversationParticipant struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}
