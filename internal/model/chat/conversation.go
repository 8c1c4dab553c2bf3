package chat

// Participant is the other side of a one-to-one conversation.
type Participant struct {
	FullName string `json:"fullName"`
	Phone    string `json:"phone,omitempty"`
	Receiver ID     `json:"receiver"`
}

// ChatUser pairs a conversation with its counterpart.
type ChatUser struct {
	ConversationID string      `json:"conversationId"`
	Participant    Participant `json:"participant"`
}

// ChatUsers is the payload of the chat users listing.
type ChatUsers struct {
	UniqueUsers []ChatUser `json:"uniqueUsers"`
}

// User is the account profile returned by the auth endpoints.
type User struct {
	ID       ID     `json:"_id"`
	FullName string `json:"fullName,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	Verified bool   `json:"isVerified,omitempty"`
}
