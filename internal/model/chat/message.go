package chat

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Message is one entry of a conversation thread as exchanged with the API.
// IsOwn is derived locally and never sent back to the server.
type Message struct {
	ID             string     `json:"_id"`
	ConversationID string     `json:"conversationId,omitempty"`
	Sender         ID         `json:"sender"`
	Receiver       ID         `json:"receiver,omitempty"`
	Text           string     `json:"text"`
	CreatedAt      time.Time  `json:"createdAt"`
	EditedAt       *time.Time `json:"editedAt,omitempty"`
	IsOwn          bool       `json:"isOwn"`
}

// Edited reports whether the message carries an edit timestamp.
func (m Message) Edited() bool {
	return m.EditedAt != nil && !m.EditedAt.IsZero()
}

// ID is a user or message identifier that the API may encode as a string,
// a number or a populated document carrying an "_id" field.
type ID string

// String returns the identifier as plain text.
func (id ID) String() string { return string(id) }

// UnmarshalJSON normalises every accepted wire shape into a string.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
	case '{':
		var doc struct {
			ID  *ID `json:"_id"`
			Alt *ID `json:"id"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		switch {
		case doc.ID != nil:
			*id = *doc.ID
		case doc.Alt != nil:
			*id = *doc.Alt
		default:
			*id = ""
		}
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			*id = ID(strconv.FormatInt(i, 10))
			return nil
		}
		*id = ID(n.String())
	}
	return nil
}

// SendRequest is the body of a create-message call.
type SendRequest struct {
	ConversationID string `json:"conversationId"`
	Receiver       string `json:"receiver"`
	Text           string `json:"text"`
}

// EditRequest is the body of an edit-message call.
type EditRequest struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
}

// DeleteRequest is the body of a delete-message call.
type DeleteRequest struct {
	UserID string `json:"userId"`
}
