package chat

import "time"

// EditShadow is a locally cached override of a message's text and edit time,
// kept until the server reflects the edit.
type EditShadow struct {
	Text     string    `json:"text"`
	EditedAt time.Time `json:"editedAt"`
}

// ShadowSet maps message identifiers to their pending edit shadows.
type ShadowSet map[string]EditShadow

// Clone returns an independent copy of the set.
func (s ShadowSet) Clone() ShadowSet {
	out := make(ShadowSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Apply superimposes the shadow of msg, if any, and reports whether it did.
func (s ShadowSet) Apply(msg *Message) bool {
	shadow, ok := s[msg.ID]
	if !ok {
		return false
	}
	editedAt := shadow.EditedAt
	msg.Text = shadow.Text
	msg.EditedAt = &editedAt
	return true
}
