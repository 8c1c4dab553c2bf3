package chat

import (
	"encoding/json"
	"testing"
	"time"
)

func TestIDAcceptsWireShapes(t *testing.T) {
	cases := map[string]string{
		`"u1"`:                 "u1",
		`42`:                   "42",
		`{"_id":"abc"}`:        "abc",
		`{"id":7}`:             "7",
		`null`:                 "",
		`{"fullName":"nobody"}`: "",
	}

	for raw, want := range cases {
		var id ID
		if err := json.Unmarshal([]byte(raw), &id); err != nil {
			t.Fatalf("unmarshal %s err: %v", raw, err)
		}
		if id.String() != want {
			t.Fatalf("unmarshal %s: got %q want %q", raw, id, want)
		}
	}
}

func TestMessageDecodesPopulatedSender(t *testing.T) {
	raw := `{"_id":"m1","text":"hi","sender":{"_id":"u1","fullName":"Ann"},"createdAt":"2024-05-01T10:00:00Z"}`

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal err: %v", err)
	}
	if msg.Sender != "u1" {
		t.Fatalf("expected sender u1, got %s", msg.Sender)
	}
	if msg.Edited() {
		t.Fatal("expected unedited message")
	}
}

func TestShadowSetApply(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	set := ShadowSet{"m1": {Text: "fixed", EditedAt: at}}

	msg := Message{ID: "m1", Text: "typo"}
	if !set.Apply(&msg) {
		t.Fatal("expected shadow to apply")
	}
	if msg.Text != "fixed" || msg.EditedAt == nil || !msg.EditedAt.Equal(at) {
		t.Fatalf("unexpected message after apply: %+v", msg)
	}

	other := Message{ID: "m2", Text: "keep"}
	if set.Apply(&other) {
		t.Fatal("expected no shadow for m2")
	}
}
