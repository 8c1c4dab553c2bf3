package call

import (
	"context"
	"errors"
	"testing"

	"github.com/zhouzirui/z-tavern/messenger/internal/backend"
	"github.com/zhouzirui/z-tavern/messenger/internal/backend/backendtest"
	"github.com/zhouzirui/z-tavern/messenger/internal/model/social"
)

func setup(t *testing.T) (*Service, *backendtest.Server) {
	t.Helper()
	srv := backendtest.NewServer("anon")
	t.Cleanup(srv.Close)
	return NewService(backend.New(srv.URL, "anon", srv.Client())), srv
}

func TestHistory(t *testing.T) {
	svc, srv := setup(t)
	srv.Seed("profiles",
		backendtest.Row{"id": "me", "full_name": "Me"},
		backendtest.Row{"id": "ann", "full_name": "Ann"},
		backendtest.Row{"id": "bob", "full_name": "Bob"},
	)
	srv.Seed("conversation_participants",
		backendtest.Row{"conversation_id": "c1", "user_id": "me"},
		backendtest.Row{"conversation_id": "c1", "user_id": "ann"},
		backendtest.Row{"conversation_id": "c2", "user_id": "me"},
		backendtest.Row{"conversation_id": "c2", "user_id": "bob"},
		backendtest.Row{"conversation_id": "c3", "user_id": "ann"},
		backendtest.Row{"conversation_id": "c3", "user_id": "bob"},
	)
	srv.Seed("calls",
		backendtest.Row{"id": "k1", "conversation_id": "c1", "caller_id": "ann", "call_type": "voice", "status": "missed", "created_at": "2026-03-01T10:00:00Z"},
		backendtest.Row{"id": "k2", "conversation_id": "c2", "caller_id": "me", "call_type": "video", "status": "completed", "created_at": "2026-03-01T11:00:00Z"},
		backendtest.Row{"id": "k3", "conversation_id": "c3", "caller_id": "ann", "call_type": "voice", "status": "completed", "created_at": "2026-03-01T12:00:00Z"},
	)

	calls, err := svc.History(context.Background(), "me")
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(calls) != 2 || calls[0].ID != "k2" || calls[1].ID != "k1" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
	if calls[0].Caller == nil || calls[0].Caller.FullName != "Me" {
		t.Fatalf("expected caller profile, got %+v", calls[0].Caller)
	}
	if calls[0].OtherUser == nil || calls[0].OtherUser.FullName != "Bob" {
		t.Fatalf("expected other participant Bob, got %+v", calls[0].OtherUser)
	}
	if calls[1].OtherUser == nil || calls[1].OtherUser.FullName != "Ann" {
		t.Fatalf("expected other participant Ann, got %+v", calls[1].OtherUser)
	}
}

func TestHistoryWithoutConversations(t *testing.T) {
	svc, _ := setup(t)
	calls, err := svc.History(context.Background(), "me")
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if calls == nil || len(calls) != 0 {
		t.Fatalf("expected empty call list, got %+v", calls)
	}
}

func TestStart(t *testing.T) {
	svc, srv := setup(t)

	c, err := svc.Start(context.Background(), "c1", "me", social.CallVideo)
	if err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if c.ID == "" || c.Status != social.CallOngoing || c.CallType != social.CallVideo {
		t.Fatalf("unexpected call: %+v", c)
	}

	participants := srv.Rows("call_participants")
	if len(participants) != 1 {
		t.Fatalf("expected one participant, got %d", len(participants))
	}
	if participants[0]["call_id"] != c.ID || participants[0]["user_id"] != "me" || participants[0]["status"] != social.ParticipantJoined {
		t.Fatalf("unexpected participant: %+v", participants[0])
	}
}

func TestStartValidation(t *testing.T) {
	svc, srv := setup(t)
	if _, err := svc.Start(context.Background(), "c1", "me", "fax"); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
	if _, err := svc.Start(context.Background(), "", "me", social.CallVoice); !errors.Is(err, ErrConversationRequired) {
		t.Fatalf("expected ErrConversationRequired, got %v", err)
	}
	if _, err := svc.Start(context.Background(), "c1", "", social.CallVoice); !errors.Is(err, ErrUserRequired) {
		t.Fatalf("expected ErrUserRequired, got %v", err)
	}
	if rows := srv.Rows("calls"); len(rows) != 0 {
		t.Fatalf("expected no calls stored, got %d", len(rows))
	}
}
