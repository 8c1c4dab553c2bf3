package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/zhouzirui/z-tavern/messenger/internal/backend"
	"github.com/zhouzirui/z-tavern/messenger/internal/backend/backendtest"
)

func setupDirectory(t *testing.T) (*Directory, *backendtest.Server) {
	t.Helper()
	srv := backendtest.NewServer("anon")
	t.Cleanup(srv.Close)
	return NewDirectory(backend.New(srv.URL, "anon", srv.Client())), srv
}

func TestDirectoryUsersExcludesSelf(t *testing.T) {
	dir, srv := setupDirectory(t)
	srv.Seed("profiles",
		backendtest.Row{"id": "me", "full_name": "Me"},
		backendtest.Row{"id": "bob", "full_name": "Bob"},
		backendtest.Row{"id": "ann", "full_name": "Ann"},
	)

	users, err := dir.Users(context.Background(), "me")
	if err != nil {
		t.Fatalf("Users err: %v", err)
	}
	if len(users) != 2 || users[0].ID != "ann" || users[1].ID != "bob" {
		t.Fatalf("unexpected users: %+v", users)
	}
}

func TestDirectoryStartCreatesConversation(t *testing.T) {
	dir, srv := setupDirectory(t)

	id, created, err := dir.Start(context.Background(), "me", "bob")
	if err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if id == "" || !created {
		t.Fatalf("expected a new conversation, got %q created=%v", id, created)
	}

	convs := srv.Rows("conversations")
	if len(convs) != 1 || convs[0]["id"] != id || convs[0]["created_by"] != "me" || convs[0]["is_group"] != false {
		t.Fatalf("unexpected conversations: %+v", convs)
	}
	participants := srv.Rows("conversation_participants")
	if len(participants) != 2 {
		t.Fatalf("expected two participants, got %+v", participants)
	}
	for _, p := range participants {
		if p["conversation_id"] != id {
			t.Fatalf("participant in wrong conversation: %+v", p)
		}
	}
}

func TestDirectoryStartReusesSharedConversation(t *testing.T) {
	dir, srv := setupDirectory(t)
	srv.Seed("conversation_participants",
		backendtest.Row{"conversation_id": "c1", "user_id": "me"},
		backendtest.Row{"conversation_id": "c1", "user_id": "ann"},
		backendtest.Row{"conversation_id": "c2", "user_id": "me"},
		backendtest.Row{"conversation_id": "c2", "user_id": "bob"},
	)

	id, created, err := dir.Start(context.Background(), "me", "bob")
	if err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if id != "c2" || created {
		t.Fatalf("expected existing c2, got %q created=%v", id, created)
	}
	if rows := srv.Rows("conversations"); len(rows) != 0 {
		t.Fatalf("expected no new conversation, got %+v", rows)
	}

	again, created, err := dir.Start(context.Background(), "bob", "me")
	if err != nil || again != "c2" || created {
		t.Fatalf("expected c2 from the other side, got %q created=%v err=%v", again, created, err)
	}
}

func TestDirectoryStartValidation(t *testing.T) {
	dir, srv := setupDirectory(t)
	if _, _, err := dir.Start(context.Background(), "me", "me"); !errors.Is(err, ErrSelfChat) {
		t.Fatalf("expected ErrSelfChat, got %v", err)
	}
	if _, _, err := dir.Start(context.Background(), "me", ""); !errors.Is(err, ErrUserRequired) {
		t.Fatalf("expected ErrUserRequired, got %v", err)
	}
	if _, err := dir.Users(context.Background(), ""); !errors.Is(err, ErrUserRequired) {
		t.Fatalf("expected ErrUserRequired, got %v", err)
	}
	if rows := srv.Rows("conversations"); len(rows) != 0 {
		t.Fatalf("expected nothing stored, got %+v", rows)
	}
}
