package session

import (
	"testing"

	"github.com/zhouzirui/z-tavern/messenger/internal/model/chat"
	"github.com/zhouzirui/z-tavern/messenger/internal/storage"
)

func TestSessionSignInAndClear(t *testing.T) {
	store := storage.NewMemoryStore()
	sess := New(store)

	if sess.Authenticated() || sess.UserID() != "" {
		t.Fatal("expected empty session")
	}

	if err := sess.SignIn("tok", "ref", chat.User{ID: "u1", FullName: "Ann"}); err != nil {
		t.Fatalf("SignIn err: %v", err)
	}

	reopened := New(store)
	if reopened.Token() != "tok" || reopened.RefreshToken() != "ref" {
		t.Fatalf("unexpected tokens %q %q", reopened.Token(), reopened.RefreshToken())
	}
	if reopened.UserID() != "u1" {
		t.Fatalf("expected user u1, got %q", reopened.UserID())
	}

	if err := reopened.Clear(); err != nil {
		t.Fatalf("Clear err: %v", err)
	}
	if sess.Authenticated() || sess.UserID() != "" {
		t.Fatal("expected cleared session")
	}
}

func TestSessionRejectsEmptyToken(t *testing.T) {
	sess := New(storage.NewMemoryStore())
	if err := sess.SignIn("", "", chat.User{ID: "u1"}); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestSessionNumericUserID(t *testing.T) {
	store := storage.NewMemoryStore()
	store.Set(keyUser, []byte(`{"_id":1001,"fullName":"Bob"}`))

	if got := New(store).UserID(); got != "1001" {
		t.Fatalf("expected 1001, got %q", got)
	}
}
