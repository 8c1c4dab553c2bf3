package synchronizer

import (
	"context"
	"errors"
	"testing"

	"github.com/zhouzirui/z-tavern/messenger/internal/model/chat"
)

// switchTo binds conversationID and fetches it from inside a remote hook.
func switchTo(t *testing.T, s *Synchronizer, conversationID string) {
	t.Helper()
	if err := s.Bind(conversationID); err != nil {
		t.Fatalf("Bind err: %v", err)
	}
	if err := s.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch err: %v", err)
	}
}

func TestFailedEditAfterSwitchRollsBackStoredShadow(t *testing.T) {
	remote := newFakeRemote()
	remote.set("a", msg("m1", "u1", "original"))
	remote.set("b", msg("m9", "u2", "in b"))
	s, shadows := newTestSync(t, remote, "u1")
	bShadows := chat.ShadowSet{"m9": {Text: "b pending", EditedAt: epoch}}
	_ = shadows.Save("b", bShadows)
	switchTo(t, s, "a")

	remote.editErr = errors.New("HTTP error! status: 403")
	remote.onEdit = func(string, chat.EditRequest) { switchTo(t, s, "b") }
	if err := s.Edit(context.Background(), "m1", "never saved"); err == nil {
		t.Fatal("expected edit error")
	}

	if set, _ := shadows.Load("a"); len(set) != 0 {
		t.Fatalf("expected a's shadow rolled back, got %+v", set)
	}
	if set, _ := shadows.Load("b"); len(set) != 1 || set["m9"].Text != "b pending" {
		t.Fatalf("expected b's shadows untouched, got %+v", set)
	}
	if s.Err() != nil {
		t.Fatalf("expected no error recorded on b, got %v", s.Err())
	}
	if got := s.Messages(); len(got) != 1 || got[0].ID != "m9" || got[0].Text != "b pending" {
		t.Fatalf("expected b's list unaffected, got %+v", got)
	}

	remote.onEdit = nil
	switchTo(t, s, "a")
	if got := s.Messages()[0]; got.Text != "original" || got.Edited() {
		t.Fatalf("expected original text after rebinding, got %+v", got)
	}
}

func TestFailedEditAfterSwitchRestoresPreviousStoredShadow(t *testing.T) {
	remote := newFakeRemote()
	remote.set("a", msg("m1", "u1", "original"))
	s, shadows := newTestSync(t, remote, "u1")
	_ = shadows.Save("a", chat.ShadowSet{"m1": {Text: "earlier", EditedAt: epoch}})
	switchTo(t, s, "a")

	remote.editErr = errors.New("offline")
	remote.onEdit = func(string, chat.EditRequest) { switchTo(t, s, "b") }
	_ = s.Edit(context.Background(), "m1", "rejected")

	set, _ := shadows.Load("a")
	if len(set) != 1 || set["m1"].Text != "earlier" || !set["m1"].EditedAt.Equal(epoch) {
		t.Fatalf("expected previous shadow restored, got %+v", set)
	}
}

func TestFailedEditAfterRebindRollsBackReloadedShadow(t *testing.T) {
	remote := newFakeRemote()
	remote.set("a", msg("m1", "u1", "original"))
	s, shadows := newTestSync(t, remote, "u1")
	switchTo(t, s, "a")

	remote.editErr = errors.New("offline")
	remote.onEdit = func(string, chat.EditRequest) {
		switchTo(t, s, "b")
		switchTo(t, s, "a")
		if got := s.Messages()[0]; got.Text != "rejected" {
			t.Fatalf("expected reloaded shadow while in flight, got %+v", got)
		}
	}
	_ = s.Edit(context.Background(), "m1", "rejected")

	if got := s.Messages()[0]; got.Text != "original" || got.Edited() {
		t.Fatalf("expected reloaded shadow rolled back, got %+v", got)
	}
	if set, _ := shadows.Load("a"); len(set) != 0 {
		t.Fatalf("expected no persisted shadow, got %+v", set)
	}
}

func TestEditSettlingAfterSwitchDoesNotRefreshNewConversation(t *testing.T) {
	remote := newFakeRemote()
	remote.set("a", msg("m1", "u1", "original"))
	remote.set("b", msg("m9", "u2", "in b"))
	s, shadows := newTestSync(t, remote, "u1")
	switchTo(t, s, "a")

	var listed []string
	remote.onEdit = func(string, chat.EditRequest) {
		switchTo(t, s, "b")
		remote.beforeList = func(id string) { listed = append(listed, id) }
	}
	if err := s.Edit(context.Background(), "m1", "accepted"); err != nil {
		t.Fatalf("Edit err: %v", err)
	}

	if len(listed) != 0 {
		t.Fatalf("expected no refresh after switching, listed %v", listed)
	}
	if got := s.Messages(); len(got) != 1 || got[0].ID != "m9" {
		t.Fatalf("expected b's list unaffected, got %+v", got)
	}
	if set, _ := shadows.Load("b"); len(set) != 0 {
		t.Fatalf("expected no shadows for b, got %+v", set)
	}
	if set, _ := shadows.Load("a"); set["m1"].Text != "accepted" {
		t.Fatalf("expected a's shadow kept until the server reflects it, got %+v", set)
	}
}

func TestSendSettlingAfterSwitch(t *testing.T) {
	remote := newFakeRemote()
	remote.set("b", msg("m9", "u2", "in b"))
	s, _ := newTestSync(t, remote, "u1")
	switchTo(t, s, "a")

	var listed []string
	remote.onSend = func(chat.SendRequest) {
		switchTo(t, s, "b")
		remote.beforeList = func(id string) { listed = append(listed, id) }
	}
	if err := s.Send(context.Background(), "hello", "u2"); err != nil {
		t.Fatalf("Send err: %v", err)
	}

	if len(listed) != 0 {
		t.Fatalf("expected no refresh after switching, listed %v", listed)
	}
	if got := s.Messages(); len(got) != 1 || got[0].ID != "m9" {
		t.Fatalf("expected only b's message, got %+v", got)
	}
	if len(remote.sent) != 1 || remote.sent[0].ConversationID != "a" {
		t.Fatalf("expected send issued for a, got %+v", remote.sent)
	}
}

func TestFailedSendAfterSwitchLeavesNewConversation(t *testing.T) {
	remote := newFakeRemote()
	remote.set("b", msg("m9", "u2", "in b"))
	s, _ := newTestSync(t, remote, "u1")
	switchTo(t, s, "a")

	remote.sendErr = errors.New("offline")
	remote.onSend = func(chat.SendRequest) { switchTo(t, s, "b") }
	if err := s.Send(context.Background(), "hello", "u2"); err == nil {
		t.Fatal("expected send error")
	}

	if s.Err() != nil {
		t.Fatalf("expected no error recorded on b, got %v", s.Err())
	}
	if got := s.Messages(); len(got) != 1 || got[0].ID != "m9" {
		t.Fatalf("expected b's list unaffected, got %+v", got)
	}
}

func TestDeleteSettlingAfterSwitch(t *testing.T) {
	remote := newFakeRemote()
	remote.set("a", msg("m1", "u1", "original"))
	remote.set("b", msg("m9", "u2", "in b"))
	s, shadows := newTestSync(t, remote, "u1")
	_ = shadows.Save("a", chat.ShadowSet{"m1": {Text: "edited", EditedAt: epoch}})
	_ = shadows.Save("b", chat.ShadowSet{"m9": {Text: "b pending", EditedAt: epoch}})
	switchTo(t, s, "a")

	var listed []string
	remote.onDelete = func(string, chat.DeleteRequest) {
		switchTo(t, s, "b")
		remote.beforeList = func(id string) { listed = append(listed, id) }
	}
	if err := s.Delete(context.Background(), "m1"); err != nil {
		t.Fatalf("Delete err: %v", err)
	}

	if len(listed) != 0 {
		t.Fatalf("expected no refresh after switching, listed %v", listed)
	}
	if set, _ := shadows.Load("a"); len(set) != 0 {
		t.Fatalf("expected deleted message's shadow dropped from a, got %+v", set)
	}
	if set, _ := shadows.Load("b"); len(set) != 1 {
		t.Fatalf("expected b's shadows untouched, got %+v", set)
	}
	if got := s.Messages(); len(got) != 1 || got[0].Text != "b pending" {
		t.Fatalf("expected b's list unaffected, got %+v", got)
	}
}

func TestFailedDeleteAfterSwitchLeavesNewConversation(t *testing.T) {
	remote := newFakeRemote()
	remote.set("a", msg("m1", "u1", "original"))
	remote.set("b", msg("m1", "u2", "same id in b"))
	s, _ := newTestSync(t, remote, "u1")
	switchTo(t, s, "a")

	remote.deleteErr = errors.New("offline")
	remote.onDelete = func(string, chat.DeleteRequest) { switchTo(t, s, "b") }
	if err := s.Delete(context.Background(), "m1"); err == nil {
		t.Fatal("expected delete error")
	}

	if s.Err() != nil {
		t.Fatalf("expected no error recorded on b, got %v", s.Err())
	}
	if got := s.Messages(); len(got) != 1 || got[0].Text != "same id in b" {
		t.Fatalf("expected b's message visible, got %+v", got)
	}
}
