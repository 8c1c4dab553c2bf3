package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zhouzirui/z-tavern/messenger/internal/api"
	"github.com/zhouzirui/z-tavern/messenger/internal/devapi"
	"github.com/zhouzirui/z-tavern/messenger/internal/handler"
	"github.com/zhouzirui/z-tavern/messenger/internal/model/chat"
	"github.com/zhouzirui/z-tavern/messenger/internal/service/account"
	"github.com/zhouzirui/z-tavern/messenger/internal/service/auth"
	"github.com/zhouzirui/z-tavern/messenger/internal/session"
	"github.com/zhouzirui/z-tavern/messenger/internal/storage"
)

func setup(t *testing.T) (*devapi.API, *auth.Service, *session.Session) {
	t.Helper()
	dev := devapi.New(handler.Options{})
	srv := httptest.NewServer(dev.Handler())
	t.Cleanup(srv.Close)

	sess := session.New(storage.NewMemoryStore())
	client := api.New(srv.URL+"/api", sess, api.Options{})
	return dev, auth.NewService(client, sess), sess
}

func TestSignUpVerifyAndSignIn(t *testing.T) {
	dev, svc, sess := setup(t)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, "frank@example.com", "pw", "Frank", "123"); err != nil {
		t.Fatalf("SignUp err: %v", err)
	}

	_, err := svc.SignIn(ctx, "frank@example.com", "pw")
	var authErr *auth.Error
	if !errors.As(err, &authErr) || authErr.Message != account.ErrNotVerified.Error() {
		t.Fatalf("expected server message for unverified login, got %v", err)
	}
	if sess.Authenticated() {
		t.Fatal("failed login must not store a token")
	}

	if _, err := svc.ResendOTP(ctx, "frank@example.com"); err != nil {
		t.Fatalf("ResendOTP err: %v", err)
	}
	code := dev.LastCode("frank@example.com", account.PurposeVerify)
	if _, err := svc.VerifyEmail(ctx, "frank@example.com", code); err != nil {
		t.Fatalf("VerifyEmail err: %v", err)
	}

	user, err := svc.SignIn(ctx, "frank@example.com", "pw")
	if err != nil {
		t.Fatalf("SignIn err: %v", err)
	}
	if sess.Token() == "" || sess.RefreshToken() == "" {
		t.Fatal("expected tokens to be stored")
	}
	if sess.UserID() != user.ID.String() || user.FullName != "Frank" {
		t.Fatalf("unexpected stored user: %+v", user)
	}

	restored, err := svc.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore err: %v", err)
	}
	if restored.ID != user.ID {
		t.Fatalf("unexpected restored user: %+v", restored)
	}
}

func TestLogoutClearsLocallyAndRevokes(t *testing.T) {
	dev, svc, sess := setup(t)
	ctx := context.Background()

	if _, err := dev.SeedUser(ctx, "gina@example.com", "pw", "Gina", ""); err != nil {
		t.Fatalf("SeedUser err: %v", err)
	}
	if _, err := svc.SignIn(ctx, "gina@example.com", "pw"); err != nil {
		t.Fatalf("SignIn err: %v", err)
	}
	token := sess.Token()

	if err := svc.Logout(ctx); err != nil {
		t.Fatalf("Logout err: %v", err)
	}
	if sess.Authenticated() {
		t.Fatal("expected session to be cleared")
	}
	if _, err := dev.Accounts.Authenticate(token); err == nil {
		t.Fatal("expected token to be revoked server-side")
	}
}

func TestLogoutSucceedsWhenServerUnreachable(t *testing.T) {
	sess := session.New(storage.NewMemoryStore())
	client := api.New("http://127.0.0.1:1/api", sess, api.Options{})
	svc := auth.NewService(client, sess)

	if err := sess.SignIn("tok", "", chat.User{ID: "u1"}); err != nil {
		t.Fatalf("SignIn err: %v", err)
	}
	if err := svc.Logout(context.Background()); err != nil {
		t.Fatalf("Logout err: %v", err)
	}
	if sess.Authenticated() {
		t.Fatal("expected local session cleared even though the server is unreachable")
	}
}

func TestRestoreClearsSessionOnRejectedToken(t *testing.T) {
	_, svc, sess := setup(t)

	if _, err := svc.Restore(context.Background()); !errors.Is(err, auth.ErrNotSignedIn) {
		t.Fatalf("expected ErrNotSignedIn, got %v", err)
	}

	if err := sess.SignIn("stale-token", "", chat.User{ID: "u1"}); err != nil {
		t.Fatalf("SignIn err: %v", err)
	}
	_, err := svc.Restore(context.Background())
	if !api.IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401, got %v", err)
	}
	if sess.Authenticated() {
		t.Fatal("expected session cleared after rejected token")
	}
}

func TestPasswordResetFlow(t *testing.T) {
	dev, svc, _ := setup(t)
	ctx := context.Background()

	if _, err := dev.SeedUser(ctx, "hal@example.com", "old", "Hal", ""); err != nil {
		t.Fatalf("SeedUser err: %v", err)
	}
	if _, err := svc.ForgotPassword(ctx, "hal@example.com"); err != nil {
		t.Fatalf("ForgotPassword err: %v", err)
	}
	if _, err := svc.VerifyForgotOTP(ctx, "hal@example.com", "000000x"); err == nil {
		t.Fatal("expected wrong code to fail")
	}
	code := dev.LastCode("hal@example.com", account.PurposeReset)
	if _, err := svc.VerifyForgotOTP(ctx, "hal@example.com", code); err != nil {
		t.Fatalf("VerifyForgotOTP err: %v", err)
	}
	if _, err := svc.ResetPassword(ctx, "hal@example.com", "new"); err != nil {
		t.Fatalf("ResetPassword err: %v", err)
	}
	if _, err := svc.SignIn(ctx, "hal@example.com", "new"); err != nil {
		t.Fatalf("SignIn with new password err: %v", err)
	}
}

func TestGuardsSkipNetwork(t *testing.T) {
	sess := session.New(storage.NewMemoryStore())
	svc := auth.NewService(api.New("http://127.0.0.1:1/api", sess, api.Options{}), sess)
	ctx := context.Background()

	if _, err := svc.SignIn(ctx, " ", "pw"); !errors.Is(err, auth.ErrEmailRequired) {
		t.Fatalf("expected ErrEmailRequired, got %v", err)
	}
	if _, err := svc.SignUp(ctx, "x@example.com", "", "", ""); !errors.Is(err, auth.ErrPasswordRequired) {
		t.Fatalf("expected ErrPasswordRequired, got %v", err)
	}
	if _, err := svc.VerifyEmail(ctx, "x@example.com", ""); !errors.Is(err, auth.ErrOTPRequired) {
		t.Fatalf("expected ErrOTPRequired, got %v", err)
	}
}
