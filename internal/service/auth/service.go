// Package auth drives the account flows against the REST API and keeps the
// resulting credentials in the session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/messenger/internal/api"
	"github.com/zhouzirui/z-tavern/messenger/internal/logger"
	"github.com/zhouzirui/z-tavern/messenger/internal/model/chat"
	"github.com/zhouzirui/z-tavern/messenger/internal/session"
)

var (
	ErrEmailRequired    = errors.New("email is required")
	ErrPasswordRequired = errors.New("password is required")
	ErrOTPRequired      = errors.New("otp is required")
	ErrNotSignedIn      = errors.New("not signed in")
	ErrMissingToken     = errors.New("login response carried no access token")
)

// Service 封装认证接口调用与会话持久化
type Service struct {
	client  *api.Client
	session *session.Session
}

// NewService 创建认证服务
func NewService(client *api.Client, sess *session.Session) *Service {
	return &Service{client: client, session: sess}
}

// Error is a failed auth operation. Message is what the user should see:
// the server's own message when it sent one, else a default per operation.
type Error struct {
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func fail(op, fallback string, err error) error {
	logger.Log.Warn("auth_failed", zap.String("op", op), zap.Error(err))
	return &Error{Op: op, Message: api.ServerMessage(err, fallback), Err: err}
}

// SignUp registers an account. The server sends a verification code.
func (s *Service) SignUp(ctx context.Context, email, password, fullName, phone string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrEmailRequired
	}
	if password == "" {
		return "", ErrPasswordRequired
	}

	reply, err := s.client.Register(ctx, api.SignUpRequest{
		Email:    email,
		Password: password,
		FullName: strings.TrimSpace(fullName),
		Phone:    strings.TrimSpace(phone),
	})
	if err != nil {
		return "", fail("signup", "Registration failed", err)
	}
	return reply.Message, nil
}

// SignIn logs in and stores the token, optional refresh token and user.
func (s *Service) SignIn(ctx context.Context, email, password string) (chat.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return chat.User{}, ErrEmailRequired
	}
	if password == "" {
		return chat.User{}, ErrPasswordRequired
	}

	res, err := s.client.Login(ctx, api.Credentials{Email: email, Password: password})
	if err != nil {
		return chat.User{}, fail("login", "Login failed", err)
	}
	if res.AccessToken == "" {
		return chat.User{}, fail("login", "Login failed", ErrMissingToken)
	}
	if err := s.session.SignIn(res.AccessToken, res.RefreshToken, res.User); err != nil {
		return chat.User{}, fmt.Errorf("persist session: %w", err)
	}

	logger.Log.Info("signed_in", zap.String("user", res.User.ID.String()))
	return res.User, nil
}

// Restore validates the stored token against /auth/me and refreshes the
// stored user. Any failure clears the session.
func (s *Service) Restore(ctx context.Context) (chat.User, error) {
	token := s.session.Token()
	if token == "" {
		return chat.User{}, ErrNotSignedIn
	}

	user, err := s.client.Me(ctx, token)
	if err != nil {
		if clearErr := s.session.Clear(); clearErr != nil {
			logger.Log.Warn("session_clear_failed", zap.Error(clearErr))
		}
		return chat.User{}, fail("me", "Session expired", err)
	}
	if err := s.session.SetUser(user); err != nil {
		return chat.User{}, fmt.Errorf("persist user: %w", err)
	}
	return user, nil
}

// Logout clears the session first, then tells the server with the token
// captured before clearing. The server call is best effort.
func (s *Service) Logout(ctx context.Context) error {
	token := s.session.Token()
	if err := s.session.Clear(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	if token == "" {
		return nil
	}
	if err := s.client.Logout(ctx, token); err != nil {
		logger.Log.Warn("logout_request_failed", zap.Error(err))
	}
	return nil
}

// ForgotPassword sends a reset code to email.
func (s *Service) ForgotPassword(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrEmailRequired
	}
	reply, err := s.client.ForgotPassword(ctx, email)
	if err != nil {
		return "", fail("forgot_password", "Failed to send reset code", err)
	}
	return reply.Message, nil
}

// VerifyForgotOTP checks the reset code.
func (s *Service) VerifyForgotOTP(ctx context.Context, email, otp string) (string, error) {
	email, otp = strings.TrimSpace(email), strings.TrimSpace(otp)
	if email == "" {
		return "", ErrEmailRequired
	}
	if otp == "" {
		return "", ErrOTPRequired
	}
	reply, err := s.client.VerifyForgotOTP(ctx, email, otp)
	if err != nil {
		return "", fail("verify_forgot_otp", "Invalid or expired code", err)
	}
	return reply.Message, nil
}

// ResetPassword sets a new password after VerifyForgotOTP.
func (s *Service) ResetPassword(ctx context.Context, email, password string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrEmailRequired
	}
	if password == "" {
		return "", ErrPasswordRequired
	}
	reply, err := s.client.ResetPassword(ctx, email, password)
	if err != nil {
		return "", fail("reset_password", "Failed to reset password", err)
	}
	return reply.Message, nil
}

// ResendOTP asks for a fresh code.
func (s *Service) ResendOTP(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrEmailRequired
	}
	reply, err := s.client.ResendOTP(ctx, email)
	if err != nil {
		return "", fail("resend_otp", "Failed to resend code", err)
	}
	return reply.Message, nil
}

// SendVerificationEmail asks for an email verification code.
func (s *Service) SendVerificationEmail(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrEmailRequired
	}
	reply, err := s.client.SendVerificationEmail(ctx, email)
	if err != nil {
		return "", fail("send_verification", "Failed to send verification email", err)
	}
	return reply.Message, nil
}

// VerifyEmail confirms the address with the emailed code.
func (s *Service) VerifyEmail(ctx context.Context, email, otp string) (string, error) {
	email, otp = strings.TrimSpace(email), strings.TrimSpace(otp)
	if email == "" {
		return "", ErrEmailRequired
	}
	if otp == "" {
		return "", ErrOTPRequired
	}
	reply, err := s.client.VerifyEmail(ctx, email, otp)
	if err != nil {
		return "", fail("verify_email", "Verification failed", err)
	}
	return reply.Message, nil
}
