package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/zhouzirui/z-tavern/messenger/internal/model/chat"
)

// SignUpRequest is the body of /auth/register.
type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
}

// Credentials is the body of /auth/login and /auth/reset-password.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// EmailRequest carries only an email address.
type EmailRequest struct {
	Email string `json:"email"`
}

// OTPRequest carries an email address and a one-time code.
type OTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// LoginResult is the decoded /auth/login answer. The user is taken from the
// nested "user" field when present, else from the flat body.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	User         chat.User
}

// AuthReply is the free-form body the other auth endpoints answer with.
type AuthReply struct {
	Message string          `json:"message,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

func (c *Client) postAuth(ctx context.Context, route string, body any) (AuthReply, error) {
	data, err := c.do(ctx, http.MethodPost, route, route, body, "")
	if err != nil {
		return AuthReply{}, err
	}
	reply := AuthReply{Raw: json.RawMessage(data)}
	if len(bytes.TrimSpace(data)) > 0 {
		_ = json.Unmarshal(data, &reply)
	}
	return reply, nil
}

// Register creates an account; the token arrives only after verification.
func (c *Client) Register(ctx context.Context, req SignUpRequest) (AuthReply, error) {
	return c.postAuth(ctx, "/auth/register", req)
}

// Login exchanges credentials for tokens.
func (c *Client) Login(ctx context.Context, req Credentials) (LoginResult, error) {
	data, err := c.do(ctx, http.MethodPost, "/auth/login", "/auth/login", req, "")
	if err != nil {
		return LoginResult{}, err
	}

	var body struct {
		AccessToken  string          `json:"accessToken"`
		RefreshToken string          `json:"refreshToken"`
		User         json.RawMessage `json:"user"`
	}
	if err := decodeJSON(data, &body); err != nil {
		return LoginResult{}, err
	}

	userRaw := []byte(body.User)
	if len(bytes.TrimSpace(userRaw)) == 0 || bytes.Equal(bytes.TrimSpace(userRaw), []byte("null")) {
		userRaw = data
	}
	var user chat.User
	if err := decodeJSON(userRaw, &user); err != nil {
		return LoginResult{}, fmt.Errorf("decode login user: %w", err)
	}

	return LoginResult{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		User:         user,
	}, nil
}

// Me returns the profile bound to token.
func (c *Client) Me(ctx context.Context, token string) (chat.User, error) {
	data, err := c.do(ctx, http.MethodGet, "/auth/me", "/auth/me", nil, token)
	if err != nil {
		return chat.User{}, err
	}
	var user chat.User
	if err := decodeJSON(data, &user); err != nil {
		return chat.User{}, err
	}
	if user.ID == "" {
		return chat.User{}, fmt.Errorf("%w: profile without _id", ErrMalformedResponse)
	}
	return user, nil
}

// Logout revokes token server-side.
func (c *Client) Logout(ctx context.Context, token string) error {
	_, err := c.do(ctx, http.MethodPost, "/auth/logout", "/auth/logout", nil, token)
	return err
}

// ForgotPassword starts the password reset flow.
func (c *Client) ForgotPassword(ctx context.Context, email string) (AuthReply, error) {
	return c.postAuth(ctx, "/auth/forgot-password", EmailRequest{Email: email})
}

// VerifyForgotOTP checks the reset code sent by ForgotPassword.
func (c *Client) VerifyForgotOTP(ctx context.Context, email, otp string) (AuthReply, error) {
	return c.postAuth(ctx, "/auth/verify-forgot-otp", OTPRequest{Email: email, OTP: otp})
}

// ResetPassword sets a new password after a verified reset code.
func (c *Client) ResetPassword(ctx context.Context, email, password string) (AuthReply, error) {
	return c.postAuth(ctx, "/auth/reset-password", Credentials{Email: email, Password: password})
}

// ResendOTP sends a fresh code for the pending verification.
func (c *Client) ResendOTP(ctx context.Context, email string) (AuthReply, error) {
	return c.postAuth(ctx, "/auth/resend-otp", EmailRequest{Email: email})
}

// SendVerificationEmail asks for an email verification code.
func (c *Client) SendVerificationEmail(ctx context.Context, email string) (AuthReply, error) {
	return c.postAuth(ctx, "/auth/send-verification", EmailRequest{Email: email})
}

// VerifyEmail confirms the address with the emailed code.
func (c *Client) VerifyEmail(ctx context.Context, email, otp string) (AuthReply, error) {
	return c.postAuth(ctx, "/auth/verify-email-otp", OTPRequest{Email: email, OTP: otp})
}
