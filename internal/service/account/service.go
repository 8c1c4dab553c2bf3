package account

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/zhouzirui/z-tavern/messenger/internal/model/chat"
)

var (
	ErrEmailRequired      = errors.New("email is required")
	ErrPasswordRequired   = errors.New("password is required")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotVerified        = errors.New("email not verified")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidOTP         = errors.New("invalid or expired otp")
	ErrResetNotAllowed    = errors.New("password reset not verified")
	ErrInvalidToken       = errors.New("invalid token")
)

const otpTTL = 10 * time.Minute

// OTP purposes.
const (
	PurposeVerify = "verify"
	PurposeReset  = "reset"
)

// Service keeps accounts, one-time codes and issued tokens in memory for the
// development server.
type Service struct {
	mu       sync.RWMutex
	users    map[string]*account // by id
	byEmail  map[string]string
	tokens   map[string]string // access or refresh token -> user id
	otps     map[string]otp    // email -> pending code
	resets   map[string]bool   // email -> reset code verified
	now      func() time.Time
	code     func() string
	delivery func(email, purpose, code string)
}

type account struct {
	user     chat.User
	password []byte
}

type otp struct {
	code    string
	purpose string
	expires time.Time
}

// Tokens is the result of a successful login.
type Tokens struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	User         chat.User `json:"user"`
}

// NewService creates an empty account service. delivery receives every
// issued code; the development server logs it.
func NewService(delivery func(email, purpose, code string)) *Service {
	if delivery == nil {
		delivery = func(string, string, string) {}
	}
	return &Service{
		users:    make(map[string]*account),
		byEmail:  make(map[string]string),
		tokens:   make(map[string]string),
		otps:     make(map[string]otp),
		resets:   make(map[string]bool),
		now:      time.Now,
		code:     randomCode,
		delivery: delivery,
	}
}

// Register creates an unverified account and sends a verification code.
func (s *Service) Register(_ context.Context, email, password, fullName, phone string) (chat.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return chat.User{}, ErrEmailRequired
	}
	if password == "" {
		return chat.User{}, ErrPasswordRequired
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return chat.User{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	if _, exists := s.byEmail[email]; exists {
		s.mu.Unlock()
		return chat.User{}, ErrEmailTaken
	}
	user := chat.User{
		ID:       chat.ID(strings.ReplaceAll(uuid.NewString(), "-", "")),
		FullName: strings.TrimSpace(fullName),
		Email:    email,
		Phone:    strings.TrimSpace(phone),
	}
	s.users[user.ID.String()] = &account{user: user, password: hash}
	s.byEmail[email] = user.ID.String()
	code := s.issueLocked(email, PurposeVerify)
	s.mu.Unlock()

	s.delivery(email, PurposeVerify, code)
	return user, nil
}

// Seed creates an already verified account.
func (s *Service) Seed(ctx context.Context, email, password, fullName, phone string) (chat.User, error) {
	user, err := s.Register(ctx, email, password, fullName, phone)
	if err != nil {
		return chat.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.otps, user.Email)
	acc := s.users[user.ID.String()]
	acc.user.Verified = true
	return acc.user, nil
}

// Login checks credentials of a verified account and issues tokens.
func (s *Service) Login(_ context.Context, email, password string) (Tokens, error) {
	email = normalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accountByEmailLocked(email)
	if !ok || bcrypt.CompareHashAndPassword(acc.password, []byte(password)) != nil {
		return Tokens{}, ErrInvalidCredentials
	}
	if !acc.user.Verified {
		return Tokens{}, ErrNotVerified
	}

	t := Tokens{AccessToken: uuid.NewString(), RefreshToken: uuid.NewString(), User: acc.user}
	s.tokens[t.AccessToken] = acc.user.ID.String()
	s.tokens[t.RefreshToken] = acc.user.ID.String()
	return t, nil
}

// Authenticate resolves a bearer token to its user.
func (s *Service) Authenticate(token string) (chat.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.tokens[token]
	if !ok || token == "" {
		return chat.User{}, ErrInvalidToken
	}
	acc, ok := s.users[id]
	if !ok {
		return chat.User{}, ErrInvalidToken
	}
	return acc.user, nil
}

// Logout revokes a token.
func (s *Service) Logout(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// User looks an account up by id.
func (s *Service) User(id string) (chat.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.users[id]
	if !ok {
		return chat.User{}, false
	}
	return acc.user, true
}

// SendVerification issues a new verification code for an account.
func (s *Service) SendVerification(_ context.Context, email string) error {
	return s.send(email, PurposeVerify)
}

// ResendOTP reissues the code of the pending flow, verification by default.
func (s *Service) ResendOTP(_ context.Context, email string) error {
	email = normalizeEmail(email)
	s.mu.RLock()
	purpose := PurposeVerify
	if pending, ok := s.otps[email]; ok {
		purpose = pending.purpose
	}
	s.mu.RUnlock()
	return s.send(email, purpose)
}

// VerifyEmail marks the account verified when the code matches.
func (s *Service) VerifyEmail(_ context.Context, email, code string) (chat.User, error) {
	email = normalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.consumeLocked(email, PurposeVerify, code); err != nil {
		return chat.User{}, err
	}
	acc, ok := s.accountByEmailLocked(email)
	if !ok {
		return chat.User{}, ErrUserNotFound
	}
	acc.user.Verified = true
	return acc.user, nil
}

// ForgotPassword sends a reset code.
func (s *Service) ForgotPassword(_ context.Context, email string) error {
	return s.send(email, PurposeReset)
}

// VerifyForgotOTP checks the reset code and allows one password reset.
func (s *Service) VerifyForgotOTP(_ context.Context, email, code string) error {
	email = normalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.consumeLocked(email, PurposeReset, code); err != nil {
		return err
	}
	s.resets[email] = true
	return nil
}

// ResetPassword sets a new password after VerifyForgotOTP succeeded.
func (s *Service) ResetPassword(_ context.Context, email, password string) error {
	email = normalizeEmail(email)
	if password == "" {
		return ErrPasswordRequired
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.resets[email] {
		return ErrResetNotAllowed
	}
	acc, ok := s.accountByEmailLocked(email)
	if !ok {
		return ErrUserNotFound
	}
	acc.password = hash
	delete(s.resets, email)
	return nil
}

func (s *Service) send(email, purpose string) error {
	email = normalizeEmail(email)
	if email == "" {
		return ErrEmailRequired
	}

	s.mu.Lock()
	if _, ok := s.accountByEmailLocked(email); !ok {
		s.mu.Unlock()
		return ErrUserNotFound
	}
	code := s.issueLocked(email, purpose)
	s.mu.Unlock()

	s.delivery(email, purpose, code)
	return nil
}

func (s *Service) issueLocked(email, purpose string) string {
	code := s.code()
	s.otps[email] = otp{code: code, purpose: purpose, expires: s.now().Add(otpTTL)}
	return code
}

func (s *Service) consumeLocked(email, purpose, code string) error {
	pending, ok := s.otps[email]
	if !ok || pending.purpose != purpose || pending.code != strings.TrimSpace(code) || s.now().After(pending.expires) {
		return ErrInvalidOTP
	}
	delete(s.otps, email)
	return nil
}

func (s *Service) accountByEmailLocked(email string) (*account, bool) {
	id, ok := s.byEmail[email]
	if !ok {
		return nil, false
	}
	acc, ok := s.users[id]
	return acc, ok
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func randomCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "000000"
	}
	return fmt.Sprintf("%06d", n.Int64())
}
