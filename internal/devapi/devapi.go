// Package devapi assembles the in-memory development API: accounts, chat
// storage, the event hub and the HTTP router.
package devapi

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/messenger/internal/handler"
	"github.com/zhouzirui/z-tavern/messenger/internal/logger"
	"github.com/zhouzirui/z-tavern/messenger/internal/model/chat"
	"github.com/zhouzirui/z-tavern/messenger/internal/service/account"
	chatService "github.com/zhouzirui/z-tavern/messenger/internal/service/chat"
)

// API is a running set of development services.
type API struct {
	Accounts *account.Service
	Chat     *chatService.Service

	handler http.Handler

	mu    sync.Mutex
	codes map[string]string
}

// New builds the services and router. Issued one-time codes are logged and
// kept for LastCode.
func New(opts handler.Options) *API {
	a := &API{codes: make(map[string]string)}
	a.Accounts = account.NewService(a.deliver)
	a.Chat = chatService.NewService(nil)
	a.handler = handler.NewRouter(a.Accounts, a.Chat, opts)
	return a
}

// Handler returns the HTTP router.
func (a *API) Handler() http.Handler {
	return a.handler
}

// LastCode returns the most recent code sent to email for purpose.
func (a *API) LastCode(email, purpose string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.codes[email+"/"+purpose]
}

// SeedUser creates a verified account.
func (a *API) SeedUser(ctx context.Context, email, password, fullName, phone string) (chat.User, error) {
	return a.Accounts.Seed(ctx, email, password, fullName, phone)
}

// Connect opens the conversation between two users so it shows up in their
// chat lists before the first message.
func (a *API) Connect(ctx context.Context, a1, a2 chat.User) (string, error) {
	return a.Chat.EnsureConversation(ctx, a1.ID.String(), a2.ID.String())
}

func (a *API) deliver(email, purpose, code string) {
	a.mu.Lock()
	a.codes[email+"/"+purpose] = code
	a.mu.Unlock()
	logger.Log.Info("otp_issued", zap.String("email", email), zap.String("purpose", purpose), zap.String("code", code))
}
