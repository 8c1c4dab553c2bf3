package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/messenger/internal/logger"
	"github.com/zhouzirui/z-tavern/messenger/internal/model/chat"
	"github.com/zhouzirui/z-tavern/messenger/pkg/utils"
)

// Authenticator resolves a bearer token to a user.
type Authenticator interface {
	Authenticate(token string) (chat.User, error)
}

type ctxUserKey struct{}
type ctxTokenKey struct{}

// RequireUser rejects requests without a valid bearer token and stores the
// resolved user in the request context.
func RequireUser(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				utils.RespondError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			user, err := auth.Authenticate(token)
			if err != nil {
				logger.Log.Debug("invalid_token", zap.String("path", r.URL.Path), zap.String("remote", r.RemoteAddr))
				utils.RespondError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), ctxUserKey{}, user)
			ctx = context.WithValue(ctx, ctxTokenKey{}, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token of an "Authorization: Bearer" header. The
// websocket endpoint also accepts it as the token query parameter.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// UserFromContext returns the authenticated user.
func UserFromContext(ctx context.Context) (chat.User, bool) {
	user, ok := ctx.Value(ctxUserKey{}).(chat.User)
	return user, ok
}

// UserIDFromContext returns the authenticated user id or an empty string.
func UserIDFromContext(ctx context.Context) string {
	user, _ := UserFromContext(ctx)
	return user.ID.String()
}

// TokenFromContext returns the token the request was authenticated with.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(ctxTokenKey{}).(string)
	return token
}
