package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"stockdesk/internal/domain"
)

// SessionCookie — имя cookie с токеном сессии.
const SessionCookie = "session"

type ctxKey int

const (
	identityKey ctxKey = iota
	tokenKey
)

// IdentityResolver определяет пользователя по токену сессии.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, token string) (domain.Identity, error)
}

// SessionMiddleware кладёт Identity в контекст запроса. При required без сессии отвечает 401.
func SessionMiddleware(resolver IdentityResolver, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				if required {
					WriteError(w, http.StatusUnauthorized, domain.ErrUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			identity, err := resolver.ResolveIdentity(r.Context(), token)
			if err != nil {
				if required || !errors.Is(err, domain.ErrUnauthorized) {
					WriteError(w, http.StatusUnauthorized, domain.ErrUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), identityKey, identity)
			ctx = context.WithValue(ctx, tokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenFromRequest читает токен из Authorization: Bearer или cookie.
func TokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// IdentityFrom возвращает пользователя из контекста.
func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(domain.Identity)
	return identity, ok
}

// TokenFrom возвращает токен сессии из контекста.
func TokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}

// RequestID возвращает request ID из контекста chi.
func RequestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
