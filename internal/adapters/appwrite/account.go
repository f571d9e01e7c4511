package appwrite

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"stockdesk/internal/domain"
)

type userDoc struct {
	ID    string         `json:"$id"`
	Email string         `json:"email"`
	Name  string         `json:"name"`
	Prefs map[string]any `json:"prefs"`
}

func (d userDoc) toDomain() domain.Identity {
	return domain.Identity{ID: d.ID, Email: d.Email, Name: d.Name, Prefs: d.Prefs}
}

type sessionDoc struct {
	ID     string    `json:"$id"`
	UserID string    `json:"userId"`
	Secret string    `json:"secret"`
	Expire time.Time `json:"expire"`
}

// Register создаёт учётную запись.
func (c *Client) Register(ctx context.Context, email, password, name string) (domain.Identity, error) {
	body := map[string]any{"userId": "unique()", "email": email, "password": password, "name": name}
	var user userDoc
	if err := c.call(ctx, "account_create", http.MethodPost, "/account", nil, body, &user, credentials{}); err != nil {
		return domain.Identity{}, fmt.Errorf("регистрация: %w", err)
	}
	return user.toDomain(), nil
}

// Login открывает сессию по email и паролю. Секрет сессии выдаётся только серверному ключу.
func (c *Client) Login(ctx context.Context, email, password string) (domain.Session, error) {
	body := map[string]any{"email": email, "password": password}
	var session sessionDoc
	if err := c.call(ctx, "account_login", http.MethodPost, "/account/sessions/email", nil, body, &session, serverCreds); err != nil {
		return domain.Session{}, fmt.Errorf("вход: %w", err)
	}
	if session.Secret == "" {
		return domain.Session{}, fmt.Errorf("вход: %w: сессия без секрета", domain.ErrUnauthorized)
	}
	return domain.Session{Token: session.Secret, UserID: session.UserID, ExpiresAt: session.Expire}, nil
}

// Logout закрывает текущую сессию.
func (c *Client) Logout(ctx context.Context, token string) error {
	err := c.call(ctx, "account_logout", http.MethodDelete, "/account/sessions/current", nil, nil, nil, credentials{session: token})
	if err != nil && !errors.Is(err, domain.ErrUnauthorized) {
		return fmt.Errorf("выход: %w", err)
	}
	return nil
}

// CurrentUser возвращает владельца сессии.
func (c *Client) CurrentUser(ctx context.Context, token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	var user userDoc
	if err := c.call(ctx, "account_get", http.MethodGet, "/account", nil, nil, &user, credentials{session: token}); err != nil {
		return domain.Identity{}, fmt.Errorf("текущий пользователь: %w", err)
	}
	return user.toDomain(), nil
}

var _ domain.AuthGateway = (*Client)(nil)
