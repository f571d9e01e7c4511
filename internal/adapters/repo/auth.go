package repo

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"stockdesk/internal/domain"
	"stockdesk/internal/infra/metrics"
)

const sessionTokenBytes = 32

func generateSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := crand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func scanIdentity(row pgx.Row) (domain.Identity, error) {
	var (
		id    domain.Identity
		prefs []byte
	)
	if err := row.Scan(&id.ID, &id.Email, &id.Name, &prefs); err != nil {
		return domain.Identity{}, err
	}
	if len(prefs) > 0 {
		_ = json.Unmarshal(prefs, &id.Prefs)
	}
	return id, nil
}

// Register создаёт пользователя с bcrypt-хэшем пароля.
func (p *Postgres) Register(ctx context.Context, email, password, name string) (domain.Identity, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("хэш пароля: %w", err)
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	identity, err := scanIdentity(p.pool.QueryRow(ctx, `
INSERT INTO users (id, email, name, password_hash) VALUES ($1, $2, $3, $4)
RETURNING id, email, name, prefs`, uuid.NewString(), normalizeEmail(email), strings.TrimSpace(name), string(hash)))
	metrics.ObserveNetworkRequest("postgres", "users_insert", "users", start, err)
	if isUniqueViolation(err) {
		return domain.Identity{}, fmt.Errorf("%w: email уже зарегистрирован", domain.ErrConflict)
	}
	if err != nil {
		return domain.Identity{}, fmt.Errorf("регистрация: %w", err)
	}
	return identity, nil
}

// Login проверяет пароль и открывает новую сессию.
func (p *Postgres) Login(ctx context.Context, email, password string) (domain.Session, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var userID, hash string
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT id, password_hash FROM users WHERE email = $1`, normalizeEmail(email)).Scan(&userID, &hash)
	metrics.ObserveNetworkRequest("postgres", "users_by_email", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.ErrUnauthorized
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("поиск пользователя: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return domain.Session{}, domain.ErrUnauthorized
	}

	token, err := generateSessionToken()
	if err != nil {
		return domain.Session{}, err
	}
	session := domain.Session{Token: token, UserID: userID, ExpiresAt: p.now().Add(p.sessionTTL).UTC()}
	start = time.Now()
	_, err = p.pool.Exec(ctx, `INSERT INTO sessions (token, user_id, expires_at) VALUES ($1, $2, $3)`, session.Token, session.UserID, session.ExpiresAt)
	metrics.ObserveNetworkRequest("postgres", "sessions_insert", "sessions", start, err)
	if err != nil {
		return domain.Session{}, fmt.Errorf("создание сессии: %w", err)
	}
	return session, nil
}

// Logout удаляет сессию. Повторный выход не ошибка.
func (p *Postgres) Logout(ctx context.Context, token string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	metrics.ObserveNetworkRequest("postgres", "sessions_delete", "sessions", start, err)
	return err
}

// CurrentUser возвращает владельца действующей сессии.
func (p *Postgres) CurrentUser(ctx context.Context, token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	identity, err := scanIdentity(p.pool.QueryRow(ctx, `
SELECT u.id, u.email, u.name, u.prefs
FROM sessions s JOIN users u ON u.id = s.user_id
WHERE s.token = $1 AND s.expires_at > now()`, token))
	metrics.ObserveNetworkRequest("postgres", "sessions_lookup", "sessions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	if err != nil {
		return domain.Identity{}, fmt.Errorf("проверка сессии: %w", err)
	}
	return identity, nil
}
