package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"stockdesk/internal/domain"
	"stockdesk/internal/infra/metrics"
)

const profileColumns = `id, user_id, name, email, bio, avatar, title, version, created_at, updated_at`

func scanProfile(row pgx.Row) (domain.Profile, error) {
	var pr domain.Profile
	err := row.Scan(&pr.ID, &pr.UserID, &pr.Name, &pr.Email, &pr.Bio, &pr.Avatar, &pr.Title, &pr.Version, &pr.CreatedAt, &pr.UpdatedAt)
	return pr, err
}

// GetProfile возвращает профиль пользователя или domain.ErrNotFound.
func (p *Postgres) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	pr, err := scanProfile(p.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, userID))
	metrics.ObserveNetworkRequest("postgres", "profiles_get", "profiles", start, err)
	if err != nil {
		return domain.Profile{}, notFound(err)
	}
	return pr, nil
}

// CreateOrUpdateProfile вставляет профиль или обновляет существующий одной командой.
func (p *Postgres) CreateOrUpdateProfile(ctx context.Context, pr domain.Profile) (domain.Profile, error) {
	if pr.UserID == "" {
		return domain.Profile{}, fmt.Errorf("%w: пустой user_id", domain.ErrValidation)
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	out, err := scanProfile(p.pool.QueryRow(ctx, `
INSERT INTO profiles (id, user_id, name, email, bio, avatar, title)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, bio = EXCLUDED.bio, avatar = EXCLUDED.avatar, title = EXCLUDED.title, version = profiles.version + 1, updated_at = now()
RETURNING `+profileColumns,
		uuid.NewString(), pr.UserID, pr.Name, pr.Email, pr.Bio, pr.Avatar, pr.Title))
	metrics.ObserveNetworkRequest("postgres", "profiles_upsert", "profiles", start, err)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("сохранение профиля: %w", err)
	}
	return out, nil
}

// UpdateProfile обновляет профиль, если версия совпадает.
func (p *Postgres) UpdateProfile(ctx context.Context, pr domain.Profile) (domain.Profile, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	out, err := scanProfile(p.pool.QueryRow(ctx, `
UPDATE profiles SET name = $3, email = $4, bio = $5, avatar = $6, title = $7, version = version + 1, updated_at = now()
WHERE user_id = $1 AND version = $2
RETURNING `+profileColumns,
		pr.UserID, pr.Version, pr.Name, pr.Email, pr.Bio, pr.Avatar, pr.Title))
	metrics.ObserveNetworkRequest("postgres", "profiles_update", "profiles", start, err)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Profile{}, fmt.Errorf("обновление профиля: %w", err)
	}
	ok, err := p.exists(ctx, `SELECT 1 FROM profiles WHERE user_id = $1`, pr.UserID)
	if err != nil {
		return domain.Profile{}, err
	}
	if ok {
		return domain.Profile{}, domain.ErrConflict
	}
	return domain.Profile{}, domain.ErrNotFound
}

// DeleteProfile удаляет профиль пользователя.
func (p *Postgres) DeleteProfile(ctx context.Context, userID string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM profiles WHERE user_id = $1`, userID)
	metrics.ObserveNetworkRequest("postgres", "profiles_delete", "profiles", start, err)
	if err != nil {
		return fmt.Errorf("удаление профиля: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
