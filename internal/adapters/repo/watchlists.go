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

const watchListColumns = `id, user_id, title, stocks, version, created_at, updated_at`

func scanWatchList(row pgx.Row) (domain.WatchList, error) {
	var w domain.WatchList
	err := row.Scan(&w.ID, &w.UserID, &w.Title, &w.Stocks, &w.Version, &w.CreatedAt, &w.UpdatedAt)
	if w.Stocks == nil {
		w.Stocks = []string{}
	}
	return w, err
}

// CreateWatchList создаёт пустой список.
func (p *Postgres) CreateWatchList(ctx context.Context, title, userID string) (domain.WatchList, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	w, err := scanWatchList(p.pool.QueryRow(ctx, `
INSERT INTO watchlists (id, user_id, title) VALUES ($1, $2, $3)
RETURNING `+watchListColumns, uuid.NewString(), userID, title))
	metrics.ObserveNetworkRequest("postgres", "watchlists_insert", "watchlists", start, err)
	if err != nil {
		return domain.WatchList{}, fmt.Errorf("создание списка: %w", err)
	}
	return w, nil
}

// ListWatchLists возвращает списки пользователя.
func (p *Postgres) ListWatchLists(ctx context.Context, userID string) ([]domain.WatchList, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+watchListColumns+` FROM watchlists WHERE user_id = $1 ORDER BY created_at`, userID)
	metrics.ObserveNetworkRequest("postgres", "watchlists_list", "watchlists", start, err)
	if err != nil {
		return nil, fmt.Errorf("список списков наблюдения: %w", err)
	}
	defer rows.Close()
	out := []domain.WatchList{}
	for rows.Next() {
		w, err := scanWatchList(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// GetWatchList возвращает список по идентификатору.
func (p *Postgres) GetWatchList(ctx context.Context, id string) (domain.WatchList, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	w, err := scanWatchList(p.pool.QueryRow(ctx, `SELECT `+watchListColumns+` FROM watchlists WHERE id = $1`, id))
	metrics.ObserveNetworkRequest("postgres", "watchlists_get", "watchlists", start, err)
	if err != nil {
		return domain.WatchList{}, notFound(err)
	}
	return w, nil
}

// UpdateWatchList перезаписывает название и тикеры при совпадении версии.
func (p *Postgres) UpdateWatchList(ctx context.Context, list domain.WatchList) (domain.WatchList, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	stocks := list.Stocks
	if stocks == nil {
		stocks = []string{}
	}
	start := time.Now()
	w, err := scanWatchList(p.pool.QueryRow(ctx, `
UPDATE watchlists SET title = $3, stocks = $4, version = version + 1, updated_at = now()
WHERE id = $1 AND version = $2
RETURNING `+watchListColumns, list.ID, list.Version, list.Title, stocks))
	metrics.ObserveNetworkRequest("postgres", "watchlists_update", "watchlists", start, err)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.WatchList{}, fmt.Errorf("обновление списка: %w", err)
	}
	return domain.WatchList{}, p.missingOr(ctx, list.ID, domain.ErrConflict)
}

// DeleteWatchList удаляет список.
func (p *Postgres) DeleteWatchList(ctx context.Context, id string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM watchlists WHERE id = $1`, id)
	metrics.ObserveNetworkRequest("postgres", "watchlists_delete", "watchlists", start, err)
	if err != nil {
		return fmt.Errorf("удаление списка: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AddStock дописывает тикер одной условной командой, дубликат не записывается.
func (p *Postgres) AddStock(ctx context.Context, id, symbol string) (domain.WatchList, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	w, err := scanWatchList(p.pool.QueryRow(ctx, `
UPDATE watchlists SET stocks = array_append(stocks, $2::text), version = version + 1, updated_at = now()
WHERE id = $1 AND NOT ($2::text = ANY(stocks))
RETURNING `+watchListColumns, id, symbol))
	metrics.ObserveNetworkRequest("postgres", "watchlists_add_stock", "watchlists", start, err)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.WatchList{}, fmt.Errorf("добавление тикера: %w", err)
	}
	return domain.WatchList{}, p.missingOr(ctx, id, domain.ErrStockExists)
}

// RemoveStock убирает тикер. Отсутствующий тикер не считается ошибкой.
func (p *Postgres) RemoveStock(ctx context.Context, id, symbol string) (domain.WatchList, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	w, err := scanWatchList(p.pool.QueryRow(ctx, `
UPDATE watchlists SET stocks = array_remove(stocks, $2::text), version = version + 1, updated_at = now()
WHERE id = $1
RETURNING `+watchListColumns, id, symbol))
	metrics.ObserveNetworkRequest("postgres", "watchlists_remove_stock", "watchlists", start, err)
	if err != nil {
		return domain.WatchList{}, notFound(err)
	}
	return w, nil
}

// missingOr возвращает ErrNotFound, если списка нет, иначе fallback.
func (p *Postgres) missingOr(ctx context.Context, id string, fallback error) error {
	ok, err := p.exists(ctx, `SELECT 1 FROM watchlists WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	return fallback
}
