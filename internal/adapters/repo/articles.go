package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"stockdesk/internal/domain"
	"stockdesk/internal/infra/metrics"
)

const articleColumns = `id, user_id, title, slug, content, featured_image, status, excerpt, tags, read_time, views, likes, shares, created_at, updated_at`

func scanArticle(row pgx.Row) (domain.Article, error) {
	var (
		a      domain.Article
		status string
	)
	err := row.Scan(&a.ID, &a.UserID, &a.Title, &a.Slug, &a.Content, &a.FeaturedImage, &status, &a.Excerpt,
		&a.Tags, &a.ReadTime, &a.Views, &a.Likes, &a.Shares, &a.CreatedAt, &a.UpdatedAt)
	a.Status = domain.ArticleStatus(status)
	return a, err
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// CreateArticle сохраняет статью.
func (p *Postgres) CreateArticle(ctx context.Context, a domain.Article) (domain.Article, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	out, err := scanArticle(p.pool.QueryRow(ctx, `
INSERT INTO articles (id, user_id, title, slug, content, featured_image, status, excerpt, tags, read_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING `+articleColumns,
		uuid.NewString(), a.UserID, a.Title, a.Slug, a.Content, a.FeaturedImage, string(a.Status), a.Excerpt, tagsOrEmpty(a.Tags), a.ReadTime))
	metrics.ObserveNetworkRequest("postgres", "articles_insert", "articles", start, err)
	if err != nil {
		return domain.Article{}, fmt.Errorf("создание статьи: %w", err)
	}
	return out, nil
}

// ListArticles возвращает все статьи, новые первыми.
func (p *Postgres) ListArticles(ctx context.Context) ([]domain.Article, error) {
	return p.listArticles(ctx, "articles_list", `SELECT `+articleColumns+` FROM articles ORDER BY created_at DESC`)
}

// ListArticlesByUser возвращает статьи автора.
func (p *Postgres) ListArticlesByUser(ctx context.Context, userID string) ([]domain.Article, error) {
	return p.listArticles(ctx, "articles_by_user", `SELECT `+articleColumns+` FROM articles WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// ListArticlesBySlug возвращает все статьи с данным slug.
func (p *Postgres) ListArticlesBySlug(ctx context.Context, slug string) ([]domain.Article, error) {
	return p.listArticles(ctx, "articles_by_slug", `SELECT `+articleColumns+` FROM articles WHERE slug = $1 ORDER BY created_at`, slug)
}

func (p *Postgres) listArticles(ctx context.Context, op, query string, args ...any) ([]domain.Article, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", op, "articles", start, err)
	if err != nil {
		return nil, fmt.Errorf("список статей: %w", err)
	}
	defer rows.Close()
	out := []domain.Article{}
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetArticle возвращает статью по идентификатору.
func (p *Postgres) GetArticle(ctx context.Context, id string) (domain.Article, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	a, err := scanArticle(p.pool.QueryRow(ctx, `SELECT `+articleColumns+` FROM articles WHERE id = $1`, id))
	metrics.ObserveNetworkRequest("postgres", "articles_get", "articles", start, err)
	if err != nil {
		return domain.Article{}, notFound(err)
	}
	return a, nil
}

// UpdateArticle перезаписывает редактируемые поля.
func (p *Postgres) UpdateArticle(ctx context.Context, a domain.Article) (domain.Article, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	out, err := scanArticle(p.pool.QueryRow(ctx, `
UPDATE articles SET title = $2, slug = $3, content = $4, featured_image = $5, status = $6, excerpt = $7, tags = $8, read_time = $9, updated_at = now()
WHERE id = $1
RETURNING `+articleColumns,
		a.ID, a.Title, a.Slug, a.Content, a.FeaturedImage, string(a.Status), a.Excerpt, tagsOrEmpty(a.Tags), a.ReadTime))
	metrics.ObserveNetworkRequest("postgres", "articles_update", "articles", start, err)
	if err != nil {
		return domain.Article{}, notFound(err)
	}
	return out, nil
}

// DeleteArticle удаляет статью.
func (p *Postgres) DeleteArticle(ctx context.Context, id string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM articles WHERE id = $1`, id)
	metrics.ObserveNetworkRequest("postgres", "articles_delete", "articles", start, err)
	if err != nil {
		return fmt.Errorf("удаление статьи: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
