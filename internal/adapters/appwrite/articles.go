package appwrite

import (
	"context"
	"fmt"

	"stockdesk/internal/domain"
)

type articleDoc struct {
	documentMeta
	UserID        string   `json:"userId"`
	Title         string   `json:"title"`
	Slug          string   `json:"slug"`
	Content       string   `json:"content"`
	FeaturedImage string   `json:"featured_image"`
	Status        string   `json:"status,omitempty"`
	Excerpt       string   `json:"excerpt,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	ReadTime      int      `json:"readTime,omitempty"`
	Views         int      `json:"views,omitempty"`
	Likes         int      `json:"likes,omitempty"`
	Shares        int      `json:"shares,omitempty"`
}

func articleData(a domain.Article) map[string]any {
	data := map[string]any{
		"userId":         a.UserID,
		"title":          a.Title,
		"slug":           a.Slug,
		"content":        a.Content,
		"featured_image": a.FeaturedImage,
	}
	if a.Status != "" {
		data["status"] = string(a.Status)
	}
	if a.Excerpt != "" {
		data["excerpt"] = a.Excerpt
	}
	if len(a.Tags) > 0 {
		data["tags"] = a.Tags
	}
	if a.ReadTime > 0 {
		data["readTime"] = a.ReadTime
	}
	return data
}

func (d articleDoc) toDomain() domain.Article {
	return domain.Article{
		ID:            d.ID,
		UserID:        d.UserID,
		Title:         d.Title,
		Slug:          d.Slug,
		Content:       d.Content,
		FeaturedImage: d.FeaturedImage,
		Status:        domain.ArticleStatus(d.Status),
		Excerpt:       d.Excerpt,
		Tags:          d.Tags,
		ReadTime:      d.ReadTime,
		Views:         d.Views,
		Likes:         d.Likes,
		Shares:        d.Shares,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

// CreateArticle создаёт статью.
func (c *Client) CreateArticle(ctx context.Context, article domain.Article) (domain.Article, error) {
	var doc articleDoc
	if err := c.createDocument(ctx, c.cfg.CollectionArticles, "", articleData(article), &doc); err != nil {
		return domain.Article{}, fmt.Errorf("создание статьи: %w", err)
	}
	return doc.toDomain(), nil
}

// ListArticles возвращает все статьи, новые первыми.
func (c *Client) ListArticles(ctx context.Context) ([]domain.Article, error) {
	return c.listArticles(ctx, queryOrderDesc("$createdAt"), queryLimit(100))
}

// ListArticlesByUser возвращает статьи автора.
func (c *Client) ListArticlesByUser(ctx context.Context, userID string) ([]domain.Article, error) {
	return c.listArticles(ctx, queryEqual("userId", userID), queryOrderDesc("$createdAt"), queryLimit(100))
}

// ListArticlesBySlug возвращает статьи с данным slug. Slug не уникален.
func (c *Client) ListArticlesBySlug(ctx context.Context, slug string) ([]domain.Article, error) {
	return c.listArticles(ctx, queryEqual("slug", slug), queryLimit(100))
}

func (c *Client) listArticles(ctx context.Context, queries ...string) ([]domain.Article, error) {
	var list documentList[articleDoc]
	if err := c.listDocuments(ctx, c.cfg.CollectionArticles, queries, &list); err != nil {
		return nil, fmt.Errorf("список статей: %w", err)
	}
	out := make([]domain.Article, 0, len(list.Documents))
	for _, d := range list.Documents {
		out = append(out, d.toDomain())
	}
	return out, nil
}

// GetArticle возвращает статью по идентификатору.
func (c *Client) GetArticle(ctx context.Context, id string) (domain.Article, error) {
	var doc articleDoc
	if err := c.getDocument(ctx, c.cfg.CollectionArticles, id, &doc); err != nil {
		return domain.Article{}, fmt.Errorf("получение статьи: %w", err)
	}
	return doc.toDomain(), nil
}

// UpdateArticle перезаписывает редактируемые поля статьи.
func (c *Client) UpdateArticle(ctx context.Context, article domain.Article) (domain.Article, error) {
	var doc articleDoc
	if err := c.updateDocument(ctx, c.cfg.CollectionArticles, article.ID, articleData(article), &doc); err != nil {
		return domain.Article{}, fmt.Errorf("обновление статьи: %w", err)
	}
	return doc.toDomain(), nil
}

// DeleteArticle удаляет статью.
func (c *Client) DeleteArticle(ctx context.Context, id string) error {
	if err := c.deleteDocument(ctx, c.cfg.CollectionArticles, id); err != nil {
		return fmt.Errorf("удаление статьи: %w", err)
	}
	return nil
}

var _ domain.ArticleStore = (*Client)(nil)
