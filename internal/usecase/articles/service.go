package articles

import (
	"context"
	"fmt"
	"strings"

	"stockdesk/internal/domain"
	"stockdesk/internal/querycache"
)

// Типы тегов кэша.
const (
	TagArticle = "Article"
	TagFile    = "File"
)

// Service — эндпоинты статей поверх кэша запросов.
type Service struct {
	cache *querycache.Cache
	store domain.ArticleStore
	files domain.FileStore

	list     querycache.Query[struct{}, []domain.Article]
	byUser   querycache.Query[string, []domain.Article]
	byID     querycache.Query[string, domain.Article]
	bySlug   querycache.Query[string, []domain.Article]
	imageURL querycache.Query[string, string]
	image    querycache.Query[string, domain.File]

	create      querycache.Mutation[domain.Article, domain.Article]
	update      querycache.Mutation[domain.Article, domain.Article]
	remove      querycache.Mutation[string, struct{}]
	upload      querycache.Mutation[domain.FileUpload, domain.File]
	deleteImage querycache.Mutation[string, struct{}]
}

// NewService создаёт сервис статей.
func NewService(cache *querycache.Cache, store domain.ArticleStore, files domain.FileStore) *Service {
	s := &Service{cache: cache, store: store, files: files}

	s.list = querycache.Query[struct{}, []domain.Article]{
		Name:     "getArticles",
		Fetch:    func(ctx context.Context, _ struct{}) ([]domain.Article, error) { return store.ListArticles(ctx) },
		Provides: func(_ struct{}, data []domain.Article, _ error) []querycache.Tag { return listTags(data) },
	}
	s.byUser = querycache.Query[string, []domain.Article]{
		Name:     "getArticleByUserId",
		Fetch:    store.ListArticlesByUser,
		Provides: func(_ string, data []domain.Article, _ error) []querycache.Tag { return listTags(data) },
		Skip:     blank,
	}
	s.byID = querycache.Query[string, domain.Article]{
		Name:  "getArticleById",
		Fetch: store.GetArticle,
		Provides: func(id string, _ domain.Article, _ error) []querycache.Tag {
			return []querycache.Tag{querycache.ItemTag(TagArticle, id)}
		},
		Skip: blank,
	}
	s.bySlug = querycache.Query[string, []domain.Article]{
		Name:     "getArticleBySlug",
		Fetch:    store.ListArticlesBySlug,
		Provides: func(_ string, data []domain.Article, _ error) []querycache.Tag { return listTags(data) },
		Skip:     blank,
	}
	s.imageURL = querycache.Query[string, string]{
		Name:  "getImageUrl",
		Fetch: files.FileViewURL,
		Provides: func(id string, _ string, _ error) []querycache.Tag {
			return []querycache.Tag{querycache.ItemTag(TagFile, id)}
		},
		Skip: blank,
	}
	s.image = querycache.Query[string, domain.File]{
		Name:  "getImage",
		Fetch: files.GetFile,
		Provides: func(id string, _ domain.File, _ error) []querycache.Tag {
			return []querycache.Tag{querycache.ItemTag(TagFile, id)}
		},
		Skip: blank,
	}

	s.create = querycache.Mutation[domain.Article, domain.Article]{
		Name: "createArticle",
		Do:   store.CreateArticle,
		Invalidates: func(domain.Article, domain.Article) []querycache.Tag {
			return []querycache.Tag{querycache.ListTag(TagArticle)}
		},
	}
	s.update = querycache.Mutation[domain.Article, domain.Article]{
		Name: "updateArticle",
		Do:   store.UpdateArticle,
		Invalidates: func(a domain.Article, _ domain.Article) []querycache.Tag {
			return []querycache.Tag{querycache.ItemTag(TagArticle, a.ID)}
		},
	}
	s.remove = querycache.Mutation[string, struct{}]{
		Name: "deleteArticle",
		Do: func(ctx context.Context, id string) (struct{}, error) {
			return struct{}{}, store.DeleteArticle(ctx, id)
		},
		Invalidates: func(id string, _ struct{}) []querycache.Tag {
			return []querycache.Tag{querycache.ItemTag(TagArticle, id), querycache.ListTag(TagArticle)}
		},
	}
	s.upload = querycache.Mutation[domain.FileUpload, domain.File]{
		Name: "uploadImage",
		Do:   files.UploadFile,
	}
	s.deleteImage = querycache.Mutation[string, struct{}]{
		Name: "deleteImage",
		Do: func(ctx context.Context, id string) (struct{}, error) {
			return struct{}{}, files.DeleteFile(ctx, id)
		},
		Invalidates: func(id string, _ struct{}) []querycache.Tag {
			return []querycache.Tag{querycache.ItemTag(TagFile, id)}
		},
	}
	return s
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func listTags(data []domain.Article) []querycache.Tag {
	ids := make([]string, 0, len(data))
	for _, a := range data {
		ids = append(ids, a.ID)
	}
	return querycache.ListWithItems(TagArticle, ids...)
}

// Validate проверяет поля формы до обращения к хранилищу.
func Validate(a domain.Article) error {
	switch {
	case strings.TrimSpace(a.Title) == "":
		return fmt.Errorf("%w: заголовок обязателен", domain.ErrValidation)
	case strings.TrimSpace(a.Content) == "":
		return fmt.Errorf("%w: текст статьи обязателен", domain.ErrValidation)
	case strings.TrimSpace(a.UserID) == "":
		return fmt.Errorf("%w: автор не указан", domain.ErrValidation)
	}
	switch a.Status {
	case "", domain.ArticleDraft, domain.ArticlePublished, domain.ArticleArchived:
		return nil
	}
	return fmt.Errorf("%w: неизвестный статус %q", domain.ErrValidation, a.Status)
}

func prepare(a domain.Article) (domain.Article, error) {
	if err := Validate(a); err != nil {
		return domain.Article{}, err
	}
	a.Title = strings.TrimSpace(a.Title)
	if a.Slug == "" {
		a.Slug = Slugify(a.Title)
	} else {
		a.Slug = Slugify(a.Slug)
	}
	return a, nil
}

// List возвращает все статьи.
func (s *Service) List(ctx context.Context) ([]domain.Article, error) {
	return querycache.Get(ctx, s.cache, s.list, struct{}{})
}

// ListByUser возвращает статьи автора.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]domain.Article, error) {
	return querycache.Get(ctx, s.cache, s.byUser, userID)
}

// GetByID возвращает статью.
func (s *Service) GetByID(ctx context.Context, id string) (domain.Article, error) {
	return querycache.Get(ctx, s.cache, s.byID, id)
}

// GetBySlug возвращает все статьи с данным slug.
func (s *Service) GetBySlug(ctx context.Context, slug string) ([]domain.Article, error) {
	return querycache.Get(ctx, s.cache, s.bySlug, slug)
}

// SubscribeList подписывается на ленту статей.
func (s *Service) SubscribeList() *querycache.Subscription[[]domain.Article] {
	return querycache.Subscribe(s.cache, s.list, struct{}{})
}

// Create создаёт статью. Slug выводится из заголовка, если не задан.
func (s *Service) Create(ctx context.Context, a domain.Article) (domain.Article, error) {
	a, err := prepare(a)
	if err != nil {
		return domain.Article{}, err
	}
	return querycache.Run(ctx, s.cache, s.create, a)
}

// Update сохраняет правки. Slug пересчитывается из заголовка, если не задан явно.
func (s *Service) Update(ctx context.Context, a domain.Article) (domain.Article, error) {
	if blank(a.ID) {
		return domain.Article{}, fmt.Errorf("%w: id статьи обязателен", domain.ErrValidation)
	}
	a, err := prepare(a)
	if err != nil {
		return domain.Article{}, err
	}
	return querycache.Run(ctx, s.cache, s.update, a)
}

// Delete удаляет статью.
func (s *Service) Delete(ctx context.Context, id string) error {
	_, err := querycache.Run(ctx, s.cache, s.remove, id)
	return err
}

// UploadImage загружает изображение и возвращает идентификатор файла.
func (s *Service) UploadImage(ctx context.Context, upload domain.FileUpload) (domain.File, error) {
	return querycache.Run(ctx, s.cache, s.upload, upload)
}

// ImageURL возвращает ссылку просмотра изображения.
func (s *Service) ImageURL(ctx context.Context, fileID string) (string, error) {
	return querycache.Get(ctx, s.cache, s.imageURL, fileID)
}

// Image возвращает метаданные изображения.
func (s *Service) Image(ctx context.Context, fileID string) (domain.File, error) {
	return querycache.Get(ctx, s.cache, s.image, fileID)
}

// DeleteImage удаляет изображение.
func (s *Service) DeleteImage(ctx context.Context, fileID string) error {
	_, err := querycache.Run(ctx, s.cache, s.deleteImage, fileID)
	return err
}
