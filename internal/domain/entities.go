package domain

import (
	"io"
	"time"
)

// Identity описывает аутентифицированного пользователя внешнего сервиса.
type Identity struct {
	ID    string         `json:"id"`
	Email string         `json:"email"`
	Name  string         `json:"name"`
	Prefs map[string]any `json:"prefs,omitempty"`
}

// Session выдаётся при входе и идентифицирует контекст пользователя.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Profile хранит публичные данные пользователя. Один профиль на Identity.
type Profile struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Bio       string    `json:"bio,omitempty"`
	Avatar    string    `json:"avatar,omitempty"`
	Title     string    `json:"title"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ArticleStatus описывает стадию публикации статьи.
type ArticleStatus string

const (
	ArticleDraft     ArticleStatus = "draft"
	ArticlePublished ArticleStatus = "published"
	ArticleArchived  ArticleStatus = "archived"
)

// Article — статья сообщества. Slug не уникален.
type Article struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	Title         string        `json:"title"`
	Slug          string        `json:"slug"`
	Content       string        `json:"content"`
	FeaturedImage string        `json:"featured_image"`
	Status        ArticleStatus `json:"status,omitempty"`
	Excerpt       string        `json:"excerpt,omitempty"`
	Tags          []string      `json:"tags,omitempty"`
	ReadTime      int           `json:"read_time,omitempty"`
	Views         int           `json:"views,omitempty"`
	Likes         int           `json:"likes,omitempty"`
	Shares        int           `json:"shares,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// WatchList — список тикеров пользователя.
type WatchList struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Stocks    []string  `json:"stocks"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasStock сообщает, есть ли тикер в списке.
func (w WatchList) HasStock(symbol string) bool {
	for _, s := range w.Stocks {
		if s == symbol {
			return true
		}
	}
	return false
}

// File описывает объект в файловом бакете.
type File struct {
	ID        string    `json:"id"`
	BucketID  string    `json:"bucket_id"`
	Name      string    `json:"name"`
	MimeType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// FileUpload содержит загружаемый файл.
type FileUpload struct {
	Name string
	Body io.Reader
}
