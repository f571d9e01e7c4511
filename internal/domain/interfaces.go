package domain

import (
	"context"
	"time"
)

// ArticleStore хранит статьи сообщества.
type ArticleStore interface {
	CreateArticle(ctx context.Context, article Article) (Article, error)
	ListArticles(ctx context.Context) ([]Article, error)
	ListArticlesByUser(ctx context.Context, userID string) ([]Article, error)
	ListArticlesBySlug(ctx context.Context, slug string) ([]Article, error)
	GetArticle(ctx context.Context, id string) (Article, error)
	UpdateArticle(ctx context.Context, article Article) (Article, error)
	DeleteArticle(ctx context.Context, id string) error
}

// ProfileStore хранит профили пользователей.
type ProfileStore interface {
	// GetProfile возвращает ErrNotFound, если профиля нет.
	GetProfile(ctx context.Context, userID string) (Profile, error)
	// CreateOrUpdateProfile гарантирует не более одного профиля на пользователя.
	CreateOrUpdateProfile(ctx context.Context, profile Profile) (Profile, error)
	// UpdateProfile перезаписывает профиль, если Version совпадает с сохранённой.
	UpdateProfile(ctx context.Context, profile Profile) (Profile, error)
	DeleteProfile(ctx context.Context, userID string) error
}

// WatchListStore хранит списки наблюдения.
type WatchListStore interface {
	CreateWatchList(ctx context.Context, title, userID string) (WatchList, error)
	ListWatchLists(ctx context.Context, userID string) ([]WatchList, error)
	GetWatchList(ctx context.Context, id string) (WatchList, error)
	// UpdateWatchList возвращает ErrConflict, если Version устарела.
	UpdateWatchList(ctx context.Context, list WatchList) (WatchList, error)
	DeleteWatchList(ctx context.Context, id string) error
	// AddStock возвращает ErrStockExists, если тикер уже в списке.
	AddStock(ctx context.Context, id, symbol string) (WatchList, error)
	RemoveStock(ctx context.Context, id, symbol string) (WatchList, error)
}

// FileStore — файловый бакет для изображений и аватаров.
type FileStore interface {
	UploadFile(ctx context.Context, upload FileUpload) (File, error)
	GetFile(ctx context.Context, id string) (File, error)
	FileViewURL(ctx context.Context, id string) (string, error)
	DeleteFile(ctx context.Context, id string) error
}

// AuthGateway управляет учётными записями и сессиями.
type AuthGateway interface {
	Register(ctx context.Context, email, password, name string) (Identity, error)
	Login(ctx context.Context, email, password string) (Session, error)
	Logout(ctx context.Context, token string) error
	// CurrentUser возвращает ErrUnauthorized, если сессия недействительна.
	CurrentUser(ctx context.Context, token string) (Identity, error)
}

// MarketData — источник рыночных данных.
type MarketData interface {
	Overview(ctx context.Context, symbol string) (CompanyOverview, error)
	TimeSeries(ctx context.Context, symbol string, interval Interval) ([]PricePoint, error)
	News(ctx context.Context, tickers string) ([]NewsItem, error)
	Movers(ctx context.Context) (Movers, error)
	SearchSymbols(ctx context.Context, keywords string) ([]SymbolMatch, error)
	GlobalQuote(ctx context.Context, symbol string) (Quote, error)
	MarketStatus(ctx context.Context) ([]MarketStatus, error)
}

// HeadlineFeed отдаёт заголовки новостей по тикеру.
type HeadlineFeed interface {
	Headlines(ctx context.Context, symbol string) ([]NewsItem, error)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// EventBus рассылает события между экземплярами сервиса.
type EventBus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe блокируется до отмены ctx.
	Subscribe(ctx context.Context, topic string, handle func(payload []byte)) error
}
