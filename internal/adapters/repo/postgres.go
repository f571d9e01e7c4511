package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"stockdesk/internal/domain"
)

// Postgres реализует шлюзы хранилища на основе pgxpool.
type Postgres struct {
	pool       *pgxpool.Pool
	sessionTTL time.Duration
	now        func() time.Time
}

// NewPostgres создаёт адаптер БД. sessionTTL задаёт срок жизни сессий.
func NewPostgres(pool *pgxpool.Pool, sessionTTL time.Duration) *Postgres {
	if sessionTTL <= 0 {
		sessionTTL = 30 * 24 * time.Hour
	}
	return &Postgres{pool: pool, sessionTTL: sessionTTL, now: time.Now}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// exists проверяет наличие строки, чтобы отличить конфликт от отсутствия.
func (p *Postgres) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	err := p.pool.QueryRow(ctx, "SELECT EXISTS ("+query+")", args...).Scan(&ok)
	return ok, err
}

var (
	_ domain.ArticleStore   = (*Postgres)(nil)
	_ domain.ProfileStore   = (*Postgres)(nil)
	_ domain.WatchListStore = (*Postgres)(nil)
	_ domain.AuthGateway    = (*Postgres)(nil)
)
