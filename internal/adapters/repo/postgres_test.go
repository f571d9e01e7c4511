package repo

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockdesk/internal/domain"
	"stockdesk/internal/infra/db"
)

func TestGenerateSessionToken(t *testing.T) {
	a, err := generateSessionToken()
	require.NoError(t, err)
	b, err := generateSessionToken()
	require.NoError(t, err)
	require.Len(t, a, sessionTokenBytes*2)
	require.NotEqual(t, a, b)
}

func TestNormalizeEmail(t *testing.T) {
	require.Equal(t, "ann@example.com", normalizeEmail("  Ann@Example.COM "))
}

// newTestPostgres подключается к базе из STOCKDESK_TEST_PG_DSN и накатывает миграции.
func newTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("STOCKDESK_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("STOCKDESK_TEST_PG_DSN не задан")
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE users, sessions, profiles, articles, watchlists CASCADE`)
	require.NoError(t, err)
	return NewPostgres(pool, time.Hour)
}

func TestPostgresConcurrentAddStockKeepsBoth(t *testing.T) {
	p := newTestPostgres(t)
	ctx := context.Background()
	wl, err := p.CreateWatchList(ctx, "Tech", "u1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, s := range []string{"AAPL", "MSFT", "AAPL"} {
		wg.Add(1)
		go func(s string) {
			defer wg.Done()
			_, _ = p.AddStock(ctx, wl.ID, s)
		}(s)
	}
	wg.Wait()

	got, err := p.GetWatchList(ctx, wl.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"AAPL", "MSFT"}, got.Stocks)

	_, err = p.AddStock(ctx, wl.ID, "AAPL")
	require.ErrorIs(t, err, domain.ErrStockExists)
	_, err = p.AddStock(ctx, "missing", "AAPL")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresProfileUpsertIsUnique(t *testing.T) {
	p := newTestPostgres(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.CreateOrUpdateProfile(ctx, domain.Profile{UserID: "u1", Name: "Ann"})
		}()
	}
	wg.Wait()

	var count int
	require.NoError(t, p.pool.QueryRow(ctx, `SELECT count(*) FROM profiles WHERE user_id = 'u1'`).Scan(&count))
	require.Equal(t, 1, count)

	pr, err := p.GetProfile(ctx, "u1")
	require.NoError(t, err)
	stale := pr
	stale.Version--
	_, err = p.UpdateProfile(ctx, stale)
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestPostgresAuth(t *testing.T) {
	p := newTestPostgres(t)
	ctx := context.Background()

	_, err := p.Register(ctx, "ann@example.com", "correct-horse", "Ann")
	require.NoError(t, err)
	_, err = p.Register(ctx, "ANN@example.com", "x", "Ann")
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = p.Login(ctx, "ann@example.com", "wrong")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	session, err := p.Login(ctx, "ann@example.com", "correct-horse")
	require.NoError(t, err)
	me, err := p.CurrentUser(ctx, session.Token)
	require.NoError(t, err)
	require.Equal(t, "Ann", me.Name)

	require.NoError(t, p.Logout(ctx, session.Token))
	_, err = p.CurrentUser(ctx, session.Token)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}
