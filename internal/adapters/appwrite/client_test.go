package appwrite

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockdesk/internal/domain"
)

func TestArticlesRoundTrip(t *testing.T) {
	f, c := newFakeAppwrite(t)
	ctx := context.Background()

	created, err := c.CreateArticle(ctx, domain.Article{UserID: "u1", Title: "Hello", Slug: "hello", Content: "body"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	bySlug, err := c.ListArticlesBySlug(ctx, "hello")
	require.NoError(t, err)
	require.Len(t, bySlug, 1)
	require.Equal(t, created.ID, bySlug[0].ID)
	require.Contains(t, f.lastQuery[0], `"attribute":"slug"`)

	created.Title = "Hello again"
	updated, err := c.UpdateArticle(ctx, created)
	require.NoError(t, err)
	require.Equal(t, "Hello again", updated.Title)

	require.NoError(t, c.DeleteArticle(ctx, created.ID))
	_, err = c.GetArticle(ctx, created.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateOrUpdateProfileKeepsOneDocument(t *testing.T) {
	f, c := newFakeAppwrite(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, name := range []string{"first", "second"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := c.CreateOrUpdateProfile(ctx, domain.Profile{UserID: "u1", Name: name})
			assert.NoError(t, err)
		}(name)
	}
	wg.Wait()

	require.Len(t, f.docs["users"], 1)
	p, err := c.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, ProfileDocumentID("u1"), p.ID)
	require.Equal(t, 2, p.Version)
}

func TestCreateOrUpdateProfileUpdatesRandomIDDocument(t *testing.T) {
	f, c := newFakeAppwrite(t)
	ctx := context.Background()
	f.docs["users"] = map[string]map[string]any{
		"legacy123": {
			"$id": "legacy123", "$createdAt": "2024-01-02T03:04:05.000Z", "$updatedAt": "2024-01-02T03:04:05.000Z",
			"userId": "u1", "name": "Old", "version": float64(3),
		},
	}

	before, err := c.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "legacy123", before.ID)

	saved, err := c.CreateOrUpdateProfile(ctx, domain.Profile{UserID: "u1", Name: "New"})
	require.NoError(t, err)
	require.Equal(t, "legacy123", saved.ID)
	require.Equal(t, 4, saved.Version)
	require.Len(t, f.docs["users"], 1)

	after, err := c.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "New", after.Name)
}

func TestGetProfileMissing(t *testing.T) {
	_, c := newFakeAppwrite(t)
	_, err := c.GetProfile(context.Background(), "nobody")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateProfileRejectsStaleVersion(t *testing.T) {
	_, c := newFakeAppwrite(t)
	ctx := context.Background()
	p, err := c.CreateOrUpdateProfile(ctx, domain.Profile{UserID: "u1", Name: "a"})
	require.NoError(t, err)

	p.Name = "b"
	p, err = c.UpdateProfile(ctx, p)
	require.NoError(t, err)
	require.Equal(t, 2, p.Version)

	p.Version = 1
	_, err = c.UpdateProfile(ctx, p)
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestWatchListStocks(t *testing.T) {
	_, c := newFakeAppwrite(t)
	ctx := context.Background()
	wl, err := c.CreateWatchList(ctx, "Tech", "u1")
	require.NoError(t, err)
	require.Empty(t, wl.Stocks)

	wl, err = c.AddStock(ctx, wl.ID, "AAPL")
	require.NoError(t, err)
	require.Equal(t, []string{"AAPL"}, wl.Stocks)

	_, err = c.AddStock(ctx, wl.ID, "AAPL")
	require.ErrorIs(t, err, domain.ErrStockExists)

	wl, err = c.RemoveStock(ctx, wl.ID, "AAPL")
	require.NoError(t, err)
	require.Empty(t, wl.Stocks)

	lists, err := c.ListWatchLists(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, lists, 1)

	stale := lists[0]
	stale.Version = 1
	_, err = c.UpdateWatchList(ctx, stale)
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestFiles(t *testing.T) {
	_, c := newFakeAppwrite(t)
	ctx := context.Background()

	file, err := c.UploadFile(ctx, domain.FileUpload{Name: "note.txt", Body: strings.NewReader("hello")})
	require.NoError(t, err)
	require.Equal(t, "bucket", file.BucketID)
	require.Equal(t, "note.txt", file.Name)

	link, err := c.FileViewURL(ctx, file.ID)
	require.NoError(t, err)
	require.Contains(t, link, "/v1/storage/buckets/bucket/files/"+file.ID+"/view?project=proj")

	rc, _, err := c.Open(ctx, file.ID)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	require.Equal(t, "hello", string(data))

	_, err = c.GetFile(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAccount(t *testing.T) {
	_, c := newFakeAppwrite(t)
	ctx := context.Background()

	identity, err := c.Register(ctx, "a@b.c", "correct-horse", "Ann")
	require.NoError(t, err)
	require.Equal(t, "user-1", identity.ID)

	_, err = c.Login(ctx, "a@b.c", "wrong")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	session, err := c.Login(ctx, "a@b.c", "correct-horse")
	require.NoError(t, err)
	require.Equal(t, "secret-1", session.Token)

	me, err := c.CurrentUser(ctx, session.Token)
	require.NoError(t, err)
	require.Equal(t, "Ann", me.Name)

	_, err = c.CurrentUser(ctx, "bogus")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.NoError(t, c.Logout(ctx, session.Token))
}

func TestUnconfiguredClient(t *testing.T) {
	c := New(Config{})
	_, err := c.ListArticles(context.Background())
	require.ErrorIs(t, err, ErrNotConfigured)
}
