package feeds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockdesk/internal/domain"
)

const rss = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>Yahoo! Finance: AAPL News</title>
<item><title>Apple ships</title><link>https://example.com/1</link><description>d1</description><pubDate>Mon, 15 Jan 2024 14:30:00 +0000</pubDate></item>
<item><title>Apple slips</title><link>https://example.com/2</link></item>
</channel></rss>`

func TestHeadlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "AAPL", r.URL.Query().Get("s"))
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rss))
	}))
	defer srv.Close()

	items, err := NewHeadlines(srv.URL, time.Second).Headlines(context.Background(), " aapl ")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "Apple ships", items[0].Title)
	require.Equal(t, "https://example.com/1", items[0].URL)
	require.Equal(t, []string{"AAPL"}, items[0].Tickers)
	require.Equal(t, 2024, items[0].PublishedAt.Year())
	require.True(t, items[1].PublishedAt.IsZero())
	require.NotEqual(t, items[0].ID, items[1].ID)
}

func TestHeadlinesRejectsEmptySymbol(t *testing.T) {
	_, err := NewHeadlines("http://127.0.0.1:1", time.Second).Headlines(context.Background(), "  ")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestHeadlinesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHeadlines(srv.URL, time.Second).Headlines(context.Background(), "AAPL")
	require.Error(t, err)
}
