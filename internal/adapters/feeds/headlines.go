package feeds

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"stockdesk/internal/domain"
	"stockdesk/internal/infra/metrics"
)

// Headlines читает RSS ленту заголовков по тикеру.
type Headlines struct {
	baseURL string
	parser  *gofeed.Parser
	timeout time.Duration
}

// NewHeadlines создаёт ридер ленты. baseURL получает параметры s, region и lang.
func NewHeadlines(baseURL string, timeout time.Duration) *Headlines {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Headlines{baseURL: baseURL, parser: gofeed.NewParser(), timeout: timeout}
}

// Headlines возвращает заголовки по тикеру в порядке ленты.
func (h *Headlines) Headlines(ctx context.Context, symbol string) ([]domain.NewsItem, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: пустой тикер", domain.ErrValidation)
	}
	feedURL := h.baseURL + "?" + url.Values{"s": {symbol}, "region": {"US"}, "lang": {"en-US"}}.Encode()

	parseCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	start := time.Now()
	parsed, err := h.parser.ParseURLWithContext(feedURL, parseCtx)
	metrics.ObserveNetworkRequest("rss", "headlines", "market", start, err)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", symbol, err)
	}

	items := make([]domain.NewsItem, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		news := domain.NewsItem{
			ID:      itemID(symbol, item.Link),
			Title:   item.Title,
			URL:     item.Link,
			Source:  parsed.Title,
			Summary: item.Description,
			Tickers: []string{symbol},
		}
		if item.PublishedParsed != nil {
			news.PublishedAt = *item.PublishedParsed
		}
		if item.Image != nil {
			news.BannerImage = item.Image.URL
		}
		items = append(items, news)
	}
	return items, nil
}

func itemID(symbol, link string) string {
	sum := sha256.Sum256([]byte(symbol + "|" + link))
	return fmt.Sprintf("%x", sum[:8])
}

var _ domain.HeadlineFeed = (*Headlines)(nil)
