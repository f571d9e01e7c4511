package alphavantage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"stockdesk/internal/domain"
	"stockdesk/internal/infra/metrics"
)

// DefaultBaseURL — единственная точка входа Alpha Vantage.
const DefaultBaseURL = "https://www.alphavantage.co/query"

// Client реализует domain.MarketData поверх Alpha Vantage.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cache      domain.Cache
	cacheTTL   time.Duration
	log        zerolog.Logger
}

// Option настраивает клиента.
type Option func(*Client)

// WithHTTPClient задаёт HTTP клиент.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout задаёт таймаут запросов.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithCache включает кэш сырых ответов, общий для экземпляров сервиса.
func WithCache(cache domain.Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.log = logger }
}

// New создаёт клиента. Пустой apiKey не проверяется: ошибку вернёт поставщик.
func New(baseURL, apiKey string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Overview возвращает сведения о компании.
func (c *Client) Overview(ctx context.Context, symbol string) (domain.CompanyOverview, error) {
	raw, err := c.query(ctx, url.Values{"function": {"OVERVIEW"}, "symbol": {symbol}})
	if err != nil {
		return domain.CompanyOverview{}, err
	}
	return ParseOverview(raw), nil
}

// TimeSeries возвращает ряд цен по возрастанию даты.
func (c *Client) TimeSeries(ctx context.Context, symbol string, interval domain.Interval) ([]domain.PricePoint, error) {
	params, err := seriesParams(symbol, interval)
	if err != nil {
		return nil, err
	}
	raw, err := c.query(ctx, params)
	if err != nil {
		return nil, err
	}
	return ParseTimeSeries(raw, interval), nil
}

// News возвращает новостную ленту. Пустой tickers — лента по всему рынку.
func (c *Client) News(ctx context.Context, tickers string) ([]domain.NewsItem, error) {
	params := url.Values{"function": {"NEWS_SENTIMENT"}}
	if tickers != "" {
		params.Set("tickers", tickers)
	}
	raw, err := c.query(ctx, params)
	if err != nil {
		return nil, err
	}
	return ParseNews(raw), nil
}

// Movers возвращает лидеров роста, падения и оборота.
func (c *Client) Movers(ctx context.Context) (domain.Movers, error) {
	raw, err := c.query(ctx, url.Values{"function": {"TOP_GAINERS_LOSERS"}})
	if err != nil {
		return domain.Movers{}, err
	}
	return ParseMovers(raw), nil
}

// SearchSymbols ищет тикеры по ключевым словам.
func (c *Client) SearchSymbols(ctx context.Context, keywords string) ([]domain.SymbolMatch, error) {
	raw, err := c.query(ctx, url.Values{"function": {"SYMBOL_SEARCH"}, "keywords": {keywords}})
	if err != nil {
		return nil, err
	}
	return ParseSearch(raw), nil
}

// GlobalQuote возвращает последнюю котировку.
func (c *Client) GlobalQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	raw, err := c.query(ctx, url.Values{"function": {"GLOBAL_QUOTE"}, "symbol": {symbol}})
	if err != nil {
		return domain.Quote{}, err
	}
	return ParseQuote(raw), nil
}

// MarketStatus возвращает состояние площадок.
func (c *Client) MarketStatus(ctx context.Context) ([]domain.MarketStatus, error) {
	raw, err := c.query(ctx, url.Values{"function": {"MARKET_STATUS"}})
	if err != nil {
		return nil, err
	}
	return ParseMarketStatus(raw), nil
}

func seriesParams(symbol string, interval domain.Interval) (url.Values, error) {
	params := url.Values{"symbol": {symbol}, "outputsize": {"compact"}}
	switch interval {
	case domain.IntervalIntraday:
		params.Set("function", "TIME_SERIES_INTRADAY")
		params.Set("interval", "5min")
	case domain.IntervalDaily:
		params.Set("function", "TIME_SERIES_DAILY")
	case domain.IntervalWeekly:
		params.Set("function", "TIME_SERIES_WEEKLY")
	case domain.IntervalMonthly:
		params.Set("function", "TIME_SERIES_MONTHLY")
	default:
		return nil, fmt.Errorf("%w: interval %q", domain.ErrValidation, interval)
	}
	return params, nil
}

// query выполняет GET и возвращает тело ответа. Сообщения поставщика о лимитах
// и ошибках превращаются в domain.ErrMarketUnavailable.
func (c *Client) query(ctx context.Context, params url.Values) ([]byte, error) {
	params.Set("datatype", "json")
	cacheKey := "av:" + params.Encode()
	if c.cache != nil {
		if raw, err := c.cache.Get(ctx, cacheKey); err == nil {
			return raw, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			c.log.Warn().Err(err).Msg("alphavantage: кэш недоступен")
		}
	}

	withKey := url.Values{}
	for k, v := range params {
		withKey[k] = v
	}
	withKey.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+withKey.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	start := time.Now()
	raw, err := c.do(req)
	metrics.ObserveNetworkRequest("alphavantage", params.Get("function"), "market", start, err)
	if err != nil {
		return nil, err
	}
	if note := vendorNote(raw); note != "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrMarketUnavailable, note)
	}
	if c.cache != nil && c.cacheTTL > 0 {
		if err := c.cache.Set(ctx, cacheKey, raw, c.cacheTTL); err != nil {
			c.log.Warn().Err(err).Msg("alphavantage: не удалось сохранить ответ в кэш")
		}
	}
	return raw, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("alphavantage request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status=%d", domain.ErrMarketUnavailable, resp.StatusCode)
	}
	return raw, nil
}

// vendorNote возвращает текст служебного сообщения поставщика, если ответ им является.
func vendorNote(raw []byte) string {
	var probe struct {
		Note         string `json:"Note"`
		Information  string `json:"Information"`
		ErrorMessage string `json:"Error Message"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	switch {
	case probe.ErrorMessage != "":
		return probe.ErrorMessage
	case probe.Note != "":
		return probe.Note
	default:
		return probe.Information
	}
}

var _ domain.MarketData = (*Client)(nil)
