package market

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"stockdesk/internal/domain"
	"stockdesk/internal/querycache"
)

// TagMarket — тип тега рыночных данных. ID тега — тикер, LIST — данные по всему рынку.
const TagMarket = "Market"

const quoteWorkers = 4

type seriesArgs struct {
	Symbol   string           `json:"symbol"`
	Interval domain.Interval `json:"interval"`
}

// QuoteResult — котировка тикера из списка наблюдения или ошибка её получения.
type QuoteResult struct {
	Symbol string        `json:"symbol"`
	Quote  *domain.Quote `json:"quote,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Service — эндпоинты рыночных данных.
type Service struct {
	cache *querycache.Cache

	overview  querycache.Query[string, domain.CompanyOverview]
	series    querycache.Query[seriesArgs, []domain.PricePoint]
	news      querycache.Query[string, []domain.NewsItem]
	newsAll   querycache.Query[struct{}, []domain.NewsItem]
	movers    querycache.Query[struct{}, domain.Movers]
	search    querycache.Query[string, []domain.SymbolMatch]
	quote     querycache.Query[string, domain.Quote]
	status    querycache.Query[struct{}, []domain.MarketStatus]
	headlines querycache.Query[string, []domain.NewsItem]
}

// NewService создаёт сервис. headlines может быть nil.
func NewService(cache *querycache.Cache, data domain.MarketData, headlines domain.HeadlineFeed) *Service {
	symbolTag := func(symbol string) []querycache.Tag {
		return []querycache.Tag{querycache.ItemTag(TagMarket, symbol)}
	}
	marketTag := func() []querycache.Tag {
		return []querycache.Tag{querycache.ListTag(TagMarket)}
	}
	blank := func(s string) bool { return s == "" }

	s := &Service{cache: cache}
	s.overview = querycache.Query[string, domain.CompanyOverview]{
		Name:     "getStockOverview",
		Fetch:    data.Overview,
		Provides: func(symbol string, _ domain.CompanyOverview, _ error) []querycache.Tag { return symbolTag(symbol) },
		Skip:     blank,
	}
	s.series = querycache.Query[seriesArgs, []domain.PricePoint]{
		Name: "getStockData",
		Fetch: func(ctx context.Context, a seriesArgs) ([]domain.PricePoint, error) {
			return data.TimeSeries(ctx, a.Symbol, a.Interval)
		},
		Provides: func(a seriesArgs, _ []domain.PricePoint, _ error) []querycache.Tag { return symbolTag(a.Symbol) },
		Skip:     func(a seriesArgs) bool { return a.Symbol == "" },
	}
	s.news = querycache.Query[string, []domain.NewsItem]{
		Name:     "getStockNews",
		Fetch:    data.News,
		Provides: func(symbol string, _ []domain.NewsItem, _ error) []querycache.Tag { return symbolTag(symbol) },
		Skip:     blank,
	}
	s.newsAll = querycache.Query[struct{}, []domain.NewsItem]{
		Name:     "getStockNewsAll",
		Fetch:    func(ctx context.Context, _ struct{}) ([]domain.NewsItem, error) { return data.News(ctx, "") },
		Provides: func(struct{}, []domain.NewsItem, error) []querycache.Tag { return marketTag() },
	}
	s.movers = querycache.Query[struct{}, domain.Movers]{
		Name:     "getTopGainersLosers",
		Fetch:    func(ctx context.Context, _ struct{}) (domain.Movers, error) { return data.Movers(ctx) },
		Provides: func(struct{}, domain.Movers, error) []querycache.Tag { return marketTag() },
	}
	s.search = querycache.Query[string, []domain.SymbolMatch]{
		Name:  "getStockSearchResults",
		Fetch: data.SearchSymbols,
		Skip:  func(q string) bool { return strings.TrimSpace(q) == "" },
	}
	s.quote = querycache.Query[string, domain.Quote]{
		Name:     "getGlobalQuote",
		Fetch:    data.GlobalQuote,
		Provides: func(symbol string, _ domain.Quote, _ error) []querycache.Tag { return symbolTag(symbol) },
		Skip:     blank,
	}
	s.status = querycache.Query[struct{}, []domain.MarketStatus]{
		Name:     "getMarketStats",
		Fetch:    func(ctx context.Context, _ struct{}) ([]domain.MarketStatus, error) { return data.MarketStatus(ctx) },
		Provides: func(struct{}, []domain.MarketStatus, error) []querycache.Tag { return marketTag() },
	}
	if headlines != nil {
		s.headlines = querycache.Query[string, []domain.NewsItem]{
			Name:     "getStockHeadlines",
			Fetch:    headlines.Headlines,
			Provides: func(symbol string, _ []domain.NewsItem, _ error) []querycache.Tag { return symbolTag(symbol) },
			Skip:     blank,
		}
	}
	return s
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Overview возвращает сведения о компании.
func (s *Service) Overview(ctx context.Context, symbol string) (domain.CompanyOverview, error) {
	return querycache.Get(ctx, s.cache, s.overview, normalize(symbol))
}

// Series возвращает ряд цен по возрастанию даты.
func (s *Service) Series(ctx context.Context, symbol string, interval domain.Interval) ([]domain.PricePoint, error) {
	if interval == "" {
		interval = domain.IntervalDaily
	}
	if !interval.Valid() {
		return nil, fmt.Errorf("%w: интервал %q", domain.ErrValidation, interval)
	}
	return querycache.Get(ctx, s.cache, s.series, seriesArgs{Symbol: normalize(symbol), Interval: interval})
}

// News возвращает новости по тикеру.
func (s *Service) News(ctx context.Context, symbol string) ([]domain.NewsItem, error) {
	return querycache.Get(ctx, s.cache, s.news, normalize(symbol))
}

// NewsAll возвращает новости по всему рынку.
func (s *Service) NewsAll(ctx context.Context) ([]domain.NewsItem, error) {
	return querycache.Get(ctx, s.cache, s.newsAll, struct{}{})
}

// Movers возвращает лидеров роста и падения.
func (s *Service) Movers(ctx context.Context) (domain.Movers, error) {
	return querycache.Get(ctx, s.cache, s.movers, struct{}{})
}

// Search ищет тикеры. Пустой запрос не выполняется.
func (s *Service) Search(ctx context.Context, keywords string) ([]domain.SymbolMatch, error) {
	res, err := querycache.Get(ctx, s.cache, s.search, strings.TrimSpace(keywords))
	if errors.Is(err, querycache.ErrSkipped) {
		return []domain.SymbolMatch{}, nil
	}
	return res, err
}

// Quote возвращает последнюю котировку.
func (s *Service) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	return querycache.Get(ctx, s.cache, s.quote, normalize(symbol))
}

// Status возвращает состояние площадок.
func (s *Service) Status(ctx context.Context) ([]domain.MarketStatus, error) {
	return querycache.Get(ctx, s.cache, s.status, struct{}{})
}

// Headlines возвращает заголовки RSS по тикеру.
func (s *Service) Headlines(ctx context.Context, symbol string) ([]domain.NewsItem, error) {
	if s.headlines.Fetch == nil {
		return []domain.NewsItem{}, nil
	}
	return querycache.Get(ctx, s.cache, s.headlines, normalize(symbol))
}

// Refresh сбрасывает данные по тикерам, без тикеров — данные по всему рынку.
func (s *Service) Refresh(ctx context.Context, symbols ...string) {
	if len(symbols) == 0 {
		s.cache.Invalidate(ctx, querycache.ListTag(TagMarket))
		return
	}
	tags := make([]querycache.Tag, 0, len(symbols))
	for _, symbol := range symbols {
		tags = append(tags, querycache.ItemTag(TagMarket, normalize(symbol)))
	}
	s.cache.Invalidate(ctx, tags...)
}

// WatchListQuotes запрашивает котировки тикеров списка не более чем в quoteWorkers потоков.
// Ошибка по одному тикеру не прерывает остальные. Порядок результатов совпадает с symbols.
func (s *Service) WatchListQuotes(ctx context.Context, symbols []string) []QuoteResult {
	results := make([]QuoteResult, len(symbols))
	p := pool.New().WithMaxGoroutines(quoteWorkers)
	for i, symbol := range symbols {
		p.Go(func() {
			res := QuoteResult{Symbol: normalize(symbol)}
			q, err := s.Quote(ctx, symbol)
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Quote = &q
			}
			results[i] = res
		})
	}
	p.Wait()
	return results
}

// MovingAverageDelta — разница 50- и 200-дневной скользящих средних.
type MovingAverageDelta struct {
	Absolute float64 `json:"absolute"`
	Percent  float64 `json:"percent"`
}

// MovingAverageDeltaOf считает разницу средних. При нулевой 200-дневной процент равен нулю.
func MovingAverageDeltaOf(o domain.CompanyOverview) MovingAverageDelta {
	d := MovingAverageDelta{Absolute: o.MovingAverage50 - o.MovingAverage200}
	if o.MovingAverage200 != 0 {
		d.Percent = d.Absolute / o.MovingAverage200 * 100
	}
	return d
}
