package alphavantage

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"
	"time"

	"stockdesk/internal/domain"
)

var seriesKeys = map[domain.Interval]string{
	domain.IntervalIntraday: "Time Series (5min)",
	domain.IntervalDaily:    "Time Series (Daily)",
	domain.IntervalWeekly:   "Weekly Time Series",
	domain.IntervalMonthly:  "Monthly Time Series",
}

type ohlcv struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

// ParseTimeSeries превращает ответ TIME_SERIES_* в ряд точек по возрастанию даты.
// Неизвестный формат даёт пустой ряд.
func ParseTimeSeries(raw []byte, interval domain.Interval) []domain.PricePoint {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []domain.PricePoint{}
	}
	body, ok := doc[seriesKeys[interval]]
	if !ok {
		for k, v := range doc {
			if strings.Contains(k, "Time Series") {
				body, ok = v, true
				break
			}
		}
	}
	if !ok {
		return []domain.PricePoint{}
	}
	var series map[string]ohlcv
	if err := json.Unmarshal(body, &series); err != nil {
		return []domain.PricePoint{}
	}
	points := make([]domain.PricePoint, 0, len(series))
	for date, v := range series {
		points = append(points, domain.PricePoint{
			Date:   date,
			Open:   parseFloat(v.Open),
			High:   parseFloat(v.High),
			Low:    parseFloat(v.Low),
			Close:  parseFloat(v.Close),
			Volume: parseInt(v.Volume),
		})
	}
	slices.SortFunc(points, func(a, b domain.PricePoint) int { return strings.Compare(a.Date, b.Date) })
	return points
}

// ParseNews разбирает ответ NEWS_SENTIMENT.
func ParseNews(raw []byte) []domain.NewsItem {
	var doc struct {
		Feed []struct {
			Title         string `json:"title"`
			URL           string `json:"url"`
			TimePublished string `json:"time_published"`
			Summary       string `json:"summary"`
			BannerImage   string `json:"banner_image"`
			Source        string `json:"source"`
			Sentiment     string `json:"overall_sentiment_label"`
			Tickers       []struct {
				Ticker string `json:"ticker"`
			} `json:"ticker_sentiment"`
		} `json:"feed"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []domain.NewsItem{}
	}
	items := make([]domain.NewsItem, 0, len(doc.Feed))
	for _, f := range doc.Feed {
		item := domain.NewsItem{
			ID:          f.URL,
			Title:       f.Title,
			URL:         f.URL,
			Source:      f.Source,
			Summary:     f.Summary,
			BannerImage: f.BannerImage,
			Sentiment:   f.Sentiment,
		}
		if ts, err := time.Parse("20060102T150405", f.TimePublished); err == nil {
			item.PublishedAt = ts
		}
		for _, t := range f.Tickers {
			item.Tickers = append(item.Tickers, t.Ticker)
		}
		items = append(items, item)
	}
	return items
}

type moverJSON struct {
	Ticker           string `json:"ticker"`
	Price            string `json:"price"`
	ChangeAmount     string `json:"change_amount"`
	ChangePercentage string `json:"change_percentage"`
	Volume           string `json:"volume"`
}

// ParseMovers разбирает ответ TOP_GAINERS_LOSERS.
func ParseMovers(raw []byte) domain.Movers {
	var doc struct {
		LastUpdated string      `json:"last_updated"`
		Gainers     []moverJSON `json:"top_gainers"`
		Losers      []moverJSON `json:"top_losers"`
		MostActive  []moverJSON `json:"most_actively_traded"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.Movers{Gainers: []domain.Mover{}, Losers: []domain.Mover{}, MostActive: []domain.Mover{}}
	}
	return domain.Movers{
		Gainers:     toMovers(doc.Gainers),
		Losers:      toMovers(doc.Losers),
		MostActive:  toMovers(doc.MostActive),
		LastUpdated: doc.LastUpdated,
	}
}

func toMovers(in []moverJSON) []domain.Mover {
	out := make([]domain.Mover, 0, len(in))
	for _, m := range in {
		out = append(out, domain.Mover{
			Ticker:           m.Ticker,
			Price:            parseFloat(m.Price),
			ChangeAmount:     parseFloat(m.ChangeAmount),
			ChangePercentage: m.ChangePercentage,
			Volume:           parseInt(m.Volume),
		})
	}
	return out
}

// ParseSearch разбирает ответ SYMBOL_SEARCH.
func ParseSearch(raw []byte) []domain.SymbolMatch {
	var doc struct {
		Matches []struct {
			Symbol   string `json:"1. symbol"`
			Name     string `json:"2. name"`
			Type     string `json:"3. type"`
			Region   string `json:"4. region"`
			Currency string `json:"8. currency"`
			Score    string `json:"9. matchScore"`
		} `json:"bestMatches"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []domain.SymbolMatch{}
	}
	out := make([]domain.SymbolMatch, 0, len(doc.Matches))
	for _, m := range doc.Matches {
		out = append(out, domain.SymbolMatch{
			Symbol:     m.Symbol,
			Name:       m.Name,
			Type:       m.Type,
			Region:     m.Region,
			Currency:   m.Currency,
			MatchScore: parseFloat(m.Score),
		})
	}
	return out
}

// ParseOverview разбирает ответ OVERVIEW. Значения "None" и "-" дают ноль.
func ParseOverview(raw []byte) domain.CompanyOverview {
	var doc struct {
		Symbol        string `json:"Symbol"`
		Name          string `json:"Name"`
		Description   string `json:"Description"`
		Exchange      string `json:"Exchange"`
		Currency      string `json:"Currency"`
		Sector        string `json:"Sector"`
		Industry      string `json:"Industry"`
		MarketCap     string `json:"MarketCapitalization"`
		PERatio       string `json:"PERatio"`
		EPS           string `json:"EPS"`
		DividendYield string `json:"DividendYield"`
		High52        string `json:"52WeekHigh"`
		Low52         string `json:"52WeekLow"`
		MA50          string `json:"50DayMovingAverage"`
		MA200         string `json:"200DayMovingAverage"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.CompanyOverview{}
	}
	return domain.CompanyOverview{
		Symbol:           doc.Symbol,
		Name:             doc.Name,
		Description:      doc.Description,
		Exchange:         doc.Exchange,
		Currency:         doc.Currency,
		Sector:           doc.Sector,
		Industry:         doc.Industry,
		MarketCap:        parseFloat(doc.MarketCap),
		PERatio:          parseFloat(doc.PERatio),
		EPS:              parseFloat(doc.EPS),
		DividendYield:    parseFloat(doc.DividendYield),
		Week52High:       parseFloat(doc.High52),
		Week52Low:        parseFloat(doc.Low52),
		MovingAverage50:  parseFloat(doc.MA50),
		MovingAverage200: parseFloat(doc.MA200),
	}
}

// ParseQuote разбирает ответ GLOBAL_QUOTE.
func ParseQuote(raw []byte) domain.Quote {
	var doc struct {
		Quote struct {
			Symbol        string `json:"01. symbol"`
			Price         string `json:"05. price"`
			Volume        string `json:"06. volume"`
			LatestDay     string `json:"07. latest trading day"`
			Change        string `json:"09. change"`
			ChangePercent string `json:"10. change percent"`
		} `json:"Global Quote"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.Quote{}
	}
	q := doc.Quote
	return domain.Quote{
		Symbol:           q.Symbol,
		Price:            parseFloat(q.Price),
		Change:           parseFloat(q.Change),
		ChangePercent:    q.ChangePercent,
		Volume:           parseInt(q.Volume),
		LatestTradingDay: q.LatestDay,
	}
}

// ParseMarketStatus разбирает ответ MARKET_STATUS.
func ParseMarketStatus(raw []byte) []domain.MarketStatus {
	var doc struct {
		Markets []domain.MarketStatus `json:"markets"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil || doc.Markets == nil {
		return []domain.MarketStatus{}
	}
	return doc.Markets
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"), 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return int64(parseFloat(s))
	}
	return v
}
