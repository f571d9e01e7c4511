package domain

import "time"

// Interval задаёт шаг временного ряда.
type Interval string

const (
	IntervalIntraday Interval = "intraday"
	IntervalDaily    Interval = "daily"
	IntervalWeekly   Interval = "weekly"
	IntervalMonthly  Interval = "monthly"
)

// Valid сообщает, поддерживается ли интервал.
func (i Interval) Valid() bool {
	switch i {
	case IntervalIntraday, IntervalDaily, IntervalWeekly, IntervalMonthly:
		return true
	}
	return false
}

// PricePoint — точка временного ряда.
type PricePoint struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// NewsItem — новость по рынку или тикеру.
type NewsItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
	Summary     string    `json:"summary,omitempty"`
	BannerImage string    `json:"banner_image,omitempty"`
	Tickers     []string  `json:"tickers,omitempty"`
	Sentiment   string    `json:"sentiment,omitempty"`
}

// SymbolMatch — результат поиска тикера.
type SymbolMatch struct {
	Symbol     string  `json:"symbol"`
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Region     string  `json:"region"`
	Currency   string  `json:"currency"`
	MatchScore float64 `json:"match_score"`
}

// Mover — бумага из списка лидеров роста или падения.
type Mover struct {
	Ticker           string  `json:"ticker"`
	Price            float64 `json:"price"`
	ChangeAmount     float64 `json:"change_amount"`
	ChangePercentage string  `json:"change_percentage"`
	Volume           int64   `json:"volume"`
}

// Movers объединяет лидеров роста, падения и оборота.
type Movers struct {
	Gainers     []Mover `json:"top_gainers"`
	Losers      []Mover `json:"top_losers"`
	MostActive  []Mover `json:"most_actively_traded"`
	LastUpdated string  `json:"last_updated,omitempty"`
}

// CompanyOverview — основные показатели эмитента.
type CompanyOverview struct {
	Symbol           string  `json:"symbol"`
	Name             string  `json:"name"`
	Description      string  `json:"description,omitempty"`
	Exchange         string  `json:"exchange"`
	Currency         string  `json:"currency,omitempty"`
	Sector           string  `json:"sector"`
	Industry         string  `json:"industry"`
	MarketCap        float64 `json:"market_cap"`
	PERatio          float64 `json:"pe_ratio"`
	EPS              float64 `json:"eps"`
	DividendYield    float64 `json:"dividend_yield"`
	Week52High       float64 `json:"week_52_high"`
	Week52Low        float64 `json:"week_52_low"`
	MovingAverage50  float64 `json:"moving_average_50"`
	MovingAverage200 float64 `json:"moving_average_200"`
}

// Quote — последняя котировка тикера.
type Quote struct {
	Symbol           string  `json:"symbol"`
	Price            float64 `json:"price"`
	Change           float64 `json:"change"`
	ChangePercent    string  `json:"change_percent"`
	Volume           int64   `json:"volume"`
	LatestTradingDay string  `json:"latest_trading_day"`
}

// MarketStatus — состояние торговой площадки.
type MarketStatus struct {
	MarketType       string `json:"market_type"`
	Region           string `json:"region"`
	PrimaryExchanges string `json:"primary_exchanges"`
	LocalOpen        string `json:"local_open"`
	LocalClose       string `json:"local_close"`
	Status           string `json:"current_status"`
}
