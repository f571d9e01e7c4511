package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"stockdesk/internal/domain"
	"stockdesk/internal/querycache"
	"stockdesk/internal/usecase/market"
	"stockdesk/internal/usecase/session"
	"stockdesk/internal/usecase/watchlists"
)

type stubAuth struct{}

func (stubAuth) Register(context.Context, string, string, string) (domain.Identity, error) {
	return domain.Identity{}, nil
}

func (stubAuth) Login(context.Context, string, string) (domain.Session, error) {
	return domain.Session{}, domain.ErrUnauthorized
}

func (stubAuth) Logout(context.Context, string) error { return nil }

func (stubAuth) CurrentUser(_ context.Context, token string) (domain.Identity, error) {
	switch token {
	case "ann":
		return domain.Identity{ID: "u1", Name: "Ann"}, nil
	case "bob":
		return domain.Identity{ID: "u2", Name: "Bob"}, nil
	}
	return domain.Identity{}, domain.ErrUnauthorized
}

type memLists struct {
	mu    sync.Mutex
	lists map[string]domain.WatchList
	seq   int
}

func (m *memLists) CreateWatchList(_ context.Context, title, userID string) (domain.WatchList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	w := domain.WatchList{ID: fmt.Sprintf("w%d", m.seq), Title: title, UserID: userID, Stocks: []string{}, Version: 1}
	m.lists[w.ID] = w
	return w, nil
}

func (m *memLists) ListWatchLists(_ context.Context, userID string) ([]domain.WatchList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.WatchList{}
	for _, w := range m.lists {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *memLists) GetWatchList(_ context.Context, id string) (domain.WatchList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.lists[id]
	if !ok {
		return domain.WatchList{}, domain.ErrNotFound
	}
	w.Stocks = slices.Clone(w.Stocks)
	return w, nil
}

func (m *memLists) UpdateWatchList(_ context.Context, w domain.WatchList) (domain.WatchList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.Version++
	m.lists[w.ID] = w
	return w, nil
}

func (m *memLists) DeleteWatchList(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lists, id)
	return nil
}

func (m *memLists) AddStock(_ context.Context, id, symbol string) (domain.WatchList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.lists[id]
	if w.HasStock(symbol) {
		return domain.WatchList{}, domain.ErrStockExists
	}
	w.Stocks = append(slices.Clone(w.Stocks), symbol)
	w.Version++
	m.lists[id] = w
	return w, nil
}

func (m *memLists) RemoveStock(_ context.Context, id, symbol string) (domain.WatchList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.lists[id]
	w.Stocks = slices.DeleteFunc(slices.Clone(w.Stocks), func(s string) bool { return s == symbol })
	m.lists[id] = w
	return w, nil
}

type downMarket struct{}

func (downMarket) Overview(context.Context, string) (domain.CompanyOverview, error) {
	return domain.CompanyOverview{}, domain.ErrMarketUnavailable
}

func (downMarket) TimeSeries(context.Context, string, domain.Interval) ([]domain.PricePoint, error) {
	return []domain.PricePoint{}, nil
}

func (downMarket) News(context.Context, string) ([]domain.NewsItem, error) {
	return []domain.NewsItem{}, nil
}

func (downMarket) Movers(context.Context) (domain.Movers, error) { return domain.Movers{}, nil }

func (downMarket) SearchSymbols(context.Context, string) ([]domain.SymbolMatch, error) {
	return []domain.SymbolMatch{}, nil
}

func (downMarket) GlobalQuote(_ context.Context, symbol string) (domain.Quote, error) {
	return domain.Quote{Symbol: symbol, Price: 1}, nil
}

func (downMarket) MarketStatus(context.Context) ([]domain.MarketStatus, error) {
	return []domain.MarketStatus{}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	qc := querycache.New()
	t.Cleanup(qc.Close)
	sessions := session.NewRegistry(stubAuth{}, zerolog.Nop())
	t.Cleanup(sessions.Close)
	a := &api{
		watchlists: watchlists.NewService(qc, &memLists{lists: map[string]domain.WatchList{}}),
		market:     market.NewService(qc, downMarket{}, nil),
		sessions:   sessions,
		log:        zerolog.Nop(),
	}
	r := chi.NewRouter()
	a.routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, token, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var raw json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&raw)
	return resp.StatusCode, raw
}

func TestWritesRequireSession(t *testing.T) {
	srv := newTestServer(t)
	status, _ := call(t, srv, http.MethodGet, "/api/v1/watchlists", "", "")
	require.Equal(t, http.StatusUnauthorized, status)
	status, _ = call(t, srv, http.MethodPost, "/api/v1/watchlists", "expired", `{"title":"Tech"}`)
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestWatchListFlow(t *testing.T) {
	srv := newTestServer(t)

	status, body := call(t, srv, http.MethodGet, "/api/v1/watchlists", "ann", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `[]`, string(body))

	status, body = call(t, srv, http.MethodPost, "/api/v1/watchlists", "ann", `{"title":"Tech"}`)
	require.Equal(t, http.StatusCreated, status)
	var created domain.WatchList
	require.NoError(t, json.Unmarshal(body, &created))

	path := "/api/v1/watchlists/" + created.ID + "/stocks"
	status, _ = call(t, srv, http.MethodPost, path, "ann", `{"symbol":"aapl"}`)
	require.Equal(t, http.StatusOK, status)
	status, _ = call(t, srv, http.MethodPost, path, "ann", `{"symbol":"AAPL"}`)
	require.Equal(t, http.StatusConflict, status)
	status, _ = call(t, srv, http.MethodPost, path, "ann", `{"symbol":"not a ticker"}`)
	require.Equal(t, http.StatusBadRequest, status)

	status, body = call(t, srv, http.MethodGet, "/api/v1/watchlists/"+created.ID+"/quotes", "ann", "")
	require.Equal(t, http.StatusOK, status)
	var quotes []market.QuoteResult
	require.NoError(t, json.Unmarshal(body, &quotes))
	require.Len(t, quotes, 1)
	require.Equal(t, "AAPL", quotes[0].Symbol)

	status, _ = call(t, srv, http.MethodDelete, "/api/v1/watchlists/"+created.ID, "bob", "")
	require.Equal(t, http.StatusNotFound, status)
	status, _ = call(t, srv, http.MethodDelete, "/api/v1/watchlists/"+created.ID, "ann", "")
	require.Equal(t, http.StatusNoContent, status)

	status, body = call(t, srv, http.MethodGet, "/api/v1/watchlists", "ann", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `[]`, string(body))
}

func TestMarketFailureIsDistinctFromEmpty(t *testing.T) {
	srv := newTestServer(t)

	status, body := call(t, srv, http.MethodGet, "/api/v1/stocks/IBM/overview", "", "")
	require.Equal(t, http.StatusBadGateway, status)
	var failure map[string]string
	require.NoError(t, json.Unmarshal(body, &failure))
	require.Equal(t, "failed", failure["status"])

	status, body = call(t, srv, http.MethodGet, "/api/v1/stocks/IBM/news", "", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `[]`, string(body))

	status, body = call(t, srv, http.MethodGet, "/api/v1/market/search?q=", "", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `[]`, string(body))

	status, _ = call(t, srv, http.MethodGet, "/api/v1/stocks/IBM/series?interval=hourly", "", "")
	require.Equal(t, http.StatusBadRequest, status)
}
