package watchlists

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockdesk/internal/domain"
	"stockdesk/internal/querycache"
)

type memStore struct {
	mu        sync.Mutex
	lists     map[string]domain.WatchList
	seq       int
	listCalls atomic.Int32
	addCalls  atomic.Int32
}

func newMemStore() *memStore { return &memStore{lists: map[string]domain.WatchList{}} }

func (m *memStore) CreateWatchList(_ context.Context, title, userID string) (domain.WatchList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	w := domain.WatchList{ID: fmt.Sprintf("w%d", m.seq), Title: title, UserID: userID, Stocks: []string{}, Version: 1}
	m.lists[w.ID] = w
	return w, nil
}

func (m *memStore) ListWatchLists(_ context.Context, userID string) ([]domain.WatchList, error) {
	m.listCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.WatchList{}
	for _, w := range m.lists {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	slices.SortFunc(out, func(a, b domain.WatchList) int { return cmpID(a.ID, b.ID) })
	return out, nil
}

func cmpID(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (m *memStore) GetWatchList(_ context.Context, id string) (domain.WatchList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.lists[id]
	if !ok {
		return domain.WatchList{}, domain.ErrNotFound
	}
	w.Stocks = slices.Clone(w.Stocks)
	return w, nil
}

func (m *memStore) UpdateWatchList(_ context.Context, w domain.WatchList) (domain.WatchList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.lists[w.ID]
	if !ok {
		return domain.WatchList{}, domain.ErrNotFound
	}
	if cur.Version != w.Version {
		return domain.WatchList{}, domain.ErrConflict
	}
	cur.Title, cur.Stocks, cur.Version = w.Title, w.Stocks, cur.Version+1
	m.lists[w.ID] = cur
	return cur, nil
}

func (m *memStore) DeleteWatchList(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lists[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.lists, id)
	return nil
}

// AddStock намеренно не проверяет дубликаты: проверка должна сработать в сервисе.
func (m *memStore) AddStock(_ context.Context, id, symbol string) (domain.WatchList, error) {
	m.addCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.lists[id]
	if !ok {
		return domain.WatchList{}, domain.ErrNotFound
	}
	w.Stocks = append(slices.Clone(w.Stocks), symbol)
	w.Version++
	m.lists[id] = w
	return w, nil
}

func (m *memStore) RemoveStock(_ context.Context, id, symbol string) (domain.WatchList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.lists[id]
	if !ok {
		return domain.WatchList{}, domain.ErrNotFound
	}
	w.Stocks = slices.DeleteFunc(slices.Clone(w.Stocks), func(s string) bool { return s == symbol })
	w.Version++
	m.lists[id] = w
	return w, nil
}

func newService(t *testing.T) (*Service, *memStore) {
	t.Helper()
	cache := querycache.New()
	t.Cleanup(cache.Close)
	store := newMemStore()
	return NewService(cache, store), store
}

func TestNormalizeSymbol(t *testing.T) {
	cases := map[string]string{
		"aapl":    "AAPL",
		" $msft ": "MSFT",
		"brk.b":   "BRK.B",
		"":        "",
		"AA PL":   "",
		"-X":      "",
	}
	for input, expected := range cases {
		symbol, err := NormalizeSymbol(input)
		if expected == "" {
			require.ErrorIs(t, err, domain.ErrValidation, input)
			continue
		}
		require.NoError(t, err, input)
		require.Equal(t, expected, symbol)
	}
}

func TestNormalizeSymbolsDeduplicates(t *testing.T) {
	got, err := NormalizeSymbols([]string{"aapl", " ", "MSFT", "AAPL", "msft", "tsla"})
	require.NoError(t, err)
	require.Equal(t, []string{"AAPL", "MSFT", "TSLA"}, got)
}

func TestDuplicateStockIsRejected(t *testing.T) {
	s, store := newService(t)
	ctx := context.Background()

	wl, err := s.Create(ctx, "Tech", "u1")
	require.NoError(t, err)
	_, err = s.AddStock(ctx, wl.ID, "AAPL")
	require.NoError(t, err)
	_, err = s.AddStock(ctx, wl.ID, "aapl")
	require.ErrorIs(t, err, domain.ErrStockExists)

	got, err := s.Get(ctx, "u1", wl.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"AAPL"}, got.Stocks)
	require.Equal(t, int32(1), store.addCalls.Load())
}

func TestDeleteRefreshesMountedList(t *testing.T) {
	s, store := newService(t)
	ctx := context.Background()
	keep, err := s.Create(ctx, "Keep", "u1")
	require.NoError(t, err)
	drop, err := s.Create(ctx, "Drop", "u1")
	require.NoError(t, err)

	sub := s.Subscribe("u1")
	defer sub.Close()
	lists, err := querycache.Await(ctx, sub)
	require.NoError(t, err)
	require.Len(t, lists, 2)
	calls := store.listCalls.Load()

	require.NoError(t, s.Delete(ctx, drop.ID))

	require.Eventually(t, func() bool {
		res := sub.Result()
		return res.Settled() && len(res.Data) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, keep.ID, sub.Result().Data[0].ID)
	require.Equal(t, calls+1, store.listCalls.Load())
}

func TestAddStockInvalidatesOnlyItsLists(t *testing.T) {
	s, store := newService(t)
	ctx := context.Background()
	w1, err := s.Create(ctx, "One", "u1")
	require.NoError(t, err)
	_, err = s.Create(ctx, "Two", "u2")
	require.NoError(t, err)

	sub1 := s.Subscribe("u1")
	defer sub1.Close()
	sub2 := s.Subscribe("u2")
	defer sub2.Close()
	_, err = querycache.Await(ctx, sub1)
	require.NoError(t, err)
	_, err = querycache.Await(ctx, sub2)
	require.NoError(t, err)
	before := store.listCalls.Load()

	_, err = s.AddStock(ctx, w1.ID, "NVDA")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		res := sub1.Result()
		return res.Settled() && len(res.Data) == 1 && len(res.Data[0].Stocks) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, before+1, store.listCalls.Load())
}

func TestUpdateRejectsStaleVersion(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	wl, err := s.Create(ctx, "Tech", "u1")
	require.NoError(t, err)

	wl.Stocks = []string{"aapl", "AAPL", "msft"}
	updated, err := s.Update(ctx, wl)
	require.NoError(t, err)
	require.Equal(t, []string{"AAPL", "MSFT"}, updated.Stocks)

	_, err = s.Update(ctx, wl)
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestCreateValidatesTitle(t *testing.T) {
	s, _ := newService(t)
	_, err := s.Create(context.Background(), "  ", "u1")
	require.ErrorIs(t, err, domain.ErrValidation)
	require.ErrorIs(t, err, ErrTitleRequired)
}
