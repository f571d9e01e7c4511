package watchlists

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"stockdesk/internal/domain"
	"stockdesk/internal/querycache"
)

// TagWatchList — тип тега кэша для списков наблюдения.
const TagWatchList = "WatchList"

var (
	ErrSymbolInvalid = errors.New("некорректный тикер")
	ErrTitleRequired = errors.New("название списка обязательно")
)

var symbolRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,14}$`)

// NormalizeSymbol приводит ввод пользователя к каноничному тикеру.
func NormalizeSymbol(input string) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(input), "$")))
	if !symbolRegex.MatchString(symbol) {
		return "", fmt.Errorf("%w: %w %q", domain.ErrValidation, ErrSymbolInvalid, input)
	}
	return symbol, nil
}

// NormalizeSymbols удаляет пустые и дублирующиеся тикеры, сохраняя порядок.
func NormalizeSymbols(symbols []string) ([]string, error) {
	seen := make(map[string]struct{}, len(symbols))
	cleaned := make([]string, 0, len(symbols))
	for _, raw := range symbols {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		symbol, err := NormalizeSymbol(raw)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[symbol]; ok {
			continue
		}
		seen[symbol] = struct{}{}
		cleaned = append(cleaned, symbol)
	}
	return cleaned, nil
}

type stockArgs struct {
	ID     string
	Symbol string
}

type createArgs struct {
	Title  string
	UserID string
}

// Service управляет списками наблюдения пользователя.
type Service struct {
	cache *querycache.Cache
	store domain.WatchListStore

	list querycache.Query[string, []domain.WatchList]

	create      querycache.Mutation[createArgs, domain.WatchList]
	update      querycache.Mutation[domain.WatchList, domain.WatchList]
	remove      querycache.Mutation[string, struct{}]
	addStock    querycache.Mutation[stockArgs, domain.WatchList]
	removeStock querycache.Mutation[stockArgs, domain.WatchList]
}

// NewService создаёт сервис списков наблюдения.
func NewService(cache *querycache.Cache, store domain.WatchListStore) *Service {
	item := func(id string) []querycache.Tag {
		return []querycache.Tag{querycache.ItemTag(TagWatchList, id)}
	}
	return &Service{
		cache: cache,
		store: store,
		list: querycache.Query[string, []domain.WatchList]{
			Name:  "getWatchLists",
			Fetch: store.ListWatchLists,
			Provides: func(_ string, data []domain.WatchList, _ error) []querycache.Tag {
				ids := make([]string, 0, len(data))
				for _, w := range data {
					ids = append(ids, w.ID)
				}
				return querycache.ListWithItems(TagWatchList, ids...)
			},
			Skip: func(userID string) bool { return strings.TrimSpace(userID) == "" },
		},
		create: querycache.Mutation[createArgs, domain.WatchList]{
			Name: "createWatchList",
			Do: func(ctx context.Context, a createArgs) (domain.WatchList, error) {
				return store.CreateWatchList(ctx, a.Title, a.UserID)
			},
			Invalidates: func(createArgs, domain.WatchList) []querycache.Tag {
				return []querycache.Tag{querycache.ListTag(TagWatchList)}
			},
		},
		update: querycache.Mutation[domain.WatchList, domain.WatchList]{
			Name:        "updateWatchList",
			Do:          store.UpdateWatchList,
			Invalidates: func(w domain.WatchList, _ domain.WatchList) []querycache.Tag { return item(w.ID) },
		},
		remove: querycache.Mutation[string, struct{}]{
			Name: "deleteWatchList",
			Do: func(ctx context.Context, id string) (struct{}, error) {
				return struct{}{}, store.DeleteWatchList(ctx, id)
			},
			Invalidates: func(id string, _ struct{}) []querycache.Tag {
				return append(item(id), querycache.ListTag(TagWatchList))
			},
		},
		addStock: querycache.Mutation[stockArgs, domain.WatchList]{
			Name: "addStock",
			Do: func(ctx context.Context, a stockArgs) (domain.WatchList, error) {
				return store.AddStock(ctx, a.ID, a.Symbol)
			},
			Invalidates: func(a stockArgs, _ domain.WatchList) []querycache.Tag { return item(a.ID) },
		},
		removeStock: querycache.Mutation[stockArgs, domain.WatchList]{
			Name: "removeStock",
			Do: func(ctx context.Context, a stockArgs) (domain.WatchList, error) {
				return store.RemoveStock(ctx, a.ID, a.Symbol)
			},
			Invalidates: func(a stockArgs, _ domain.WatchList) []querycache.Tag { return item(a.ID) },
		},
	}
}

// List возвращает списки пользователя.
func (s *Service) List(ctx context.Context, userID string) ([]domain.WatchList, error) {
	return querycache.Get(ctx, s.cache, s.list, userID)
}

// Subscribe подписывается на списки пользователя.
func (s *Service) Subscribe(userID string) *querycache.Subscription[[]domain.WatchList] {
	return querycache.Subscribe(s.cache, s.list, userID)
}

// Get возвращает список пользователя из закэшированной коллекции.
func (s *Service) Get(ctx context.Context, userID, id string) (domain.WatchList, error) {
	lists, err := s.List(ctx, userID)
	if err != nil {
		return domain.WatchList{}, err
	}
	for _, w := range lists {
		if w.ID == id {
			return w, nil
		}
	}
	return domain.WatchList{}, domain.ErrNotFound
}

// Create создаёт пустой список.
func (s *Service) Create(ctx context.Context, title, userID string) (domain.WatchList, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.WatchList{}, fmt.Errorf("%w: %w", domain.ErrValidation, ErrTitleRequired)
	}
	if strings.TrimSpace(userID) == "" {
		return domain.WatchList{}, fmt.Errorf("%w: пользователь не указан", domain.ErrValidation)
	}
	return querycache.Run(ctx, s.cache, s.create, createArgs{Title: title, UserID: userID})
}

// Update перезаписывает список. Устаревшая версия даёт domain.ErrConflict.
func (s *Service) Update(ctx context.Context, w domain.WatchList) (domain.WatchList, error) {
	w.Title = strings.TrimSpace(w.Title)
	if w.Title == "" {
		return domain.WatchList{}, fmt.Errorf("%w: %w", domain.ErrValidation, ErrTitleRequired)
	}
	stocks, err := NormalizeSymbols(w.Stocks)
	if err != nil {
		return domain.WatchList{}, err
	}
	w.Stocks = stocks
	return querycache.Run(ctx, s.cache, s.update, w)
}

// Delete удаляет список.
func (s *Service) Delete(ctx context.Context, id string) error {
	_, err := querycache.Run(ctx, s.cache, s.remove, id)
	return err
}

// AddStock добавляет тикер. Повтор отклоняется с domain.ErrStockExists ещё до записи.
func (s *Service) AddStock(ctx context.Context, id, symbol string) (domain.WatchList, error) {
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return domain.WatchList{}, err
	}
	current, err := s.store.GetWatchList(ctx, id)
	if err != nil {
		return domain.WatchList{}, fmt.Errorf("получение списка: %w", err)
	}
	if current.HasStock(normalized) {
		return domain.WatchList{}, domain.ErrStockExists
	}
	return querycache.Run(ctx, s.cache, s.addStock, stockArgs{ID: id, Symbol: normalized})
}

// RemoveStock убирает тикер из списка.
func (s *Service) RemoveStock(ctx context.Context, id, symbol string) (domain.WatchList, error) {
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return domain.WatchList{}, err
	}
	return querycache.Run(ctx, s.cache, s.removeStock, stockArgs{ID: id, Symbol: normalized})
}
