package appwrite

import (
	"context"
	"fmt"
	"slices"

	"stockdesk/internal/domain"
)

type watchListDoc struct {
	documentMeta
	UserID  string   `json:"userId"`
	Title   string   `json:"title"`
	Stocks  []string `json:"stocks"`
	Version int      `json:"version"`
}

func (d watchListDoc) toDomain() domain.WatchList {
	stocks := d.Stocks
	if stocks == nil {
		stocks = []string{}
	}
	return domain.WatchList{
		ID:        d.ID,
		UserID:    d.UserID,
		Title:     d.Title,
		Stocks:    stocks,
		Version:   d.Version,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func watchListData(w domain.WatchList, version int) map[string]any {
	stocks := w.Stocks
	if stocks == nil {
		stocks = []string{}
	}
	return map[string]any{
		"userId":  w.UserID,
		"title":   w.Title,
		"stocks":  stocks,
		"version": version,
	}
}

// CreateWatchList создаёт пустой список.
func (c *Client) CreateWatchList(ctx context.Context, title, userID string) (domain.WatchList, error) {
	var doc watchListDoc
	data := watchListData(domain.WatchList{Title: title, UserID: userID}, 1)
	if err := c.createDocument(ctx, c.cfg.CollectionWatchLists, "", data, &doc); err != nil {
		return domain.WatchList{}, fmt.Errorf("создание списка: %w", err)
	}
	return doc.toDomain(), nil
}

// ListWatchLists возвращает списки пользователя.
func (c *Client) ListWatchLists(ctx context.Context, userID string) ([]domain.WatchList, error) {
	var list documentList[watchListDoc]
	queries := []string{queryEqual("userId", userID), queryLimit(100)}
	if err := c.listDocuments(ctx, c.cfg.CollectionWatchLists, queries, &list); err != nil {
		return nil, fmt.Errorf("список списков наблюдения: %w", err)
	}
	out := make([]domain.WatchList, 0, len(list.Documents))
	for _, d := range list.Documents {
		out = append(out, d.toDomain())
	}
	return out, nil
}

// GetWatchList возвращает список по идентификатору.
func (c *Client) GetWatchList(ctx context.Context, id string) (domain.WatchList, error) {
	var doc watchListDoc
	if err := c.getDocument(ctx, c.cfg.CollectionWatchLists, id, &doc); err != nil {
		return domain.WatchList{}, fmt.Errorf("получение списка: %w", err)
	}
	return doc.toDomain(), nil
}

// UpdateWatchList перезаписывает список при совпадении версии.
func (c *Client) UpdateWatchList(ctx context.Context, list domain.WatchList) (domain.WatchList, error) {
	current, err := c.GetWatchList(ctx, list.ID)
	if err != nil {
		return domain.WatchList{}, err
	}
	if current.Version != list.Version {
		return domain.WatchList{}, domain.ErrConflict
	}
	list.UserID = current.UserID
	return c.writeWatchList(ctx, list, current.Version+1)
}

// DeleteWatchList удаляет список.
func (c *Client) DeleteWatchList(ctx context.Context, id string) error {
	if err := c.deleteDocument(ctx, c.cfg.CollectionWatchLists, id); err != nil {
		return fmt.Errorf("удаление списка: %w", err)
	}
	return nil
}

// AddStock добавляет тикер, если его ещё нет в списке.
// Чтение и запись не атомарны; версия документа отсекает только последовательные устаревшие правки.
func (c *Client) AddStock(ctx context.Context, id, symbol string) (domain.WatchList, error) {
	current, err := c.GetWatchList(ctx, id)
	if err != nil {
		return domain.WatchList{}, err
	}
	if current.HasStock(symbol) {
		return domain.WatchList{}, domain.ErrStockExists
	}
	current.Stocks = append(slices.Clone(current.Stocks), symbol)
	return c.writeWatchList(ctx, current, current.Version+1)
}

// RemoveStock убирает тикер из списка. Отсутствующий тикер не считается ошибкой.
func (c *Client) RemoveStock(ctx context.Context, id, symbol string) (domain.WatchList, error) {
	current, err := c.GetWatchList(ctx, id)
	if err != nil {
		return domain.WatchList{}, err
	}
	if !current.HasStock(symbol) {
		return current, nil
	}
	current.Stocks = slices.DeleteFunc(slices.Clone(current.Stocks), func(s string) bool { return s == symbol })
	return c.writeWatchList(ctx, current, current.Version+1)
}

func (c *Client) writeWatchList(ctx context.Context, list domain.WatchList, version int) (domain.WatchList, error) {
	var doc watchListDoc
	if err := c.updateDocument(ctx, c.cfg.CollectionWatchLists, list.ID, watchListData(list, version), &doc); err != nil {
		return domain.WatchList{}, fmt.Errorf("обновление списка: %w", err)
	}
	return doc.toDomain(), nil
}

var _ domain.WatchListStore = (*Client)(nil)
