package domain

import "errors"

var (
	// ErrNotFound возвращается, когда документ не найден.
	ErrNotFound = errors.New("not found")

	// ErrConflict возвращается при устаревшей версии документа или дубликате.
	ErrConflict = errors.New("version conflict")

	// ErrStockExists возвращается при повторном добавлении тикера в список.
	ErrStockExists = errors.New("stock already in watchlist")

	// ErrUnauthorized возвращается, когда сессия отсутствует или истекла.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrValidation оборачивает ошибки проверки ввода.
	ErrValidation = errors.New("validation failed")

	// ErrMarketUnavailable возвращается, когда поставщик данных отказал (лимит, ошибка ключа).
	ErrMarketUnavailable = errors.New("market data unavailable")
)
