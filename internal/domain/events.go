package domain

// Топики шины событий.
const (
	TopicCacheInvalidation = "stockdesk.cache.invalidate"
	TopicSession           = "stockdesk.session"
)

// SessionEventKind описывает изменение сессии.
type SessionEventKind string

const (
	SessionCreated SessionEventKind = "session.create"
	SessionDeleted SessionEventKind = "session.delete"
)

// SessionEvent рассылается при входе и выходе, чтобы другие экземпляры обновили контекст.
type SessionEvent struct {
	Kind SessionEventKind `json:"kind"`
	// TokenKey — хэш токена, сам токен по шине не передаётся.
	TokenKey string `json:"token_key"`
	UserID   string `json:"user_id"`
	Origin   string `json:"origin"`
}
