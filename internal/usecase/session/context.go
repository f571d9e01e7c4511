package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stockdesk/internal/domain"
)

// Listener получает текущее состояние после каждого изменения.
// ok=false означает, что пользователь не вошёл.
type Listener func(identity domain.Identity, ok bool)

// Context хранит не более одной Identity для одного токена сессии.
// Живёт от Start до Close.
type Context struct {
	auth  domain.AuthGateway
	token string
	log   zerolog.Logger

	mu        sync.RWMutex
	identity  *domain.Identity
	checkedAt time.Time
	listeners map[int]Listener
	nextID    int
	closed    bool
}

// NewContext создаёт контекст. До Start пользователь считается не вошедшим.
func NewContext(auth domain.AuthGateway, token string, logger zerolog.Logger) *Context {
	return &Context{
		auth:      auth,
		token:     token,
		log:       logger,
		listeners: map[int]Listener{},
	}
}

// Start выполняет первичную проверку сессии.
func (c *Context) Start(ctx context.Context) {
	c.Refresh(ctx)
}

// Refresh перечитывает Identity у шлюза. Ошибка шлюза сводится к отсутствию пользователя.
func (c *Context) Refresh(ctx context.Context) {
	var next *domain.Identity
	if c.token != "" {
		identity, err := c.auth.CurrentUser(ctx, c.token)
		switch {
		case err == nil:
			next = &identity
		case errors.Is(err, domain.ErrUnauthorized):
			c.log.Debug().Msg("session: token is not valid")
		default:
			c.log.Warn().Err(err).Msg("session: identity lookup failed")
		}
	}
	c.set(next)
}

// Clear сбрасывает пользователя без обращения к шлюзу.
func (c *Context) Clear() {
	c.set(nil)
}

func (c *Context) set(next *domain.Identity) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	changed := !sameIdentity(c.identity, next)
	c.identity = next
	c.checkedAt = time.Now()
	var notify []Listener
	if changed {
		notify = make([]Listener, 0, len(c.listeners))
		for _, l := range c.listeners {
			notify = append(notify, l)
		}
	}
	var identity domain.Identity
	if next != nil {
		identity = *next
	}
	c.mu.Unlock()

	for _, l := range notify {
		l(identity, next != nil)
	}
}

func sameIdentity(a, b *domain.Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID && a.Email == b.Email && a.Name == b.Name
}

// Identity возвращает текущего пользователя.
func (c *Context) Identity() (domain.Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return domain.Identity{}, false
	}
	return *c.identity, true
}

// CheckedAt возвращает время последней проверки.
func (c *Context) CheckedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.checkedAt
}

// Subscribe регистрирует слушателя и возвращает функцию отписки.
func (c *Context) Subscribe(fn Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return func() {}
	}
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Close сбрасывает пользователя, уведомляет слушателей и отписывает их.
func (c *Context) Close() {
	c.set(nil)
	c.mu.Lock()
	c.closed = true
	c.listeners = map[int]Listener{}
	c.mu.Unlock()
}
