package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"stockdesk/internal/domain"
	"stockdesk/internal/infra/metrics"
)

const (
	minPasswordLen = 8
	// DefaultRecheck — через сколько контекст перепроверяет сессию у шлюза.
	DefaultRecheck = time.Minute
)

// Registry сопоставляет токены сессий и их контексты.
type Registry struct {
	auth    domain.AuthGateway
	bus     domain.EventBus
	origin  string
	recheck time.Duration
	log     zerolog.Logger

	group    singleflight.Group
	mu       sync.Mutex
	contexts map[string]*Context
}

// Option настраивает Registry.
type Option func(*Registry)

// WithBus включает рассылку событий входа и выхода.
func WithBus(bus domain.EventBus) Option {
	return func(r *Registry) { r.bus = bus }
}

// WithRecheck задаёт период перепроверки сессии.
func WithRecheck(d time.Duration) Option {
	return func(r *Registry) { r.recheck = d }
}

// NewRegistry создаёт реестр.
func NewRegistry(auth domain.AuthGateway, logger zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		auth:     auth,
		origin:   uuid.NewString(),
		recheck:  DefaultRecheck,
		log:      logger,
		contexts: map[string]*Context{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register создаёт учётную запись.
func (r *Registry) Register(ctx context.Context, email, password, name string) (domain.Identity, error) {
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.Identity{}, fmt.Errorf("%w: некорректный email", domain.ErrValidation)
	}
	if len(password) < minPasswordLen {
		return domain.Identity{}, fmt.Errorf("%w: пароль короче %d символов", domain.ErrValidation, minPasswordLen)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Identity{}, fmt.Errorf("%w: имя обязательно", domain.ErrValidation)
	}
	identity, err := r.auth.Register(ctx, email, password, name)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("register: %w", err)
	}
	return identity, nil
}

// Login открывает сессию и заводит для неё контекст.
func (r *Registry) Login(ctx context.Context, email, password string) (domain.Session, domain.Identity, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return domain.Session{}, domain.Identity{}, fmt.Errorf("%w: email и пароль обязательны", domain.ErrValidation)
	}
	sess, err := r.auth.Login(ctx, email, password)
	if err != nil {
		return domain.Session{}, domain.Identity{}, fmt.Errorf("login: %w", err)
	}
	sc, err := r.Resolve(ctx, sess.Token)
	if err != nil {
		return domain.Session{}, domain.Identity{}, fmt.Errorf("login: %w", err)
	}
	identity, _ := sc.Identity()
	r.publish(ctx, domain.SessionEvent{Kind: domain.SessionCreated, TokenKey: tokenKey(sess.Token), UserID: identity.ID})
	return sess, identity, nil
}

// Logout закрывает сессию у шлюза и удаляет контекст.
func (r *Registry) Logout(ctx context.Context, token string) error {
	if token == "" {
		return domain.ErrUnauthorized
	}
	var userID string
	if sc := r.lookup(token); sc != nil {
		identity, _ := sc.Identity()
		userID = identity.ID
	}
	if err := r.auth.Logout(ctx, token); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	r.drop(token)
	r.publish(ctx, domain.SessionEvent{Kind: domain.SessionDeleted, TokenKey: tokenKey(token), UserID: userID})
	return nil
}

// Resolve возвращает контекст токена. Контекст без пользователя не сохраняется.
func (r *Registry) Resolve(ctx context.Context, token string) (*Context, error) {
	if token == "" {
		return nil, domain.ErrUnauthorized
	}
	if sc := r.lookup(token); sc != nil {
		if time.Since(sc.CheckedAt()) >= r.recheck {
			sc.Refresh(ctx)
		}
		if _, ok := sc.Identity(); ok {
			return sc, nil
		}
		r.drop(token)
		return nil, domain.ErrUnauthorized
	}

	v, _, _ := r.group.Do(tokenKey(token), func() (any, error) {
		if sc := r.lookup(token); sc != nil {
			return sc, nil
		}
		sc := NewContext(r.auth, token, r.log)
		sc.Start(ctx)
		if _, ok := sc.Identity(); !ok {
			sc.Close()
			return (*Context)(nil), nil
		}
		r.mu.Lock()
		r.contexts[tokenKey(token)] = sc
		metrics.SessionsActive.Set(float64(len(r.contexts)))
		r.mu.Unlock()
		return sc, nil
	})
	sc := v.(*Context)
	if sc == nil {
		return nil, domain.ErrUnauthorized
	}
	if _, ok := sc.Identity(); !ok {
		return nil, domain.ErrUnauthorized
	}
	return sc, nil
}

// ResolveIdentity возвращает пользователя по токену.
func (r *Registry) ResolveIdentity(ctx context.Context, token string) (domain.Identity, error) {
	sc, err := r.Resolve(ctx, token)
	if err != nil {
		return domain.Identity{}, err
	}
	identity, ok := sc.Identity()
	if !ok {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	return identity, nil
}

// HandleEvent применяет событие другого экземпляра.
func (r *Registry) HandleEvent(ctx context.Context, ev domain.SessionEvent) {
	if ev.Origin == r.origin {
		return
	}
	switch ev.Kind {
	case domain.SessionDeleted:
		r.dropKey(ev.TokenKey)
	case domain.SessionCreated:
		if sc := r.lookupKey(ev.TokenKey); sc != nil {
			sc.Refresh(ctx)
		}
	default:
		r.log.Warn().Str("kind", string(ev.Kind)).Msg("session: unknown event")
	}
}

// Listen применяет события шины до отмены ctx.
func (r *Registry) Listen(ctx context.Context) error {
	if r.bus == nil {
		<-ctx.Done()
		return nil
	}
	return r.bus.Subscribe(ctx, domain.TopicSession, func(payload []byte) {
		var ev domain.SessionEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			r.log.Warn().Err(err).Msg("session: bad event payload")
			return
		}
		r.HandleEvent(ctx, ev)
	})
}

// Len возвращает число активных контекстов.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}

// Close закрывает все контексты.
func (r *Registry) Close() {
	r.mu.Lock()
	contexts := r.contexts
	r.contexts = map[string]*Context{}
	metrics.SessionsActive.Set(0)
	r.mu.Unlock()
	for _, sc := range contexts {
		sc.Close()
	}
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (r *Registry) lookup(token string) *Context {
	return r.lookupKey(tokenKey(token))
}

func (r *Registry) lookupKey(key string) *Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contexts[key]
}

func (r *Registry) drop(token string) {
	r.dropKey(tokenKey(token))
}

func (r *Registry) dropKey(key string) {
	r.mu.Lock()
	sc, ok := r.contexts[key]
	delete(r.contexts, key)
	metrics.SessionsActive.Set(float64(len(r.contexts)))
	r.mu.Unlock()
	if ok {
		sc.Close()
	}
}

func (r *Registry) publish(ctx context.Context, ev domain.SessionEvent) {
	if r.bus == nil {
		return
	}
	ev.Origin = r.origin
	raw, err := json.Marshal(ev)
	if err != nil {
		r.log.Warn().Err(err).Msg("session: marshal event")
		return
	}
	if err := r.bus.Publish(ctx, domain.TopicSession, raw); err != nil {
		r.log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("session: publish failed")
	}
}
