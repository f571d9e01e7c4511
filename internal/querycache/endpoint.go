package querycache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"stockdesk/internal/infra/metrics"
)

// Query описывает читающий эндпоинт.
type Query[A, T any] struct {
	Name  string
	Fetch func(ctx context.Context, args A) (T, error)
	// Provides возвращает теги результата; вызывается и при ошибке.
	Provides func(args A, data T, err error) []Tag
	// Skip отключает запрос, например при пустом обязательном аргументе.
	Skip func(args A) bool
}

// Key возвращает ключ кэша: имя эндпоинта и сериализованные аргументы.
func (q Query[A, T]) Key(args A) string {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%s(%v)", q.Name, args)
	}
	return q.Name + "(" + string(raw) + ")"
}

// Mutation описывает изменяющий эндпоинт.
type Mutation[A, T any] struct {
	Name        string
	Do          func(ctx context.Context, args A) (T, error)
	Invalidates func(args A, result T) []Tag
}

// Result — снимок состояния записи.
type Result[T any] struct {
	Data      T
	Err       error
	Status    Status
	Fetching  bool
	UpdatedAt time.Time
}

// IsLoading сообщает о первой загрузке, когда данных ещё нет.
func (r Result[T]) IsLoading() bool {
	return r.Status == StatusLoading
}

// Settled сообщает, что запись загружена и не перезапрашивается.
func (r Result[T]) Settled() bool {
	return (r.Status == StatusSuccess || r.Status == StatusFailed) && !r.Fetching
}

// Subscription — живая подписка на запись кэша.
type Subscription[T any] struct {
	c    *Cache
	e    *entry
	sub  *subscriber
	once sync.Once
}

// Result возвращает текущее состояние. Для отключённого запроса — idle без данных.
func (s *Subscription[T]) Result() Result[T] {
	if s.e == nil {
		return Result[T]{Status: StatusIdle}
	}
	st, fetching := s.c.snapshot(s.e)
	res := Result[T]{Err: st.err, Status: st.status, Fetching: fetching, UpdatedAt: st.updatedAt}
	if data, ok := st.data.(T); ok {
		res.Data = data
	}
	return res
}

// Updates сигнализирует об изменении состояния. Для отключённого запроса канал nil.
func (s *Subscription[T]) Updates() <-chan struct{} {
	if s.sub == nil {
		return nil
	}
	return s.sub.ch
}

// Refetch явно перезапрашивает данные.
func (s *Subscription[T]) Refetch() {
	if s.e == nil {
		return
	}
	s.c.refetch(s.e)
}

// Close отписывается. Повторный вызов безопасен.
func (s *Subscription[T]) Close() {
	if s.e == nil {
		return
	}
	s.once.Do(func() { s.c.unsubscribe(s.e, s.sub) })
}

// Subscribe подписывается на запрос. Первая подписка на ключ запускает ровно один
// запрос к шлюзу, остальные присоединяются к нему.
func Subscribe[A, T any](c *Cache, q Query[A, T], args A) *Subscription[T] {
	if q.Skip != nil && q.Skip(args) {
		return &Subscription[T]{c: c}
	}
	fetch := func(ctx context.Context) (any, []Tag, error) {
		data, err := q.Fetch(ctx, args)
		var tags []Tag
		if q.Provides != nil {
			tags = q.Provides(args, data, err)
		}
		if err != nil {
			return nil, tags, err
		}
		return data, tags, nil
	}
	e, sub := c.subscribe(q.Name, q.Key(args), fetch)
	return &Subscription[T]{c: c, e: e, sub: sub}
}

// Get читает результат один раз: подписывается, ждёт загрузки и отписывается.
// ctx ограничивает только ожидание, общий запрос к шлюзу продолжается.
func Get[A, T any](ctx context.Context, c *Cache, q Query[A, T], args A) (T, error) {
	s := Subscribe(c, q, args)
	defer s.Close()
	return Await(ctx, s)
}

// Await ждёт, пока подписка не получит окончательный результат.
func Await[T any](ctx context.Context, s *Subscription[T]) (T, error) {
	var zero T
	if s.e == nil {
		return zero, ErrSkipped
	}
	for {
		res := s.Result()
		if res.Settled() {
			return res.Data, res.Err
		}
		select {
		case <-s.Updates():
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Run выполняет мутацию ровно один раз и при успехе инвалидирует объявленные теги.
func Run[A, T any](ctx context.Context, c *Cache, m Mutation[A, T], args A) (T, error) {
	res, err := m.Do(ctx, args)
	metrics.ObserveMutation(m.Name, err)
	if err != nil {
		c.log.Warn().Err(err).Str("endpoint", m.Name).Msg("querycache: mutation failed")
		return res, &Error{Endpoint: m.Name, Err: err}
	}
	if m.Invalidates != nil {
		c.Invalidate(ctx, m.Invalidates(args, res)...)
	}
	return res, nil
}
