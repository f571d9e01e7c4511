package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stockdesk/internal/infra/metrics"
)

const (
	defaultKeepUnused   = 60 * time.Second
	defaultFetchTimeout = 30 * time.Second
)

// ErrSkipped возвращается для запросов, отключённых условием Skip.
var ErrSkipped = errors.New("query skipped")

// ErrClosed возвращается после остановки кэша.
var ErrClosed = errors.New("query cache closed")

// Status — состояние записи кэша.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Error — типизированная ошибка запроса или мутации.
type Error struct {
	Endpoint string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Notifier рассылает инвалидации другим экземплярам сервиса.
type Notifier interface {
	NotifyInvalidation(ctx context.Context, tags []Tag) error
}

// Option настраивает Cache.
type Option func(*Cache)

// WithKeepUnusedFor задаёт, сколько хранить запись без подписчиков. 0 — удалять сразу.
func WithKeepUnusedFor(d time.Duration) Option {
	return func(c *Cache) {
		if d >= 0 {
			c.keepUnused = d
		}
	}
}

// WithFetchTimeout ограничивает длительность одного запроса к шлюзу.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) {
		c.log = logger
	}
}

// WithNotifier подключает рассылку инвалидаций.
func WithNotifier(n Notifier) Option {
	return func(c *Cache) {
		c.notifier = n
	}
}

type fetchFunc func(ctx context.Context) (any, []Tag, error)

type state struct {
	data      any
	err       error
	status    Status
	updatedAt time.Time
}

type subscriber struct {
	ch chan struct{}
}

type entry struct {
	key      string
	endpoint string
	fetch    fetchFunc
	state    state
	tags     []Tag
	subs     map[*subscriber]struct{}
	// dirty — нужен (повторный) запрос; inflight — запрос выполняется;
	// runner — запущен исполнитель, он сбрасывает флаг под мьютексом перед выходом.
	dirty    bool
	inflight bool
	runner   bool
	gc       *time.Timer
}

func (e *entry) notify() {
	for s := range e.subs {
		select {
		case s.ch <- struct{}{}:
		default:
		}
	}
}

// Cache — общий для процесса кэш результатов запросов с инвалидацией по тегам.
// На один ключ одновременно выполняется не более одного запроса.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	index   map[Tag]map[string]struct{}

	// seq растёт с каждой инвалидацией; invalidatedAt хранится, пока есть запросы в полёте.
	seq           uint64
	running       int
	invalidatedAt map[Tag]uint64

	keepUnused   time.Duration
	fetchTimeout time.Duration
	notifier     Notifier
	log          zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool

	// afterRun вызывается после выхода исполнителя; используется в тестах.
	afterRun func()
}

// New создаёт кэш.
func New(opts ...Option) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		entries:       make(map[string]*entry),
		index:         make(map[Tag]map[string]struct{}),
		invalidatedAt: make(map[Tag]uint64),
		keepUnused:    defaultKeepUnused,
		fetchTimeout:  defaultFetchTimeout,
		log:           zerolog.Nop(),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close останавливает таймеры сборки и дожидается фоновых запросов.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, e := range c.entries {
		if e.gc != nil {
			e.gc.Stop()
		}
	}
	c.cancel()
	c.mu.Unlock()
	c.wg.Wait()
}

// Len возвращает число записей.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) subscribe(endpoint, key string, fetch fetchFunc) (*entry, *subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		e = &entry{
			key:      key,
			endpoint: endpoint,
			fetch:    fetch,
			state:    state{status: StatusIdle},
			subs:     make(map[*subscriber]struct{}),
		}
		c.entries[key] = e
		metrics.QueryCacheEntries.Set(float64(len(c.entries)))
	}
	if e.gc != nil {
		e.gc.Stop()
		e.gc = nil
	}
	sub := &subscriber{ch: make(chan struct{}, 1)}
	e.subs[sub] = struct{}{}

	switch {
	case e.inflight || e.dirty:
		metrics.QueryCacheCoalesced.WithLabelValues(endpoint).Inc()
	case e.state.status == StatusIdle || e.state.status == StatusFailed:
		c.scheduleLocked(e)
	default:
		metrics.QueryCacheHits.WithLabelValues(endpoint).Inc()
	}
	return e, sub
}

func (c *Cache) unsubscribe(e *entry, sub *subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := e.subs[sub]; !ok {
		return
	}
	delete(e.subs, sub)
	if len(e.subs) > 0 || c.entries[e.key] != e {
		return
	}
	if c.keepUnused == 0 {
		c.removeLocked(e)
		return
	}
	if c.closed {
		return
	}
	e.gc = time.AfterFunc(c.keepUnused, func() { c.collect(e) })
}

func (c *Cache) collect(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entries[e.key] != e || len(e.subs) > 0 || c.closed {
		return
	}
	if e.inflight || e.dirty {
		e.gc = time.AfterFunc(c.keepUnused, func() { c.collect(e) })
		return
	}
	c.removeLocked(e)
	metrics.QueryCacheEvictions.Inc()
	c.log.Debug().Str("key", e.key).Msg("querycache: entry collected")
}

func (c *Cache) refetch(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entries[e.key] != e || e.inflight || e.dirty {
		return
	}
	c.scheduleLocked(e)
}

func (c *Cache) snapshot(e *entry) (state, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return e.state, e.inflight || e.dirty
}

// scheduleLocked помечает запись на загрузку и запускает исполнителя.
func (c *Cache) scheduleLocked(e *entry) {
	if c.closed {
		e.state = state{err: &Error{Endpoint: e.endpoint, Err: ErrClosed}, status: StatusFailed, updatedAt: time.Now()}
		e.notify()
		return
	}
	e.dirty = true
	if e.state.status == StatusIdle || e.state.status == StatusFailed {
		e.state.status = StatusLoading
		e.state.err = nil
	}
	e.notify()
	if e.runner {
		return
	}
	e.runner = true
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(e)
		if c.afterRun != nil {
			c.afterRun()
		}
	}()
}

// run выполняет запросы, пока запись помечена dirty. Результат, устаревший из-за
// инвалидации во время запроса, отбрасывается. Каждый выход снимает e.runner
// в той же критической секции, где решено завершиться.
func (c *Cache) run(e *entry) {
	for {
		c.mu.Lock()
		if c.entries[e.key] != e || !e.dirty || c.closed {
			e.runner = false
			if c.entries[e.key] == e && c.closed && e.dirty {
				e.dirty = false
				if e.state.status == StatusLoading {
					e.state = state{err: &Error{Endpoint: e.endpoint, Err: ErrClosed}, status: StatusFailed, updatedAt: time.Now()}
				}
				e.notify()
			}
			c.mu.Unlock()
			return
		}
		e.dirty = false
		e.inflight = true
		c.running++
		startSeq := c.seq
		c.mu.Unlock()

		c.log.Debug().Str("key", e.key).Msg("querycache: fetch")
		ctx, cancel := context.WithTimeout(c.ctx, c.fetchTimeout)
		data, tags, err := e.fetch(ctx)
		cancel()

		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.QueryCacheFetches.WithLabelValues(e.endpoint, status).Inc()

		c.mu.Lock()
		e.inflight = false
		c.running--
		stale := c.touchedSinceLocked(tags, startSeq)
		if c.running == 0 {
			clear(c.invalidatedAt)
		}
		if c.entries[e.key] != e {
			e.runner = false
			c.mu.Unlock()
			return
		}
		if stale || e.dirty {
			if len(e.subs) == 0 {
				e.runner = false
				c.removeLocked(e)
				c.mu.Unlock()
				return
			}
			e.dirty = true
			c.mu.Unlock()
			continue
		}
		if err != nil {
			c.log.Warn().Err(err).Str("key", e.key).Msg("querycache: fetch failed")
			e.state = state{err: &Error{Endpoint: e.endpoint, Err: err}, status: StatusFailed, updatedAt: time.Now()}
		} else {
			e.state = state{data: data, status: StatusSuccess, updatedAt: time.Now()}
		}
		c.reindexLocked(e, tags)
		e.runner = false
		e.notify()
		c.mu.Unlock()
		return
	}
}

func (c *Cache) touchedSinceLocked(tags []Tag, seq uint64) bool {
	for _, t := range tags {
		if at, ok := c.invalidatedAt[t]; ok && at > seq {
			return true
		}
	}
	return false
}

func (c *Cache) reindexLocked(e *entry, tags []Tag) {
	c.unindexLocked(e)
	e.tags = tags
	for _, t := range tags {
		keys, ok := c.index[t]
		if !ok {
			keys = make(map[string]struct{})
			c.index[t] = keys
		}
		keys[e.key] = struct{}{}
	}
}

func (c *Cache) unindexLocked(e *entry) {
	for _, t := range e.tags {
		keys := c.index[t]
		delete(keys, e.key)
		if len(keys) == 0 {
			delete(c.index, t)
		}
	}
	e.tags = nil
}

func (c *Cache) removeLocked(e *entry) {
	if e.gc != nil {
		e.gc.Stop()
		e.gc = nil
	}
	c.unindexLocked(e)
	delete(c.entries, e.key)
	metrics.QueryCacheEntries.Set(float64(len(c.entries)))
}

// InvalidateTags помечает устаревшими записи с любым из тегов. Записи с подписчиками
// перезапрашиваются, остальные удаляются и загрузятся при следующей подписке.
func (c *Cache) InvalidateTags(tags ...Tag) {
	if len(tags) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	affected := make(map[string]struct{})
	for _, t := range tags {
		if c.running > 0 {
			c.invalidatedAt[t] = c.seq
		}
		for key := range c.index[t] {
			affected[key] = struct{}{}
		}
	}
	for key := range affected {
		e := c.entries[key]
		if e == nil {
			continue
		}
		typ := firstType(e.tags, tags)
		if len(e.subs) == 0 {
			if e.inflight {
				// Исполнитель увидит отсутствие записи и отбросит результат.
				e.dirty = false
			}
			c.removeLocked(e)
			metrics.QueryCacheInvalidations.WithLabelValues(typ, "drop").Inc()
			continue
		}
		metrics.QueryCacheInvalidations.WithLabelValues(typ, "refetch").Inc()
		if e.inflight || e.dirty {
			e.dirty = true
			continue
		}
		c.scheduleLocked(e)
	}
	c.log.Debug().Int("tags", len(tags)).Int("entries", len(affected)).Msg("querycache: invalidated")
}

// Invalidate инвалидирует теги локально и рассылает их через Notifier.
func (c *Cache) Invalidate(ctx context.Context, tags ...Tag) {
	c.InvalidateTags(tags...)
	if c.notifier == nil || len(tags) == 0 {
		return
	}
	if err := c.notifier.NotifyInvalidation(ctx, tags); err != nil {
		c.log.Warn().Err(err).Msg("querycache: broadcast invalidation failed")
	}
}

func firstType(entryTags, invalidated []Tag) string {
	for _, t := range invalidated {
		for _, et := range entryTags {
			if et == t {
				return t.Type
			}
		}
	}
	return "unknown"
}
