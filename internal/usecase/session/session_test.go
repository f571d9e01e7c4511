package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"stockdesk/internal/domain"
)

type fakeAuth struct {
	mu       sync.Mutex
	sessions map[string]domain.Identity
	lookups  atomic.Int32
	fail     error
}

func newFakeAuth() *fakeAuth { return &fakeAuth{sessions: map[string]domain.Identity{}} }

func (f *fakeAuth) Register(_ context.Context, email, _, name string) (domain.Identity, error) {
	return domain.Identity{ID: "u-" + name, Email: email, Name: name}, nil
}

func (f *fakeAuth) Login(_ context.Context, email, password string) (domain.Session, error) {
	if password != "correct-horse" {
		return domain.Session{}, domain.ErrUnauthorized
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	token := "tok-" + email
	f.sessions[token] = domain.Identity{ID: "u1", Email: email, Name: "Ann"}
	return domain.Session{Token: token, UserID: "u1"}, nil
}

func (f *fakeAuth) Logout(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, token)
	return nil
}

func (f *fakeAuth) CurrentUser(_ context.Context, token string) (domain.Identity, error) {
	f.lookups.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return domain.Identity{}, f.fail
	}
	identity, ok := f.sessions[token]
	if !ok {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	return identity, nil
}

type memBus struct {
	mu        sync.Mutex
	published [][]byte
}

func (b *memBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, payload)
	return nil
}

func (b *memBus) Subscribe(ctx context.Context, _ string, _ func([]byte)) error {
	<-ctx.Done()
	return nil
}

func (b *memBus) events(t *testing.T) []domain.SessionEvent {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.SessionEvent, 0, len(b.published))
	for _, raw := range b.published {
		var ev domain.SessionEvent
		require.NoError(t, json.Unmarshal(raw, &ev))
		out = append(out, ev)
	}
	return out
}

func TestContextStartNotifiesAndClosesListeners(t *testing.T) {
	auth := newFakeAuth()
	auth.sessions["t1"] = domain.Identity{ID: "u1", Name: "Ann"}
	sc := NewContext(auth, "t1", zerolog.Nop())

	var seen []bool
	unsubscribe := sc.Subscribe(func(_ domain.Identity, ok bool) { seen = append(seen, ok) })
	defer unsubscribe()

	_, ok := sc.Identity()
	require.False(t, ok)

	sc.Start(context.Background())
	identity, ok := sc.Identity()
	require.True(t, ok)
	require.Equal(t, "u1", identity.ID)

	sc.Refresh(context.Background())
	require.Equal(t, []bool{true}, seen)

	sc.Close()
	require.Equal(t, []bool{true, false}, seen)

	auth.sessions["t1"] = domain.Identity{ID: "u2"}
	sc.Refresh(context.Background())
	_, ok = sc.Identity()
	require.False(t, ok)
	require.Len(t, seen, 2)
}

func TestContextLookupFailureMeansNoIdentity(t *testing.T) {
	auth := newFakeAuth()
	auth.sessions["t1"] = domain.Identity{ID: "u1"}
	sc := NewContext(auth, "t1", zerolog.Nop())
	sc.Start(context.Background())

	auth.fail = errors.New("network down")
	sc.Refresh(context.Background())
	_, ok := sc.Identity()
	require.False(t, ok)
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	auth := newFakeAuth()
	auth.sessions["t1"] = domain.Identity{ID: "u1"}
	sc := NewContext(auth, "t1", zerolog.Nop())

	var calls int
	unsubscribe := sc.Subscribe(func(domain.Identity, bool) { calls++ })
	unsubscribe()
	unsubscribe()
	sc.Start(context.Background())
	require.Zero(t, calls)
}

func TestRegisterValidatesInput(t *testing.T) {
	r := NewRegistry(newFakeAuth(), zerolog.Nop())
	ctx := context.Background()

	_, err := r.Register(ctx, "not-an-email", "long-enough", "Ann")
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = r.Register(ctx, "ann@example.com", "short", "Ann")
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = r.Register(ctx, "ann@example.com", "long-enough", " ")
	require.ErrorIs(t, err, domain.ErrValidation)

	identity, err := r.Register(ctx, "ann@example.com", "long-enough", "Ann")
	require.NoError(t, err)
	require.Equal(t, "u-Ann", identity.ID)
}

func TestLoginResolveLogout(t *testing.T) {
	auth := newFakeAuth()
	bus := &memBus{}
	r := NewRegistry(auth, zerolog.Nop(), WithBus(bus))
	t.Cleanup(r.Close)
	ctx := context.Background()

	_, _, err := r.Login(ctx, "ann@example.com", "wrong")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	sess, identity, err := r.Login(ctx, "ann@example.com", "correct-horse")
	require.NoError(t, err)
	require.Equal(t, "u1", identity.ID)
	require.Equal(t, 1, r.Len())

	got, err := r.ResolveIdentity(ctx, sess.Token)
	require.NoError(t, err)
	require.Equal(t, identity, got)
	require.Equal(t, int32(1), auth.lookups.Load())

	require.NoError(t, r.Logout(ctx, sess.Token))
	require.Zero(t, r.Len())
	_, err = r.ResolveIdentity(ctx, sess.Token)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	events := bus.events(t)
	require.Len(t, events, 2)
	require.Equal(t, domain.SessionCreated, events[0].Kind)
	require.Equal(t, domain.SessionDeleted, events[1].Kind)
	require.Equal(t, "u1", events[1].UserID)
	require.NotContains(t, string(bus.published[0]), sess.Token)
}

func TestUnknownTokenIsNotStored(t *testing.T) {
	r := NewRegistry(newFakeAuth(), zerolog.Nop())
	_, err := r.ResolveIdentity(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = r.ResolveIdentity(context.Background(), "")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.Zero(t, r.Len())
}

func TestStaleContextIsRechecked(t *testing.T) {
	auth := newFakeAuth()
	auth.sessions["t1"] = domain.Identity{ID: "u1"}
	r := NewRegistry(auth, zerolog.Nop(), WithRecheck(time.Nanosecond))
	t.Cleanup(r.Close)
	ctx := context.Background()

	_, err := r.ResolveIdentity(ctx, "t1")
	require.NoError(t, err)

	delete(auth.sessions, "t1")
	time.Sleep(time.Millisecond)
	_, err = r.ResolveIdentity(ctx, "t1")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.Zero(t, r.Len())
}

func TestRemoteLogoutDropsContext(t *testing.T) {
	auth := newFakeAuth()
	auth.sessions["t1"] = domain.Identity{ID: "u1"}
	r := NewRegistry(auth, zerolog.Nop())
	t.Cleanup(r.Close)
	ctx := context.Background()

	sc, err := r.Resolve(ctx, "t1")
	require.NoError(t, err)
	var dropped atomic.Bool
	sc.Subscribe(func(_ domain.Identity, ok bool) { dropped.Store(!ok) })

	r.HandleEvent(ctx, domain.SessionEvent{Kind: domain.SessionDeleted, TokenKey: tokenKey("t1"), Origin: "other"})
	require.Zero(t, r.Len())
	require.True(t, dropped.Load())
}

func TestOwnEventsAreIgnored(t *testing.T) {
	auth := newFakeAuth()
	auth.sessions["t1"] = domain.Identity{ID: "u1"}
	r := NewRegistry(auth, zerolog.Nop())
	t.Cleanup(r.Close)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "t1")
	require.NoError(t, err)
	r.HandleEvent(ctx, domain.SessionEvent{Kind: domain.SessionDeleted, TokenKey: tokenKey("t1"), Origin: r.origin})
	require.Equal(t, 1, r.Len())
}

func TestConcurrentResolveSharesLookup(t *testing.T) {
	auth := newFakeAuth()
	auth.sessions["t1"] = domain.Identity{ID: "u1"}
	r := NewRegistry(auth, zerolog.Nop())
	t.Cleanup(r.Close)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.ResolveIdentity(context.Background(), "t1")
		}()
	}
	wg.Wait()
	require.Equal(t, 1, r.Len())
	require.LessOrEqual(t, auth.lookups.Load(), int32(16))
	identity, err := r.ResolveIdentity(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, "u1", identity.ID)
}
