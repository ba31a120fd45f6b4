package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamline/internal/domain"
)

func TestStaticResolve(t *testing.T) {
	d := Static{"u-1": {FirstName: "Ada", LastName: "Lovelace"}}
	p, err := d.ResolveUser(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, "u-1", p.ID)
	assert.Equal(t, "Ada", p.FirstName)

	_, err = d.ResolveUser(context.Background(), "u-2")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func newUserServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if r.Header.Get("Authorization") != "Bearer svc-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/users/u-1":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"id": "u-1", "firstName": "Grace", "lastName": "Hopper", "university": "Yale", "profilePicture": "https://img/g.png",
			})
		case "/users/slow":
			time.Sleep(200 * time.Millisecond)
			_ = json.NewEncoder(w).Encode(map[string]string{"firstName": "Slow"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPResolve(t *testing.T) {
	var calls int32
	srv := newUserServer(t, &calls)
	d := NewHTTP(srv.URL, "svc-token", time.Second)

	p, err := d.ResolveUser(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, domain.UserProfile{ID: "u-1", FirstName: "Grace", LastName: "Hopper", University: "Yale", ProfilePicture: "https://img/g.png"}, p)

	_, err = d.ResolveUser(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownUser)

	bad := NewHTTP(srv.URL, "wrong", time.Second)
	_, err = bad.ResolveUser(context.Background(), "u-1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnknownUser))
}

func TestLookupSkipsFailuresAndHonorsTimeout(t *testing.T) {
	var calls int32
	srv := newUserServer(t, &calls)
	d := NewHTTP(srv.URL, "svc-token", time.Second)

	got := Lookup(context.Background(), d, 50*time.Millisecond, zerolog.Nop(), "u-1", "slow", "missing", "u-1", "")
	require.Contains(t, got, "u-1")
	assert.NotContains(t, got, "slow")
	assert.NotContains(t, got, "missing")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

type countingDirectory struct {
	mu    sync.Mutex
	calls int
	next  Directory
}

func (c *countingDirectory) ResolveUser(ctx context.Context, id string) (domain.UserProfile, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.next.ResolveUser(ctx, id)
}

func (c *countingDirectory) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestCachedServesFromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	upstream := &countingDirectory{next: Static{"u-1": {FirstName: "Ada"}}}
	c := NewCached(upstream, RedisOptions{Addr: mr.Addr()}, time.Minute, zerolog.Nop())
	defer c.Close()
	ctx := context.Background()

	p, err := c.ResolveUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.FirstName)
	assert.True(t, mr.Exists(cacheKeyPrefix+"u-1"))

	p, err = c.ResolveUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.FirstName)
	assert.Equal(t, 1, upstream.Calls())

	mr.FastForward(2 * time.Minute)
	_, err = c.ResolveUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 2, upstream.Calls())

	require.NoError(t, c.Invalidate(ctx, "u-1"))
	assert.False(t, mr.Exists(cacheKeyPrefix+"u-1"))
}

func TestCachedDoesNotCacheMisses(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewCached(Static{}, RedisOptions{Addr: mr.Addr()}, time.Minute, zerolog.Nop())
	defer c.Close()

	_, err := c.ResolveUser(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownUser)
	assert.False(t, mr.Exists(cacheKeyPrefix+"ghost"))
}

func TestCachedFallsBackWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	upstream := &countingDirectory{next: Static{"u-1": {FirstName: "Ada"}}}
	c := NewCached(upstream, RedisOptions{Addr: mr.Addr()}, time.Minute, zerolog.Nop())
	defer c.Close()
	mr.Close()

	p, err := c.ResolveUser(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.FirstName)
}
