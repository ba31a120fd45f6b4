package directory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"teamline/internal/domain"
)

const (
	cacheKeyPrefix  = "teamline:user:"
	defaultCacheTTL = 10 * time.Minute
)

// Cached fronts another Directory with a redis profile cache. Concurrent
// misses for the same user share one upstream call. Redis faults degrade to
// calling the upstream directly.
type Cached struct {
	Next   Directory
	Client *redis.Client
	TTL    time.Duration
	Log    zerolog.Logger

	group singleflight.Group
}

// RedisOptions mirrors the connection settings from config.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

func NewCached(next Directory, opts RedisOptions, ttl time.Duration, log zerolog.Logger) *Cached {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &Cached{Next: next, Client: client, TTL: ttl, Log: log}
}

func (c *Cached) ttl() time.Duration {
	if c.TTL <= 0 {
		return defaultCacheTTL
	}
	return c.TTL
}

func (c *Cached) ResolveUser(ctx context.Context, userID string) (domain.UserProfile, error) {
	key := cacheKeyPrefix + userID
	data, err := c.Client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p domain.UserProfile
		if jerr := json.Unmarshal(data, &p); jerr == nil {
			return p, nil
		}
		c.Log.Warn().Str("key", key).Msg("discarding undecodable cached profile")
	case !errors.Is(err, redis.Nil):
		c.Log.Warn().Err(err).Msg("profile cache read failed")
	}

	v, err, _ := c.group.Do(userID, func() (any, error) {
		p, err := c.Next.ResolveUser(ctx, userID)
		if err != nil {
			return p, err
		}
		if b, merr := json.Marshal(p); merr == nil {
			if serr := c.Client.Set(ctx, key, b, c.ttl()).Err(); serr != nil {
				c.Log.Warn().Err(serr).Msg("profile cache write failed")
			}
		}
		return p, nil
	})
	p, _ := v.(domain.UserProfile)
	return p, err
}

// Invalidate drops a cached profile.
func (c *Cached) Invalidate(ctx context.Context, userID string) error {
	return c.Client.Del(ctx, cacheKeyPrefix+userID).Err()
}

func (c *Cached) Close() error {
	return c.Client.Close()
}
