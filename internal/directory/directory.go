// Package directory resolves user ids to the profile fields shown next to
// applications and invitations. The directory is owned by another service;
// lookups here are advisory and never decide whether a transition succeeds.
package directory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"teamline/internal/domain"
)

// ErrUnknownUser is returned when the directory has no record of a user.
var ErrUnknownUser = errors.New("unknown user")

// Directory looks up a single user.
type Directory interface {
	ResolveUser(ctx context.Context, userID string) (domain.UserProfile, error)
}

// Nop knows no users.
type Nop struct{}

func (Nop) ResolveUser(_ context.Context, userID string) (domain.UserProfile, error) {
	return domain.UserProfile{ID: userID}, ErrUnknownUser
}

// Static serves profiles from a fixed map, typically loaded from config.
type Static map[string]domain.UserProfile

func (s Static) ResolveUser(_ context.Context, userID string) (domain.UserProfile, error) {
	p, ok := s[userID]
	if !ok {
		return domain.UserProfile{ID: userID}, ErrUnknownUser
	}
	p.ID = userID
	return p, nil
}

// Lookup resolves ids concurrently under a shared timeout. Failed lookups are
// logged and left out of the result.
func Lookup(ctx context.Context, d Directory, timeout time.Duration, log zerolog.Logger, ids ...string) map[string]domain.UserProfile {
	out := map[string]domain.UserProfile{}
	if d == nil || len(ids) == 0 {
		return out
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	seen := map[string]bool{}
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		g.Go(func() error {
			p, err := d.ResolveUser(gctx, id)
			if err != nil {
				log.Debug().Err(err).Str("user_id", id).Msg("directory lookup failed")
				return nil
			}
			mu.Lock()
			out[id] = p
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
