package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"teamline/internal/config"
	"teamline/internal/directory"
	"teamline/internal/domain"
	"teamline/internal/events"
	"teamline/internal/repo"
)

// Engine is the lifecycle coordinator. Every command runs in one SQL
// transaction spanning the role store, the request ledger and the
// conversation store, appends its events in that same transaction, and only
// notifies subscribers after commit.
type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Hub       *events.Hub
	Directory directory.Directory
	Config    *config.Config
	Log       zerolog.Logger
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Directory: directory.Nop{},
		Config:    cfg,
		Log:       zerolog.Nop(),
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func newID() string {
	return uuid.NewString()
}

// outbox collects notifications for events appended in the current
// transaction; they are published only once the transaction commits.
type outbox struct {
	e     Engine
	items []events.Notification
}

func (e Engine) outbox() *outbox {
	w := e.Events
	w.Now = e.Now
	return &outbox{e: Engine{Events: w, Hub: e.Hub, Log: e.Log}}
}

func (o *outbox) append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload events.EventPayload, users ...string) error {
	evt, err := o.e.Events.Append(ctx, tx, evtType, projectID, entityKind, entityID, actorID, payload)
	if err != nil {
		return err
	}
	o.items = append(o.items, events.FromEvent(evt, users...))
	return nil
}

func (o *outbox) commit(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return err
	}
	for _, n := range o.items {
		o.e.Hub.Publish(n)
	}
	return nil
}

func (e Engine) minDeclineReason() int {
	if e.Config != nil && e.Config.Rules.MinDeclineReason > 0 {
		return e.Config.Rules.MinDeclineReason
	}
	return 10
}

func (e Engine) maxApplyRoles() int {
	if e.Config != nil && e.Config.Rules.MaxApplyRoles > 0 {
		return e.Config.Rules.MaxApplyRoles
	}
	return 10
}

func (e Engine) directoryTimeout() time.Duration {
	if e.Config != nil && e.Config.Directory.Timeout > 0 {
		return e.Config.Directory.Timeout
	}
	return 2 * time.Second
}

// resolveProfile looks a user up in the directory before a transaction opens.
// A failed lookup returns nil and the reconciler back-fills it later.
func (e Engine) resolveProfile(ctx context.Context, userID string) *domain.UserProfile {
	found := directory.Lookup(ctx, e.Directory, e.directoryTimeout(), e.Log, userID)
	p, ok := found[userID]
	if !ok {
		return nil
	}
	return &p
}
