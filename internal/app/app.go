// Package app wires the database, engine and ambient services for the CLI
// and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"

	"teamline/internal/config"
	"teamline/internal/db"
	"teamline/internal/directory"
	"teamline/internal/domain"
	"teamline/internal/engine"
	"teamline/internal/events"
	"teamline/internal/logging"
	"teamline/internal/migrate"
)

type Options struct {
	Workspace string
	// Config overrides the workspace teamline.yml when set.
	Config *config.Config
	// LogWriter overrides stderr as the console log sink.
	LogWriter io.Writer
}

// App is an opened workspace.
type App struct {
	DB     *sql.DB
	Engine engine.Engine
	Config *config.Config
	Log    *logging.Logger

	closers []func() error
}

// Open loads config, opens and migrates the workspace database, and builds the
// engine with its directory, hub and logger.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load(opts.Workspace)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	console := opts.LogWriter
	if console == nil {
		console = os.Stderr
	}
	logger, err := logging.NewWithWriter(cfg.Log, console)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &App{Config: cfg, Log: logger}
	a.closers = append(a.closers, logger.Close)

	conn, err := db.Open(db.Config{Workspace: opts.Workspace, BusyTimeoutMS: cfg.Database.BusyTimeoutMS})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.DB = conn
	a.closers = append(a.closers, conn.Close)
	applied, err := migrate.Migrate(ctx, conn)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	for _, name := range applied {
		logger.Info().Str("migration", name).Msg("migration applied")
	}

	dir, closeDir := NewDirectory(cfg.Directory, logger.Logger)
	if closeDir != nil {
		a.closers = append(a.closers, closeDir)
	}
	if err := initSentry(cfg.Sentry); err != nil {
		logger.Warn().Err(err).Msg("sentry disabled")
	} else if cfg.Sentry.DSN != "" {
		a.closers = append(a.closers, func() error {
			sentry.Flush(2 * time.Second)
			return nil
		})
	}

	eng := engine.New(conn, cfg)
	eng.Directory = dir
	eng.Log = logger.With().Str("component", "engine").Logger()
	eng.Hub = events.NewHub(events.HubWithLogger(logger.With().Str("component", "hub").Logger()))
	a.Engine = eng
	return a, nil
}

// Reconciler returns the background reconciliation worker configured for this app.
func (a *App) Reconciler() engine.Reconciler {
	return engine.Reconciler{
		Engine:   a.Engine,
		Interval: a.Config.Reconcile.Interval,
		Log:      a.Log.With().Str("component", "reconciler").Logger(),
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// NewDirectory builds the configured user directory. The returned closer is
// nil unless a redis cache was opened.
func NewDirectory(cfg config.DirectoryConfig, log zerolog.Logger) (directory.Directory, func() error) {
	var dir directory.Directory
	switch cfg.Kind {
	case "static":
		users := directory.Static{}
		for id, p := range cfg.Users {
			users[id] = domain.UserProfile{
				ID:             id,
				FirstName:      p.FirstName,
				LastName:       p.LastName,
				University:     p.University,
				ProfilePicture: p.ProfilePicture,
			}
		}
		dir = users
	case "http":
		dir = directory.NewHTTP(cfg.URL, cfg.Token, cfg.Timeout)
	default:
		return directory.Nop{}, nil
	}
	if cfg.Cache.RedisAddr == "" {
		return dir, nil
	}
	cached := directory.NewCached(dir, directory.RedisOptions{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
	}, cfg.Cache.TTL, log.With().Str("component", "directory").Logger())
	return cached, cached.Close
}

func initSentry(cfg config.SentryConfig) error {
	if cfg.DSN == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
	})
}
