package app

import (
	"bytes"
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamline/internal/config"
	"teamline/internal/directory"
)

func TestOpenMigratesAndWiresDirectory(t *testing.T) {
	cfg := config.Default()
	cfg.Directory.Kind = "static"
	cfg.Directory.Users = map[string]config.UserProfile{"bob": {FirstName: "Bob", University: "ETH"}}
	var logs bytes.Buffer

	a, err := Open(context.Background(), Options{Workspace: t.TempDir(), Config: cfg, LogWriter: &logs})
	require.NoError(t, err)
	defer a.Close()

	assert.Contains(t, logs.String(), "001_init.sql")
	p, err := a.Engine.Directory.ResolveUser(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "ETH", p.University)
	assert.NotNil(t, a.Engine.Hub)
	assert.Equal(t, cfg.Reconcile.Interval, a.Reconciler().Interval)
}

func TestReopenSkipsAppliedMigrations(t *testing.T) {
	ws := t.TempDir()
	var logs bytes.Buffer
	a, err := Open(context.Background(), Options{Workspace: ws, Config: config.Default(), LogWriter: &logs})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	logs.Reset()
	a, err = Open(context.Background(), Options{Workspace: ws, Config: config.Default(), LogWriter: &logs})
	require.NoError(t, err)
	defer a.Close()
	assert.NotContains(t, logs.String(), "migration applied")
}

func TestNewDirectory(t *testing.T) {
	dir, closer := NewDirectory(config.DirectoryConfig{Kind: "none"}, zerolog.Nop())
	assert.IsType(t, directory.Nop{}, dir)
	assert.Nil(t, closer)

	dir, closer = NewDirectory(config.DirectoryConfig{Kind: "http", URL: "http://directory.local"}, zerolog.Nop())
	assert.IsType(t, &directory.HTTP{}, dir)
	assert.Nil(t, closer)

	mr := miniredis.RunT(t)
	dir, closer = NewDirectory(config.DirectoryConfig{
		Kind:  "static",
		Users: map[string]config.UserProfile{"bob": {FirstName: "Bob"}},
		Cache: config.CacheConfig{RedisAddr: mr.Addr()},
	}, zerolog.Nop())
	require.NotNil(t, closer)
	defer closer()
	require.IsType(t, &directory.Cached{}, dir)
	p, err := dir.ResolveUser(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob", p.FirstName)
	assert.True(t, mr.Exists("teamline:user:bob"))
}
