package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.Rules.MinDeclineReason)
	assert.Equal(t, "none", cfg.Directory.Kind)
	assert.Equal(t, time.Minute, cfg.Reconcile.Interval)
	assert.Equal(t, 2*time.Second, cfg.Directory.Timeout)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
rules:
  min_decline_reason: 20
directory:
  kind: static
  users:
    u-1:
      first_name: Ada
      university: Cambridge
`))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Rules.MinDeclineReason)
	assert.Equal(t, 10, cfg.Rules.MaxApplyRoles)
	assert.Equal(t, "Ada", cfg.Directory.Users["u-1"].FirstName)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := map[string]string{
		"unknown directory kind":  "directory:\n  kind: ldap\n",
		"http directory no url":   "directory:\n  kind: http\n",
		"static directory empty":  "directory:\n  kind: static\n",
		"reason minimum zero":     "rules:\n  min_decline_reason: 0\n",
		"bad log level":           "log:\n  level: loud\n",
		"redis addr without port": "directory:\n  cache:\n    redis_addr: localhost\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestValidateNamesTheField(t *testing.T) {
	_, err := FromYAML([]byte("directory:\n  kind: http\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory.url")
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "teamline.yml")
	require.NoError(t, os.WriteFile(path, []byte(GenerateDefault()), 0o644))
	cfg, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
