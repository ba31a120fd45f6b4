package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamline/internal/domain"
	"teamline/internal/engine"
)

func TestParseRoleFlag(t *testing.T) {
	assert.Equal(t, engine.RoleSpec{Title: "Designer", Description: "CAD: renders"}, parseRoleFlag(" Designer : CAD: renders"))
	assert.Equal(t, engine.RoleSpec{Title: "Engineer"}, parseRoleFlag("Engineer"))
}

func TestParseKindArg(t *testing.T) {
	k, err := parseKindArg("invitation")
	require.NoError(t, err)
	assert.Equal(t, domain.KindInvitation, k)
	_, err = parseKindArg("task")
	assert.Error(t, err)
}

func TestSetEnvValueRoundTripsThroughGodotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("OTHER=1\nTEAMLINE_USER=alice"), 0o644))

	require.NoError(t, setEnvValue(path, "TEAMLINE_USER", "bob"))
	require.NoError(t, setEnvValue(path, "TEAMLINE_LOG_LEVEL", "debug"))

	values, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"OTHER": "1", "TEAMLINE_USER": "bob", "TEAMLINE_LOG_LEVEL": "debug"}, values)
}

func TestEnvPath(t *testing.T) {
	assert.Equal(t, ".env", envPath(""))
	assert.Equal(t, filepath.Join("ws", ".env"), envPath("ws"))
}
