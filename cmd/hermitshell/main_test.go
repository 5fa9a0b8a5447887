package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermitshell/hermitshell/internal/config"
)

func TestTokenCmd(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HERMIT_AUTH_JWT_SECRET", "s3cret")

	var out bytes.Buffer
	cmd := tokenCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"alice", "--ttl", "1h"})
	require.NoError(t, cmd.Execute())

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(out.String()), claims, func(*jwt.Token) (interface{}, error) {
		return []byte("s3cret"), nil
	}, jwt.WithIssuer("hermitshell"))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
}

func TestTokenCmd_NoSecret(t *testing.T) {
	t.Chdir(t.TempDir())

	cmd := tokenCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"alice"})
	assert.Error(t, cmd.Execute())
}

func TestSeedAgentsCmd_BadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agents:\n  - name: a\n"), 0o600))

	cmd := seedAgentsCmd()
	cmd.SetArgs([]string{"--file", path})
	err := cmd.Execute()
	assert.ErrorContains(t, err, "image is required")
}

func TestNewLogger(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, newLogger(config.LogConfig{Level: "debug"}).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, newLogger(config.LogConfig{Level: "nonsense"}).GetLevel())
	assert.Equal(t, zerolog.WarnLevel, newLogger(config.LogConfig{Level: "WARN", Format: "console"}).GetLevel())
}
