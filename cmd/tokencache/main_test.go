package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/tokencache/internal/security/secretbox"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func setupEnv(t *testing.T) {
	t.Helper()
	key, err := secretbox.GenerateKey()
	require.NoError(t, err)
	t.Setenv("STORAGE_DRIVER", "sqlite")
	t.Setenv("STORAGE_DSN", "file:"+filepath.Join(t.TempDir(), "cli.db"))
	t.Setenv("SECRETBOX_MASTER_KEY", key)
	t.Setenv("IDENTITY_AUTHORITY", "https://login.example.com/tenant/v2.0")
	t.Setenv("IDENTITY_CLIENT_ID", "client-1")
	t.Setenv("TOKENCACHE_CONFIG", "")
}

func TestKeygen(t *testing.T) {
	out, err := run(t, "keygen")
	require.NoError(t, err)
	_, err = secretbox.ParseKey(strings.TrimSpace(out))
	require.NoError(t, err)
}

func TestMigrateEvictInspect(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "migrations applied")

	out, err = run(t, "inspect", "--key", "user:alice.tenant@login.example.com/tenant")
	require.NoError(t, err)
	assert.Contains(t, out, "not found")

	out, err = run(t, "evict", "--user", "alice.tenant", "--app")
	require.NoError(t, err)
	assert.Contains(t, out, "evicted user:alice.tenant@login.example.com/tenant")
	assert.Contains(t, out, "evicted app:client-1@login.example.com/tenant")
}

func TestEvict_RequiresTarget(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "evict")
	require.ErrorContains(t, err, "--user")
}

func TestMigrate_MissingKey(t *testing.T) {
	setupEnv(t)
	t.Setenv("SECRETBOX_MASTER_KEY", "")
	_, err := run(t, "migrate")
	require.ErrorContains(t, err, "secretbox_master_key")
}
