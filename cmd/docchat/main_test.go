package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docchat/internal/adapters/driven/auth"
	"github.com/custodia-labs/docchat/internal/adapters/driven/storage"
	"github.com/custodia-labs/docchat/internal/config"
)

func TestRootCommand_Subcommands(t *testing.T) {
	want := []string{"serve", "worker", "all", "ingest", "token", "migrate"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestNewFileStorage(t *testing.T) {
	cfg := &config.Config{}
	cfg.ApplyDefaults()

	fs, err := newFileStorage(cfg)
	require.NoError(t, err)
	assert.IsType(t, &storage.HTTPStorage{}, fs)

	cfg.Storage.Backend = config.StorageLocal
	cfg.Storage.Dir = t.TempDir()
	fs, err = newFileStorage(cfg)
	require.NoError(t, err)
	assert.IsType(t, &storage.LocalStorage{}, fs)

	cfg.Storage.Dir = "/does/not/exist"
	_, err = newFileStorage(cfg)
	assert.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	const secret = "test-secret-that-is-long-enough-for-hs256"
	t.Setenv("DOCCHAT_DATABASE_URL", "postgres://localhost/docchat")
	t.Setenv("DOCCHAT_AUTH_JWT_SECRET", secret)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "--user", "user-1", "--email", "a@example.com"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		tokenUser, tokenEmail = "", ""
	})

	require.NoError(t, rootCmd.Execute())

	claims, err := auth.NewAdapter(secret).ParseToken(string(bytes.TrimSpace(out.Bytes())))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "a@example.com", claims.Email)
}
