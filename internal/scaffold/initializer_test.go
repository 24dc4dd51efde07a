package scaffold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dyluth/retro/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize(t *testing.T) {
	t.Run("in-memory defaults", func(t *testing.T) {
		dir := t.TempDir()

		path, err := Initialize(dir, Options{}, false)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "retro.yml"), path)

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, config.DefaultInstance, cfg.Instance)
		assert.False(t, cfg.UsesRedis())
		assert.Equal(t, "retro-index.db", cfg.Index.Path)
		assert.Equal(t, []string{"Start", "Stop", "Continue"}, cfg.Templates["start-stop-continue"])
	})

	t.Run("with redis", func(t *testing.T) {
		dir := t.TempDir()

		path, err := Initialize(dir, Options{Instance: "team-a", RedisURL: "redis://localhost:6379/2", IndexPath: "/var/lib/retro/index.db"}, false)
		require.NoError(t, err)

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, "team-a", cfg.Instance)
		require.True(t, cfg.UsesRedis())
		assert.Equal(t, "redis://localhost:6379/2", cfg.Redis.URL)
		assert.Equal(t, "/var/lib/retro/index.db", cfg.Index.Path)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		dir := t.TempDir()

		_, err := Initialize(dir, Options{Instance: "bad:name"}, false)
		assert.ErrorContains(t, err, "is not a valid configuration")
	})

	t.Run("force replaces existing file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "retro.yml")
		require.NoError(t, os.WriteFile(path, []byte("version: '0.1'\n"), 0644))

		_, err := Initialize(dir, Options{Instance: "fresh"}, true)
		require.NoError(t, err)

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, "fresh", cfg.Instance)
	})
}

func TestCheckExisting(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, CheckExisting(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "retro.yml"), []byte("version: '1.0'\n"), 0644))
	err := CheckExisting(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "found existing: retro.yml")
	assert.Contains(t, err.Error(), "retro init --force")
}
