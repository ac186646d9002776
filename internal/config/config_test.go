package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(body), 0o640))
	return dir
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := writeConfig(t, `{
		"key": "us",
		"base_url": "https://example.com",
		"selectors": {"ready": ["#main"]}
	}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "us", cfg.Key)
	assert.Equal(t, 30*time.Second, cfg.Run.NavTimeout)
	assert.Equal(t, 10*time.Second, cfg.Run.ReadyTimeout)
	assert.Equal(t, 256, cfg.Run.ChannelBuffer)
	assert.Equal(t, 3, cfg.Run.WriteAttempts)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := writeConfig(t, `{
		"base_url": "https://example.com",
		"run": {"nav_timeout": "45s", "channel_buffer": 32}
	}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Run.NavTimeout)
	assert.Equal(t, 32, cfg.Run.ChannelBuffer)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
}

func TestLoadRejectsMissingBaseURL(t *testing.T) {
	dir := writeConfig(t, `{"key": "us"}`)
	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")
}

func TestRequireSelectorGroups(t *testing.T) {
	t.Parallel()

	cfg := Config{Selectors: map[string][]string{
		"ready": {"#main"},
		"rows":  {".row", "//div[@class='row']"},
		"empty": {},
	}}

	assert.NoError(t, cfg.RequireSelectorGroups([]string{"ready", "rows"}))

	err := cfg.RequireSelectorGroups([]string{"ready", "empty", "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
	assert.Contains(t, err.Error(), "missing")
}

func TestGroup(t *testing.T) {
	t.Parallel()

	cfg := Config{Selectors: map[string][]string{"ready": {"#a", "#b"}}}
	assert.Equal(t, []string{"#a", "#b"}, cfg.Group("ready"))
	assert.Nil(t, cfg.Group("absent"))
}
