package appconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func withConfigHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CAUTH_CONFIG_HOME", dir)
	return dir
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "claude", cfg.DefaultProvider)
	require.NotNil(t, cfg.DefaultProfiles)
	require.Empty(t, cfg.DefaultProfiles)
	require.True(t, cfg.AutoLock)
	require.NotEmpty(t, cfg.TokenURL)
	require.NotEmpty(t, cfg.UsageURL)
	require.NotEmpty(t, cfg.ClientID)
}

func TestConfigPathRespectsOverride(t *testing.T) {
	dir := withConfigHome(t)
	require.Equal(t, filepath.Join(dir, "config.json"), ConfigPath())
}

func TestLoadNonExistentReturnsDefault(t *testing.T) {
	withConfigHome(t)
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "claude", cfg.DefaultProvider)
	require.True(t, cfg.AutoLock)
}

func TestLoadValidConfig(t *testing.T) {
	dir := withConfigHome(t)
	testConfig := Config{
		DefaultProvider: "codex",
		DefaultProfiles: map[string]string{"claude": "work"},
		AutoLock:        false,
		Passthroughs:    []string{".ssh", ".gitconfig"},
	}
	data, err := json.MarshalIndent(testConfig, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), data, 0600))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "codex", cfg.DefaultProvider)
	require.Equal(t, "work", cfg.GetDefault("claude"))
	require.False(t, cfg.AutoLock)
	require.Len(t, cfg.Passthroughs, 2)
}

func TestLoadInvalidJSON(t *testing.T) {
	dir := withConfigHome(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("not json"), 0600))
	_, err := Load()
	require.Error(t, err)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	withConfigHome(t)
	t.Setenv("CLAUDE_CODE_TOKEN_URL", "https://example.test/token")
	t.Setenv("CLAUDE_CODE_USAGE_URL", "https://example.test/usage")
	t.Setenv("CAUTH_SECURITY_BIN", "/usr/local/bin/security")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://example.test/token", cfg.TokenURL)
	require.Equal(t, "https://example.test/usage", cfg.UsageURL)
	require.Equal(t, "/usr/local/bin/security", cfg.SecurityBin)
}

func TestSaveWritesSecurePermissions(t *testing.T) {
	dir := withConfigHome(t)
	cfg := DefaultConfig()
	cfg.SetDefault("gemini", "team-1")
	require.NoError(t, cfg.Save())

	info, err := os.Stat(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load()
	require.NoError(t, err)
	require.Equal(t, "team-1", loaded.GetDefault("gemini"))
}

func TestSetDefaultAndGetDefault(t *testing.T) {
	cfg := &Config{}
	require.Equal(t, "", cfg.GetDefault("codex"))
	cfg.SetDefault("codex", "work-1")
	require.Equal(t, "work-1", cfg.GetDefault("codex"))
	cfg.SetDefault("codex", "work-2")
	require.Equal(t, "work-2", cfg.GetDefault("codex"))
}

func TestAddAndRemovePassthrough(t *testing.T) {
	cfg := &Config{}
	cfg.AddPassthrough(".ssh")
	cfg.AddPassthrough(".gitconfig")
	cfg.AddPassthrough(".ssh")
	require.Equal(t, []string{".ssh", ".gitconfig"}, cfg.Passthroughs)

	cfg.RemovePassthrough(".ssh")
	require.Equal(t, []string{".gitconfig"}, cfg.Passthroughs)

	cfg.RemovePassthrough(".nonexistent")
	require.Equal(t, []string{".gitconfig"}, cfg.Passthroughs)
}

func TestDurationJSONRoundtrip(t *testing.T) {
	d := Duration(90 * time.Second)
	data, err := json.Marshal(d)
	require.NoError(t, err)
	require.Equal(t, `"1m30s"`, string(data))

	var decoded Duration
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, 90*time.Second, decoded.Duration())
}
