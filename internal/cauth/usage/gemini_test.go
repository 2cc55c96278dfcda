package usage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeGeminiKeychain struct {
	values map[string]string
}

func (k fakeGeminiKeychain) Find(ctx context.Context, account string) (string, bool) {
	v, ok := k.values[account]
	return v, ok
}

func TestGeminiClientNotInstalledSkips(t *testing.T) {
	home := t.TempDir()
	client := NewGeminiClient(home)
	_, ok := client.Fetch(context.Background())
	require.False(t, ok)
	require.False(t, client.Installed(context.Background()))
}

func TestGeminiClientInstalledViaOAuthCredsFile(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".gemini"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".gemini", "oauth_creds.json"), []byte(`{
		"access_token": "at-gemini",
		"refresh_token": "rt-gemini",
		"expiry_date": 99999999999999
	}`), 0600))

	client := NewGeminiClient(home)
	require.True(t, client.Installed(context.Background()))

	cred, ok := client.credentials(context.Background())
	require.True(t, ok)
	require.Equal(t, "at-gemini", cred.AccessToken)
	require.Equal(t, "rt-gemini", cred.RefreshToken)
	require.False(t, needsRefresh(cred))
}

func TestGeminiClientInstalledViaKeychain(t *testing.T) {
	home := t.TempDir()
	client := NewGeminiClient(home)
	client.Keychain = fakeGeminiKeychain{values: map[string]string{
		"main-account": `{"token": {"accessToken": "at-kc", "refreshToken": "rt-kc", "expiresAt": 99999999999999}}`,
	}}

	require.True(t, client.Installed(context.Background()))
	cred, ok := client.credentials(context.Background())
	require.True(t, ok)
	require.Equal(t, "at-kc", cred.AccessToken)
}

func TestGeminiClientNeedsRefreshWhenNearExpiry(t *testing.T) {
	cred := geminiCredentials{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiryMillis: float64(time.Now().UnixMilli()) + 1000,
	}
	require.True(t, needsRefresh(cred))

	cred.ExpiryMillis = float64(time.Now().UnixMilli()) + 60*60*1000
	require.False(t, needsRefresh(cred))

	cred.ExpiryMillis = 0
	require.False(t, needsRefresh(cred))
}

func TestGeminiClientCredentialsMissingFileReportsNotOK(t *testing.T) {
	home := t.TempDir()
	client := NewGeminiClient(home)
	_, ok := client.credentials(context.Background())
	require.False(t, ok)
}

func TestGeminiClientProjectIDFromEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("GOOGLE_CLOUD_PROJECT", "my-project")
	client := NewGeminiClient(home)
	project, ok := client.projectID(context.Background(), geminiCredentials{})
	require.True(t, ok)
	require.Equal(t, "my-project", project)
}

func TestGeminiClientProjectIDFromSettings(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".gemini"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".gemini", "settings.json"), []byte(`{
		"cloudaicompanionProject": "settings-project",
		"selectedModel": "gemini-2.5-pro"
	}`), 0600))

	client := NewGeminiClient(home)
	project, ok := client.projectID(context.Background(), geminiCredentials{})
	require.True(t, ok)
	require.Equal(t, "settings-project", project)

	model, ok := client.model()
	require.True(t, ok)
	require.Equal(t, "gemini-2.5-pro", model)
}

func TestGeminiClientFetchWithoutClientEnvReportsError(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".gemini"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".gemini", "oauth_creds.json"), []byte(`{
		"access_token": "at-gemini",
		"refresh_token": "rt-gemini",
		"expiry_date": 1
	}`), 0600))

	client := NewGeminiClient(home)
	info, ok := client.Fetch(context.Background())
	require.True(t, ok)
	require.True(t, info.Error)
}
