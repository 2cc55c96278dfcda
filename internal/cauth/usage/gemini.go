package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// GeminiClient probes Gemini CLI's own stored OAuth credentials
// (~/.gemini/oauth_creds.json), refreshing them transparently when near
// expiry using GEMINI_OAUTH_CLIENT_ID/SECRET — never written back to a
// cauth-managed account, since Gemini has no cauth-owned store.
type GeminiClient struct {
	HomeDir  string
	Keychain Keychain
	HTTP     *http.Client
}

// Keychain is the minimal capability GeminiClient needs to prefer a
// keychain-stored token over the on-disk oauth_creds.json, matching
// activesync.Keychain's shape so the same adapter can satisfy both.
type Keychain interface {
	Find(ctx context.Context, account string) (string, bool)
}

func NewGeminiClient(homeDir string) *GeminiClient {
	return &GeminiClient{HomeDir: homeDir, HTTP: &http.Client{Timeout: 5 * time.Second}}
}

type geminiCredentials struct {
	AccessToken  string
	RefreshToken string
	ExpiryMillis float64
}

func (c *GeminiClient) oauthCredsPath() string {
	return filepath.Join(c.HomeDir, ".gemini", "oauth_creds.json")
}

// Installed reports whether Gemini CLI has ever been authenticated.
func (c *GeminiClient) Installed(ctx context.Context) bool {
	if c.Keychain != nil {
		if _, ok := c.Keychain.Find(ctx, "main-account"); ok {
			return true
		}
	}
	_, err := os.Stat(c.oauthCredsPath())
	return err == nil
}

func (c *GeminiClient) credentials(ctx context.Context) (geminiCredentials, bool) {
	if c.Keychain != nil {
		if raw, ok := c.Keychain.Find(ctx, "main-account"); ok {
			var root map[string]interface{}
			if err := json.Unmarshal([]byte(raw), &root); err == nil {
				if token, ok := root["token"].(map[string]interface{}); ok {
					if cred, ok := credentialsFromMap(token, "accessToken", "refreshToken", "expiresAt"); ok {
						return cred, true
					}
				}
			}
		}
	}
	data, err := os.ReadFile(c.oauthCredsPath())
	if err != nil {
		return geminiCredentials{}, false
	}
	var root map[string]interface{}
	if err := json.Unmarshal(data, &root); err != nil {
		return geminiCredentials{}, false
	}
	return credentialsFromMap(root, "access_token", "refresh_token", "expiry_date")
}

func credentialsFromMap(m map[string]interface{}, accessKey, refreshKey, expiryKey string) (geminiCredentials, bool) {
	access, ok := m[accessKey].(string)
	if !ok || access == "" {
		return geminiCredentials{}, false
	}
	refresh, _ := m[refreshKey].(string)
	expiry, _ := m[expiryKey].(float64)
	return geminiCredentials{AccessToken: access, RefreshToken: refresh, ExpiryMillis: expiry}, true
}

func needsRefresh(cred geminiCredentials) bool {
	if cred.ExpiryMillis == 0 {
		return false
	}
	const bufferMillis = 5 * 60 * 1000
	return cred.ExpiryMillis < float64(time.Now().UnixMilli())+bufferMillis
}

func (c *GeminiClient) refresh(ctx context.Context, cred geminiCredentials) (geminiCredentials, bool) {
	if cred.RefreshToken == "" {
		return geminiCredentials{}, false
	}
	clientID := os.Getenv("GEMINI_OAUTH_CLIENT_ID")
	clientSecret := os.Getenv("GEMINI_OAUTH_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		return geminiCredentials{}, false
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {cred.RefreshToken},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://oauth2.googleapis.com/token", strings.NewReader(form.Encode()))
	if err != nil {
		return geminiCredentials{}, false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return geminiCredentials{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return geminiCredentials{}, false
	}

	var root map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&root); err != nil {
		return geminiCredentials{}, false
	}
	accessToken, ok := root["access_token"].(string)
	if !ok || accessToken == "" {
		return geminiCredentials{}, false
	}
	refreshToken := cred.RefreshToken
	if rt, ok := root["refresh_token"].(string); ok && rt != "" {
		refreshToken = rt
	}
	var expiry float64
	if expiresIn, ok := root["expires_in"].(float64); ok {
		expiry = float64(time.Now().UnixMilli()) + expiresIn*1000
	}
	return geminiCredentials{AccessToken: accessToken, RefreshToken: refreshToken, ExpiryMillis: expiry}, true
}

func (c *GeminiClient) settings() map[string]interface{} {
	data, err := os.ReadFile(filepath.Join(c.HomeDir, ".gemini", "settings.json"))
	if err != nil {
		return nil
	}
	var settings map[string]interface{}
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil
	}
	return settings
}

func (c *GeminiClient) projectID(ctx context.Context, cred geminiCredentials) (string, bool) {
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v, true
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT_ID"); v != "" {
		return v, true
	}
	if settings := c.settings(); settings != nil {
		if v, ok := settings["cloudaicompanionProject"].(string); ok && v != "" {
			return v, true
		}
		if v, ok := settings["project"].(string); ok && v != "" {
			return v, true
		}
	}

	body, _ := json.Marshal(map[string]interface{}{
		"metadata": map[string]string{
			"ideType":    "GEMINI_CLI",
			"platform":   "PLATFORM_UNSPECIFIED",
			"pluginType": "GEMINI",
		},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://cloudcode-pa.googleapis.com/v1internal:loadCodeAssist", bytes.NewReader(body))
	if err != nil {
		return "", false
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false
	}
	var root map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&root); err != nil {
		return "", false
	}
	project, ok := root["cloudaicompanionProject"].(string)
	return project, ok && project != ""
}

func (c *GeminiClient) model() (string, bool) {
	settings := c.settings()
	if settings == nil {
		return "", false
	}
	if v, ok := settings["selectedModel"].(string); ok && v != "" {
		return v, true
	}
	if v, ok := settings["model"].(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// Fetch probes Gemini's per-model quota buckets. ok=false means Gemini
// CLI has never been authenticated (a silent skip, not an error row).
func (c *GeminiClient) Fetch(ctx context.Context) (Info, bool) {
	if !c.Installed(ctx) {
		return Info{}, false
	}
	cred, ok := c.credentials(ctx)
	if !ok {
		return ErrorResult("Gemini"), true
	}
	if needsRefresh(cred) {
		refreshed, ok := c.refresh(ctx, cred)
		if !ok {
			return ErrorResult("Gemini"), true
		}
		cred = refreshed
	}

	project, ok := c.projectID(ctx, cred)
	if !ok {
		return ErrorResult("Gemini"), true
	}

	body, _ := json.Marshal(map[string]string{"project": project})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://cloudcode-pa.googleapis.com/v1internal:retrieveUserQuota", bytes.NewReader(body))
	if err != nil {
		return ErrorResult("Gemini"), true
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "cauth/0.1")
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return ErrorResult("Gemini"), true
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ErrorResult("Gemini"), true
	}

	var root struct {
		Buckets []struct {
			ModelID           string  `json:"modelId"`
			RemainingFraction float64 `json:"remainingFraction"`
			ResetTime         string  `json:"resetTime"`
		} `json:"buckets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&root); err != nil {
		return ErrorResult("Gemini"), true
	}

	modelName, _ := c.model()
	info := Info{Name: "Gemini", Available: true}
	var activePercent *float64
	var activeReset *string

	for _, bucket := range root.Buckets {
		used := round((1 - bucket.RemainingFraction) * 100)
		reset := bucket.ResetTime
		info.Buckets = append(info.Buckets, InfoBucket{
			ModelID:     bucket.ModelID,
			UsedPercent: floatPtr(used),
			ResetAt:     stringPtr(reset),
		})
		if activePercent == nil {
			activePercent = floatPtr(used)
			activeReset = stringPtr(reset)
		}
		if modelName != "" && strings.Contains(bucket.ModelID, modelName) {
			activePercent = floatPtr(used)
			activeReset = stringPtr(reset)
		}
	}

	info.FiveHourPercent = activePercent
	info.FiveHourReset = activeReset
	if modelName != "" {
		info.Model = stringPtr(modelName)
	}
	return info, true
}
