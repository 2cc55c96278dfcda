package usage

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// CodexClient probes ChatGPT's usage endpoint using the token cached by
// the Codex CLI at ~/.codex/auth.json, read-only — cauth never refreshes
// Codex's own tokens.
type CodexClient struct {
	HomeDir  string
	Endpoint string
	HTTP     *http.Client
}

const defaultCodexEndpoint = "https://chatgpt.com/backend-api/wham/usage"

// NewCodexClient builds a CodexClient with a 5-second timeout, matching
// original_source/main.rs's fetch_codex_check_usage.
func NewCodexClient(homeDir string) *CodexClient {
	return &CodexClient{HomeDir: homeDir, Endpoint: defaultCodexEndpoint, HTTP: &http.Client{Timeout: 5 * time.Second}}
}

type codexAuthFile struct {
	Tokens struct {
		AccessToken string `json:"access_token"`
		AccountID   string `json:"account_id"`
	} `json:"tokens"`
}

// Installed reports whether ~/.codex/auth.json exists.
func (c *CodexClient) Installed() bool {
	_, err := os.Stat(filepath.Join(c.HomeDir, ".codex", "auth.json"))
	return err == nil
}

// Fetch probes the Codex usage endpoint. ok=false means Codex isn't
// installed at all (a silent skip, not an error row).
func (c *CodexClient) Fetch(ctx context.Context) (Info, bool) {
	authPath := filepath.Join(c.HomeDir, ".codex", "auth.json")
	data, err := os.ReadFile(authPath)
	if err != nil {
		return Info{}, false
	}

	var auth codexAuthFile
	if err := json.Unmarshal(data, &auth); err != nil {
		return ErrorResult("Codex"), true
	}
	if auth.Tokens.AccessToken == "" || auth.Tokens.AccountID == "" {
		return ErrorResult("Codex"), true
	}

	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = defaultCodexEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ErrorResult("Codex"), true
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "cauth/0.1")
	req.Header.Set("Authorization", "Bearer "+auth.Tokens.AccessToken)
	req.Header.Set("ChatGPT-Account-Id", auth.Tokens.AccountID)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return ErrorResult("Codex"), true
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ErrorResult("Codex"), true
	}

	var root map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&root); err != nil {
		return ErrorResult("Codex"), true
	}
	if root["rate_limit"] == nil || root["plan_type"] == nil {
		return ErrorResult("Codex"), true
	}

	planType, _ := root["plan_type"].(string)
	rateLimit, _ := root["rate_limit"].(map[string]interface{})
	primary, _ := rateLimit["primary_window"].(map[string]interface{})
	secondary, _ := rateLimit["secondary_window"].(map[string]interface{})

	info := Info{Name: "Codex", Available: true}
	if planType != "" {
		info.Plan = stringPtr(planType)
	}
	if pct, reset, ok := windowFields(primary); ok {
		info.FiveHourPercent = floatPtr(pct)
		if reset != "" {
			info.FiveHourReset = stringPtr(reset)
		}
	}
	if pct, reset, ok := windowFields(secondary); ok {
		info.SevenDayPercent = floatPtr(pct)
		if reset != "" {
			info.SevenDayReset = stringPtr(reset)
		}
	}
	if model := c.readModel(); model != "" {
		info.Model = stringPtr(model)
	}

	return info, true
}

func windowFields(window map[string]interface{}) (percent float64, resetAt string, ok bool) {
	if window == nil {
		return 0, "", false
	}
	used, hasUsed := window["used_percent"].(float64)
	if !hasUsed {
		return 0, "", false
	}
	percent = round(used)
	if ts, hasReset := window["reset_at"].(float64); hasReset {
		resetAt = time.Unix(int64(ts), 0).UTC().Format(time.RFC3339)
	}
	return percent, resetAt, true
}

func round(f float64) float64 {
	if f < 0 {
		return float64(int64(f - 0.5))
	}
	return float64(int64(f + 0.5))
}

type codexConfig struct {
	Model string `toml:"model"`
}

// readModel reads the model name from ~/.codex/config.toml, via a real
// TOML parser in place of original_source's hand-rolled line scanner.
func (c *CodexClient) readModel() string {
	var cfg codexConfig
	path := filepath.Join(c.HomeDir, ".codex", "config.toml")
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return ""
	}
	return cfg.Model
}
