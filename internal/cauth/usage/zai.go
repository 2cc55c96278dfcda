package usage

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// ZaiClient probes z.ai/bigmodel.cn's usage quota endpoint when
// ANTHROPIC_BASE_URL points at one of those providers — the arrangement
// some accounts use to front Claude-compatible traffic through z.ai.
type ZaiClient struct {
	HTTP *http.Client
}

func NewZaiClient() *ZaiClient {
	return &ZaiClient{HTTP: &http.Client{Timeout: 5 * time.Second}}
}

// Applicable reports whether ANTHROPIC_BASE_URL/ANTHROPIC_AUTH_TOKEN are
// set up for a z.ai-fronted account.
func (c *ZaiClient) Applicable() (baseURL, authToken string, ok bool) {
	baseURL = os.Getenv("ANTHROPIC_BASE_URL")
	if !strings.Contains(baseURL, "api.z.ai") && !strings.Contains(baseURL, "bigmodel.cn") {
		return "", "", false
	}
	authToken = strings.TrimSpace(os.Getenv("ANTHROPIC_AUTH_TOKEN"))
	if authToken == "" {
		return "", "", false
	}
	return baseURL, authToken, true
}

func originOf(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return u.Scheme + "://" + u.Host, true
}

// Fetch probes the quota endpoint. ok=false means z.ai isn't configured
// for this environment (a silent skip, not an error row).
func (c *ZaiClient) Fetch(ctx context.Context) (Info, bool) {
	baseURL, authToken, applicable := c.Applicable()
	if !applicable {
		return Info{}, false
	}
	origin, ok := originOf(baseURL)
	if !ok {
		return ErrorResult("z.ai"), true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/api/monitor/usage/quota/limit", nil)
	if err != nil {
		return ErrorResult("z.ai"), true
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+authToken)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return ErrorResult("z.ai"), true
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ErrorResult("z.ai"), true
	}

	var root struct {
		Data struct {
			Limits []struct {
				Type          string  `json:"type"`
				CurrentValue  float64 `json:"currentValue"`
				Usage         float64 `json:"usage"`
				NextResetTime string  `json:"nextResetTime"`
			} `json:"limits"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&root); err != nil {
		return ErrorResult("z.ai"), true
	}

	info := Info{Name: "z.ai", Available: true, Model: stringPtr("GLM")}
	for _, limit := range root.Data.Limits {
		switch limit.Type {
		case "TOKENS_LIMIT":
			pct := clampPercent(limit.CurrentValue * 100)
			info.FiveHourPercent = floatPtr(pct)
			if limit.NextResetTime != "" {
				info.FiveHourReset = stringPtr(limit.NextResetTime)
			}
		case "TIME_LIMIT":
			value := limit.Usage
			if value == 0 {
				value = limit.CurrentValue
			}
			pct := clampPercent(value * 100)
			info.SevenDayPercent = floatPtr(pct)
			if limit.NextResetTime != "" {
				info.SevenDayReset = stringPtr(limit.NextResetTime)
			}
		}
	}
	return info, true
}

func clampPercent(v float64) float64 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
