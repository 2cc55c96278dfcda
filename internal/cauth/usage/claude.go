// Package usage implements the out-of-scope read-only collaborators for
// Claude's own usage windows plus the secondary providers' check-usage
// probes (Codex, Gemini, z.ai): never refreshed by cauth, reported
// best-effort alongside the core Claude refresh flow.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/agent-island/cauth/internal/cauth/usagefmt"
)

const claudeUserAgent = "cauth/0.1"

// ClaudeClient fetches a Claude access token's usage windows from the
// usage endpoint, implementing refresh.UsageProvider/status.UsageProvider.
type ClaudeClient struct {
	Endpoint string
	HTTP     *http.Client
}

// NewClaudeClient builds a ClaudeClient with an 8-second timeout, matching
// original_source/main.rs's default_usage_client.
func NewClaudeClient(endpoint string) *ClaudeClient {
	return &ClaudeClient{
		Endpoint: endpoint,
		HTTP:     &http.Client{Timeout: 8 * time.Second},
	}
}

// Summary fetches the 5-hour/7-day usage windows for accessToken. A
// non-2xx response or any transport error reports ok=false; callers treat
// that as "unknown", not fatal.
func (c *ClaudeClient) Summary(ctx context.Context, accessToken string) (usagefmt.Summary, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint, nil)
	if err != nil {
		return usagefmt.Summary{}, false
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", claudeUserAgent)
	req.Header.Set("anthropic-beta", "oauth-2025-04-20")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return usagefmt.Summary{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return usagefmt.Summary{}, false
	}

	var root map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&root); err != nil {
		return usagefmt.Summary{}, false
	}

	return usagefmt.Summary{
		FiveHour: parseUsageWindow(root["five_hour"]),
		SevenDay: parseUsageWindow(root["seven_day"]),
	}, true
}

func parseUsageWindow(v interface{}) usagefmt.Window {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return usagefmt.Window{}
	}
	var w usagefmt.Window
	if util, ok := obj["utilization"].(float64); ok {
		percent := int(util + 0.5)
		w.Percent = &percent
	}
	if resetsAt, ok := obj["resets_at"]; ok {
		if t, ok := parseTimestamp(resetsAt); ok {
			w.ResetAt = &t
		}
	}
	return w
}

func parseTimestamp(v interface{}) (time.Time, bool) {
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, false
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC(), true
		}
		return time.Time{}, false
	case float64:
		if val >= 1e12 {
			return time.UnixMilli(int64(val)).UTC(), true
		}
		return time.Unix(int64(val), 0).UTC(), true
	default:
		return time.Time{}, false
	}
}

// RawProbe is the raw request/response text pair `cauth status --raw`
// prints per source, mirroring original_source's default_usage_raw_client.
type RawProbe struct {
	RequestRaw  string
	ResponseRaw string
}

// Raw issues the same usage request as Summary but returns the verbatim
// request/response text instead of a parsed summary, for diagnostics.
func (c *ClaudeClient) Raw(ctx context.Context, accessToken string) RawProbe {
	requestRaw := fmt.Sprintf(
		"GET %s\nAccept: application/json\nContent-Type: application/json\nUser-Agent: %s\nanthropic-beta: oauth-2025-04-20\nAuthorization: Bearer %s",
		c.Endpoint, claudeUserAgent, accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint, nil)
	if err != nil {
		return RawProbe{RequestRaw: requestRaw, ResponseRaw: "request error: " + err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", claudeUserAgent)
	req.Header.Set("anthropic-beta", "oauth-2025-04-20")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return RawProbe{RequestRaw: requestRaw, ResponseRaw: "request error: " + err.Error()}
	}
	defer resp.Body.Close()

	var body strings.Builder
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			body.Write(buf[:n])
		}
		if readErr != nil {
			break
		}
	}

	var headerLines []string
	for key, values := range resp.Header {
		headerLines = append(headerLines, fmt.Sprintf("%s: %s", key, strings.Join(values, ",")))
	}
	statusLine := fmt.Sprintf("HTTP %s", resp.Status)
	responseRaw := statusLine
	if len(headerLines) > 0 {
		responseRaw += "\n" + strings.Join(headerLines, "\n")
	}
	responseRaw += "\n\n" + body.String()

	return RawProbe{RequestRaw: requestRaw, ResponseRaw: responseRaw}
}
