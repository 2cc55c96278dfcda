// Package oauthclient exchanges a refresh token for a fresh access token
// against the configurable Claude token endpoint, following the same
// context-aware, timeout-bounded net/http client shape the teacher's
// internal/refresh package uses for Google's token endpoint.
package oauthclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Timeout is the fixed per-call HTTP timeout spec.md §4.I mandates.
const Timeout = 10 * time.Second

// maxErrorBodyChars caps a non-2xx response body echoed into the error.
const maxErrorBodyChars = 200

// TokenResponse is the canonical payload a refresh exchange returns.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id"`
	Scope        string `json:"scope,omitempty"`
}

// Client refreshes Claude OAuth tokens against a configured endpoint.
type Client struct {
	TokenURL string
	ClientID string
	HTTP     *http.Client
}

// New returns a Client with the spec-mandated 10s timeout.
func New(tokenURL, clientID string) *Client {
	return &Client{
		TokenURL: tokenURL,
		ClientID: clientID,
		HTTP:     &http.Client{Timeout: Timeout},
	}
}

// Refresh exchanges refreshToken for a fresh token pair. If the response
// omits refresh_token, the input token is reused (spec.md §4.I).
func (c *Client) Refresh(ctx context.Context, refreshToken, scope string) (*TokenResponse, error) {
	reqBody := tokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
		ClientID:     c.ClientID,
		Scope:        scope,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: Timeout}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("refresh failed with status %d: %s", resp.StatusCode, truncate(string(respBody), maxErrorBodyChars))
	}

	var token TokenResponse
	if err := json.Unmarshal(respBody, &token); err != nil {
		return nil, fmt.Errorf("decode refresh response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("refresh response missing access_token")
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}

	return &token, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
