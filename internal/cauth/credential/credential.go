// Package credential parses a Claude credential blob — the JSON object
// persisted at a stored account's .claude/.credentials.json, at the active
// credential file, and in the OS keychain — and exposes typed accessors
// for the fields the rest of cauth needs (tokens, expiry, scopes, plan,
// team flag, email).
package credential

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/agent-island/cauth/internal/cauth/jsonpath"
)

// DefaultScope is the scope requested when a stored credential carries none.
const DefaultScope = "user:profile user:inference user:sessions:claude_code user:mcp_servers"

// Credential wraps the dynamic JSON object backing a parsed credential
// blob. The same logical fields may live at the root or nested under
// claudeAiOauth; every accessor tries both per spec.md §3.
type Credential struct {
	root jsonpath.Object
	raw  []byte
}

// Parse decodes data into a Credential. Missing or invalid JSON yields an
// empty credential (every accessor then reports absent), never an error.
func Parse(data []byte) *Credential {
	return &Credential{root: jsonpath.Parse(data), raw: data}
}

// Raw returns the original bytes this credential was parsed from.
func (c *Credential) Raw() []byte { return c.raw }

func (c *Credential) str(field string) (string, bool) {
	if v, ok := jsonpath.GetString(c.root, "claudeAiOauth", field); ok {
		return v, true
	}
	return jsonpath.GetString(c.root, field)
}

// AccessToken returns the access token, trying claudeAiOauth then root.
func (c *Credential) AccessToken() (string, bool) { return c.str("accessToken") }

// RefreshToken returns the refresh token, trying claudeAiOauth then root.
func (c *Credential) RefreshToken() (string, bool) { return c.str("refreshToken") }

// RefreshTokenOrDash returns the refresh token, or "-" when absent — the
// placeholder spec.md §4.E's SHA-256 fallback-id derivation hashes against.
func (c *Credential) RefreshTokenOrDash() string {
	if tok, ok := c.RefreshToken(); ok {
		return tok
	}
	return "-"
}

// IsRefreshable reports whether both tokens are present (spec.md §3
// invariant: a credential with only one token is legal on disk but cannot
// be refreshed).
func (c *Credential) IsRefreshable() bool {
	_, hasAccess := c.AccessToken()
	_, hasRefresh := c.RefreshToken()
	return hasAccess && hasRefresh
}

// ExpiresAt returns the expiry as a time, accepting epoch-seconds (>= 1e9),
// epoch-ms (>= 1e12), numeric strings, or RFC3339.
func (c *Credential) ExpiresAt() (time.Time, bool) {
	for _, path := range [][]string{{"claudeAiOauth", "expiresAt"}, {"expiresAt"}} {
		if v, ok := jsonpath.Get(c.root, path...); ok {
			if t, ok := parseExpiry(v); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func parseExpiry(v interface{}) (time.Time, bool) {
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, false
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return epochToTime(n), true
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC(), true
		}
		return time.Time{}, false
	case float64:
		return epochToTime(val), true
	default:
		return time.Time{}, false
	}
}

func epochToTime(n float64) time.Time {
	if n >= 1e12 {
		return time.UnixMilli(int64(n)).UTC()
	}
	if n >= 1e9 {
		return time.Unix(int64(n), 0).UTC()
	}
	// Smaller than a plausible epoch-seconds value; treat as seconds anyway,
	// callers that need stricter validation check IsRefreshable/Plan first.
	return time.Unix(int64(n), 0).UTC()
}

// Scopes returns the scopes as a slice, whether the source was a JSON array
// or a single space-delimited string.
func (c *Credential) Scopes() []string {
	for _, path := range [][]string{{"claudeAiOauth", "scopes"}, {"scopes"}} {
		v, ok := jsonpath.Get(c.root, path...)
		if !ok {
			continue
		}
		switch val := v.(type) {
		case []interface{}:
			out := make([]string, 0, len(val))
			for _, item := range val {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		case string:
			fields := strings.Fields(val)
			if len(fields) > 0 {
				return fields
			}
		}
	}
	return nil
}

// Plan resolves the display plan name from rateLimitTier (preferred) or
// subscriptionType, per spec.md §4.D.
func (c *Credential) Plan() (string, bool) {
	tier, _ := c.str("rateLimitTier")
	sub, _ := c.str("subscriptionType")
	source := tier
	if source == "" {
		source = sub
	}
	source = strings.ToLower(source)
	switch {
	case source == "":
		return "", false
	case strings.Contains(source, "max") && strings.Contains(source, "20"):
		return "Max 20x", true
	case strings.Contains(source, "max") && strings.Contains(source, "5"):
		return "Max 5x", true
	case strings.Contains(source, "pro"):
		return "Pro", true
	case strings.Contains(source, "max"):
		return "Max", true
	default:
		return "", false
	}
}

// IsTeam reports the team flag per spec.md §4.D: explicit isTeam, or
// subscriptionType/organization_type containing "team". The second return
// value reports whether the flag is determinate: an explicit isTeam bool
// is always determinate; the string paths are only determinate when they
// actually contain "team" (mirroring the original's `resolve_claude_is_team`,
// which falls through to the next path — and ultimately to None — rather
// than concluding "not a team" just because a field happens to be present).
// Callers that need to treat "no team signal at all" differently from
// "explicitly not a team" (e.g. identity's metadata scoring, which only
// compares the flag when both sides are determinate) use this instead of
// collapsing to a bare bool.
func (c *Credential) IsTeam() (bool, bool) {
	if v, ok := jsonpath.GetBool(c.root, "claudeAiOauth", "isTeam"); ok {
		return v, true
	}
	if v, ok := jsonpath.GetBool(c.root, "isTeam"); ok {
		return v, true
	}
	if sub, ok := c.str("subscriptionType"); ok && strings.Contains(strings.ToLower(sub), "team") {
		return true, true
	}
	if orgType, ok := jsonpath.GetString(c.root, "claudeAiOauth", "organization", "organization_type"); ok && strings.Contains(strings.ToLower(orgType), "team") {
		return true, true
	}
	if orgType, ok := jsonpath.GetString(c.root, "organization", "organization_type"); ok && strings.Contains(strings.ToLower(orgType), "team") {
		return true, true
	}
	return false, false
}

// Email extracts the user's email per spec.md §4.D's path order, falling
// back to decoding the access token as a JWT. The result is normalized:
// lowercased, trimmed, and required to contain "@".
func (c *Credential) Email() (string, bool) {
	paths := [][]string{
		{"email"},
		{"account", "email"},
		{"claudeAiOauth", "email"},
		{"claudeAiOauth", "account", "email"},
	}
	for _, p := range paths {
		if email, ok := jsonpath.GetString(c.root, p...); ok {
			if normalized, ok := normalizeEmail(email); ok {
				return normalized, true
			}
		}
	}
	if token, ok := c.AccessToken(); ok {
		if email, ok := jsonpath.DecodeJWTEmail(token); ok {
			if normalized, ok := normalizeEmail(email); ok {
				return normalized, true
			}
		}
	}
	return "", false
}

// ApplyRefresh returns a new pretty-printed JSON document with the access
// token, refresh token, expiry, and (when provided) scopes updated under a
// claudeAiOauth sub-object, creating that sub-object if the original
// credential didn't nest under one. Every other field is preserved.
func (c *Credential) ApplyRefresh(accessToken, refreshToken string, expiresInSeconds float64, scope string) []byte {
	root := cloneObject(c.root)

	oauthObj, ok := root["claudeAiOauth"].(map[string]interface{})
	if ok {
		oauthObj = cloneObject(oauthObj)
	} else {
		oauthObj = jsonpath.Object{}
	}

	oauthObj["accessToken"] = accessToken
	oauthObj["refreshToken"] = refreshToken
	if expiresInSeconds > 0 {
		oauthObj["expiresAt"] = float64(time.Now().UnixMilli()) + expiresInSeconds*1000
	}
	if scope != "" {
		fields := strings.Fields(scope)
		scopes := make([]interface{}, len(fields))
		for i, s := range fields {
			scopes[i] = s
		}
		oauthObj["scopes"] = scopes
	}
	root["claudeAiOauth"] = oauthObj

	data, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return c.raw
	}
	return data
}

func cloneObject(o jsonpath.Object) jsonpath.Object {
	out := make(jsonpath.Object, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

func normalizeEmail(email string) (string, bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return "", false
	}
	return email, true
}
