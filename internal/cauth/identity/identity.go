// Package identity derives a stable account identifier from a Claude
// credential and reconciles it against an existing snapshot by refresh
// token fingerprint and, failing that, metadata scoring.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/agent-island/cauth/internal/cauth/credential"
)

// Fingerprint returns the first 16 hex chars of SHA-256(token) — the
// refresh-token fingerprint used as both a lock key and a dedupe key.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:16]
}

// Slug lowercases email, maps ASCII alphanumerics to themselves, collapses
// every run of other characters to a single underscore, and trims leading
// and trailing underscores. An empty result means the email is unusable.
func Slug(email string) (string, bool) {
	lower := strings.ToLower(email)
	var b strings.Builder
	inRun := false
	for _, r := range lower {
		if isAlnum(r) {
			b.WriteRune(r)
			inRun = false
			continue
		}
		if !inRun {
			b.WriteByte('_')
			inRun = true
		}
	}
	slug := strings.Trim(b.String(), "_")
	if slug == "" {
		return "", false
	}
	return slug, true
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

// CanonicalAccountID derives the stable account id for cred per spec.md
// §4.E: email-based slug (team-flag variant included) when usable,
// otherwise a SHA-256 hash of the refresh token (or "-" when absent).
func CanonicalAccountID(cred *credential.Credential) string {
	if email, ok := cred.Email(); ok {
		if slug, ok := Slug(email); ok {
			if team, _ := cred.IsTeam(); team {
				return "acct_claude_team_" + slug
			}
			return "acct_claude_" + slug
		}
	}
	sum := sha256.Sum256([]byte("claude:refresh:" + cred.RefreshTokenOrDash()))
	return "acct_claude_" + hex.EncodeToString(sum[:])[:16]
}

// EmailFromAccountID reverses the slug-based id form back into an email for
// display fallback, per spec.md §4.E's inverse rule. Hash-based ids (no
// email segment recoverable) return ("", false).
func EmailFromAccountID(id string) (string, bool) {
	rest := ""
	switch {
	case strings.HasPrefix(id, "acct_claude_team_"):
		rest = strings.TrimPrefix(id, "acct_claude_team_")
	case strings.HasPrefix(id, "acct_claude_"):
		rest = strings.TrimPrefix(id, "acct_claude_")
	default:
		return "", false
	}
	parts := strings.Split(rest, "_")
	if len(parts) < 2 {
		return "", false
	}
	local := parts[0]
	domain := strings.Join(parts[1:], ".")
	if local == "" || domain == "" {
		return "", false
	}
	return local + "@" + domain, true
}

// Account is the minimal shape Reconcile needs from an existing snapshot
// entry — kept separate from store.Account to avoid an import cycle and to
// let callers pass whatever they have.
type Account struct {
	ID      string
	Service string
}

// CredentialReader reads the stored credential bytes for an existing
// account id. ok=false means unreadable (skip during scoring).
type CredentialReader func(accountID string) (*credential.Credential, bool)

// Reconcile finds the existing Claude account that cred belongs to, per
// spec.md §4.E: exact canonical id match, then refresh-token fingerprint
// match, then metadata scoring, falling back to the canonical id.
func Reconcile(cred *credential.Credential, accounts []Account, read CredentialReader) string {
	canonical := CanonicalAccountID(cred)

	claudeAccounts := make([]Account, 0, len(accounts))
	for _, a := range accounts {
		if a.Service == "claude" {
			claudeAccounts = append(claudeAccounts, a)
		}
	}

	for _, a := range claudeAccounts {
		if a.ID == canonical {
			return canonical
		}
	}

	if refreshToken, ok := cred.RefreshToken(); ok {
		targetFP := Fingerprint(refreshToken)
		for _, a := range claudeAccounts {
			existing, ok := read(a.ID)
			if !ok {
				continue
			}
			rt, ok := existing.RefreshToken()
			if !ok {
				continue
			}
			if Fingerprint(rt) == targetFP {
				return a.ID
			}
		}
	}

	if id, ok := scoreCandidates(cred, claudeAccounts, read); ok {
		return id
	}

	return canonical
}

type scoredCandidate struct {
	id    string
	score int
}

func scoreCandidates(cred *credential.Credential, accounts []Account, read CredentialReader) (string, bool) {
	targetEmail, hasTargetEmail := cred.Email()
	targetTeam, hasTargetTeam := cred.IsTeam()
	targetPlan, hasTargetPlan := cred.Plan()

	if !hasTargetEmail && !hasTargetTeam && !hasTargetPlan {
		return "", false
	}

	var candidates []scoredCandidate
	for _, a := range accounts {
		existing, ok := read(a.ID)
		if !ok {
			continue
		}

		score := 0

		existingEmail, hasExistingEmail := existing.Email()
		if hasTargetEmail {
			if !hasExistingEmail || existingEmail != targetEmail {
				continue
			}
			score += 100
		}

		// Team-flag equality is required only when both sides have a
		// determinate flag; when either side has no team signal at all,
		// this scoring dimension is skipped rather than eliminating the
		// candidate or awarding points for it.
		if hasTargetTeam {
			if existingTeam, ok := existing.IsTeam(); ok {
				if existingTeam != targetTeam {
					continue
				}
				score += 30
			}
		}

		if hasTargetPlan {
			if existingPlan, ok := existing.Plan(); ok && existingPlan == targetPlan {
				score += 10
			}
		}

		candidates = append(candidates, scoredCandidate{id: a.ID, score: score})
	}

	if len(candidates) == 0 {
		return "", false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})

	if len(candidates) == 1 {
		return candidates[0].id, true
	}
	if candidates[0].score > candidates[1].score {
		return candidates[0].id, true
	}
	return "", false
}
