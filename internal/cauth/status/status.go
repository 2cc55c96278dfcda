// Package status renders the inventory listing ("cauth list") and the raw
// diagnostic dump ("cauth status"): the former the current active Claude
// account, every profile's linked services, and every stored account's
// usage/key state; the latter the keychain and active-file credential
// sources each paired with their literal usage-endpoint request/response,
// per original_source/main.rs's status_report_lines.
package status

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agent-island/cauth/internal/cauth/activesync"
	"github.com/agent-island/cauth/internal/cauth/atomicfile"
	"github.com/agent-island/cauth/internal/cauth/credential"
	"github.com/agent-island/cauth/internal/cauth/identity"
	"github.com/agent-island/cauth/internal/cauth/store"
	"github.com/agent-island/cauth/internal/cauth/usage"
	"github.com/agent-island/cauth/internal/cauth/usagefmt"
)

// EventSink receives cauth_email_resolution audit events.
type EventSink interface {
	Event(event string, fields map[string]string)
}

// UsageProvider fetches the usage summary for an access token, same
// out-of-scope collaborator contract as the refresh orchestrator's.
type UsageProvider interface {
	Summary(ctx context.Context, accessToken string) (usagefmt.Summary, bool)
}

// RawUsageProvider issues the literal diagnostic HTTP probe "cauth status"
// prints verbatim: the request line/headers as text, and the response's
// status/headers/body as text.
type RawUsageProvider interface {
	Raw(ctx context.Context, accessToken string) usage.RawProbe
}

// InventoryStatus is one Claude account's resolved display fields.
type InventoryStatus struct {
	Email        string
	Plan         string
	KeyRemaining string
	FiveHour     string
	SevenDay     string
	FileState    string // ok|missing|read-error
}

func missingStatus(email string) InventoryStatus {
	return InventoryStatus{
		Email:        email,
		Plan:         "-",
		KeyRemaining: "--",
		FiveHour:     "-- (--)",
		SevenDay:     "-- (--)",
		FileState:    "missing",
	}
}

// Renderer composes the components ProfileInventoryLines and RawReport
// need.
type Renderer struct {
	SnapshotPath string
	ActiveSync   *activesync.Sync
	Usage        UsageProvider
	RawUsage     RawUsageProvider
	EventLog     EventSink
}

// ResolveEmail implements spec.md §4.L's email_source resolution: the
// credential's own email, else the inverse-slug fallback from account_id,
// else "-"/"missing".
func ResolveEmail(cred *credential.Credential, accountID string) (email, source string) {
	if e, ok := cred.Email(); ok {
		return e, "credential"
	}
	if accountID != "" {
		if e, ok := identity.EmailFromAccountID(accountID); ok {
			return e, "account_id_fallback"
		}
	}
	return "-", "missing"
}

func (r *Renderer) usageSummary(ctx context.Context, accessToken string) usagefmt.Summary {
	if r.Usage == nil || accessToken == "" {
		return usagefmt.Summary{}
	}
	if s, ok := r.Usage.Summary(ctx, accessToken); ok {
		return s
	}
	return usagefmt.Summary{}
}

func (r *Renderer) emitEmailResolution(accountID, email, source string) {
	if r.EventLog == nil {
		return
	}
	r.EventLog.Event("cauth_email_resolution", map[string]string{
		"account_id":   accountID,
		"email":        email,
		"email_source": source,
	})
}

// CollectFromData resolves an InventoryStatus for a credential already in
// memory (the active credential, or one just re-read under lock).
func (r *Renderer) CollectFromData(ctx context.Context, data []byte, accountID string) InventoryStatus {
	cred := credential.Parse(data)
	email, source := ResolveEmail(cred, accountID)
	r.emitEmailResolution(accountID, email, source)

	plan, ok := cred.Plan()
	if !ok {
		plan = "-"
	}
	keyTTL := "--"
	if expiresAt, ok := cred.ExpiresAt(); ok {
		keyTTL = usagefmt.FormatRemaining(expiresAt)
	}

	var summary usagefmt.Summary
	if token, ok := cred.AccessToken(); ok {
		summary = r.usageSummary(ctx, token)
	}

	return InventoryStatus{
		Email:        email,
		Plan:         plan,
		KeyRemaining: keyTTL,
		FiveHour:     usagefmt.FormatWindow(summary.FiveHour),
		SevenDay:     usagefmt.FormatWindow(summary.SevenDay),
		FileState:    "ok",
	}
}

// CollectFromFile resolves an InventoryStatus for a stored account's
// credential file, reporting "missing"/"read-error" file states when the
// file can't be read, with the inverse-slug email fallback in both cases.
func (r *Renderer) CollectFromFile(ctx context.Context, path, accountID string) InventoryStatus {
	data, exists, err := atomicfile.ReadIfExists(path)
	if err != nil {
		fallback, _ := identity.EmailFromAccountID(accountID)
		if fallback == "" {
			fallback = "-"
		}
		r.emitEmailResolution(accountID, fallback, "credential_read_error")
		s := missingStatus(fallback)
		s.FileState = "read-error"
		return s
	}
	if !exists {
		fallback, _ := identity.EmailFromAccountID(accountID)
		if fallback == "" {
			fallback = "-"
		}
		r.emitEmailResolution(accountID, fallback, "credential_missing")
		return missingStatus(fallback)
	}
	return r.CollectFromData(ctx, data, accountID)
}

// currentAccountID resolves the active credential's reconciled account id,
// or "" when there is no active credential.
func (r *Renderer) currentAccountID(ctx context.Context, snap *store.Snapshot) (string, []byte) {
	if r.ActiveSync == nil {
		return "", nil
	}
	data, ok, err := r.ActiveSync.LoadCurrent(ctx)
	if err != nil || !ok {
		return "", nil
	}
	cred := credential.Parse(data)
	accounts := make([]identity.Account, 0, len(snap.Accounts))
	for _, a := range snap.Accounts {
		accounts = append(accounts, identity.Account{ID: a.ID, Service: a.Service})
	}
	reader := func(accountID string) (*credential.Credential, bool) {
		account, ok := snap.FindAccount(accountID)
		if !ok {
			return nil, false
		}
		fileData, exists, err := atomicfile.ReadIfExists(credentialPath(account.RootPath))
		if err != nil || !exists {
			return nil, false
		}
		return credential.Parse(fileData), true
	}
	return identity.Reconcile(cred, accounts, reader), data
}

func credentialPath(rootPath string) string {
	return rootPath + "/.claude/.credentials.json"
}

// ProfileInventoryLines renders the stable text layout for "cauth
// list": the current account, every profile, and every
// stored account.
func (r *Renderer) ProfileInventoryLines(ctx context.Context) ([]string, error) {
	snap, err := store.Load(r.SnapshotPath)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	profiles := append([]store.Profile(nil), snap.Profiles...)
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })

	activeAccountID, activeData := r.currentAccountID(ctx, snap)

	claudeStatus := make(map[string]InventoryStatus, len(snap.Accounts))
	for _, a := range snap.Accounts {
		if a.Service != "claude" {
			continue
		}
		claudeStatus[a.ID] = r.CollectFromFile(ctx, credentialPath(a.RootPath), a.ID)
	}

	var lines []string
	lines = append(lines, "Current Claude:")
	if activeData != nil {
		accountText := activeAccountID
		if accountText == "" {
			accountText = "-"
		}
		current := r.CollectFromData(ctx, activeData, activeAccountID)

		var linked []string
		for _, p := range profiles {
			if p.ClaudeAccountID == activeAccountID && activeAccountID != "" {
				linked = append(linked, p.Name)
			}
		}
		linkedText := "-"
		if len(linked) > 0 {
			linkedText = strings.Join(linked, ",")
		}

		lines = append(lines,
			"  account: "+accountText,
			"  profiles: "+linkedText,
			"  email: "+current.Email,
			"  plan: "+current.Plan,
			"  5h: "+current.FiveHour,
			"  7d: "+current.SevenDay,
			"  key: "+current.KeyRemaining,
		)
	} else {
		lines = append(lines, "  (none)")
	}

	lines = append(lines, "Profiles:")
	if len(profiles) == 0 {
		lines = append(lines, "  (none)")
	}
	for _, p := range profiles {
		lines = append(lines, r.profileLines(p, activeAccountID, claudeStatus, snap)...)
	}

	lines = append(lines, "Accounts:")
	accounts := append([]store.Account(nil), snap.Accounts...)
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	if len(accounts) == 0 {
		lines = append(lines, "  (none)")
	}
	for _, a := range accounts {
		lines = append(lines, r.accountLine(a, profiles, activeAccountID, claudeStatus))
	}

	return lines, nil
}

func (r *Renderer) profileLines(p store.Profile, activeAccountID string, claudeStatus map[string]InventoryStatus, snap *store.Snapshot) []string {
	currentMarker := ""
	if p.ClaudeAccountID != "" && p.ClaudeAccountID == activeAccountID {
		currentMarker = " [current]"
	}
	codex := orDash(p.CodexAccountID)
	gemini := orDash(p.GeminiAccountID)

	if p.ClaudeAccountID == "" {
		return []string{
			"  " + p.Name + currentMarker,
			"    claude: -",
			"    email: -",
			"    plan: -",
			"    5h: -- (--)",
			"    7d: -- (--)",
			"    key: --",
			"    codex: " + codex,
			"    gemini: " + gemini,
		}
	}

	account, ok := snap.FindAccount(p.ClaudeAccountID)
	status, known := claudeStatus[p.ClaudeAccountID]
	if !ok || !known {
		return []string{
			"  " + p.Name + currentMarker,
			"    claude: " + p.ClaudeAccountID,
			"    email: -",
			"    plan: -",
			"    5h: -- (--)",
			"    7d: -- (--)",
			"    key: --",
			"    codex: " + codex,
			"    gemini: " + gemini,
		}
	}
	_ = account

	return []string{
		"  " + p.Name + currentMarker,
		fmt.Sprintf("    claude: %s (%s)", p.ClaudeAccountID, status.FileState),
		"    email: " + status.Email,
		"    plan: " + status.Plan,
		"    5h: " + status.FiveHour,
		"    7d: " + status.SevenDay,
		"    key: " + status.KeyRemaining,
		"    codex: " + codex,
		"    gemini: " + gemini,
	}
}

func (r *Renderer) accountLine(a store.Account, profiles []store.Profile, activeAccountID string, claudeStatus map[string]InventoryStatus) string {
	var linked []string
	for _, p := range profiles {
		var id string
		switch a.Service {
		case "claude":
			id = p.ClaudeAccountID
		case "codex":
			id = p.CodexAccountID
		case "gemini":
			id = p.GeminiAccountID
		}
		if id == a.ID {
			linked = append(linked, p.Name)
		}
	}
	linkedText := "-"
	if len(linked) > 0 {
		linkedText = strings.Join(linked, ",")
	}

	if a.Service != "claude" {
		return fmt.Sprintf("  %s [%s]: linked=%s", a.ID, a.Service, linkedText)
	}

	status, ok := claudeStatus[a.ID]
	if !ok {
		fallback, _ := identity.EmailFromAccountID(a.ID)
		if fallback == "" {
			fallback = "-"
		}
		status = missingStatus(fallback)
	}
	marker := ""
	if a.ID == activeAccountID && activeAccountID != "" {
		marker = " [current]"
	}
	return fmt.Sprintf("  %s [claude]: linked=%s file=%s email=%s plan=%s 5h=%s 7d=%s key=%s%s",
		a.ID, linkedText, status.FileState, status.Email, status.Plan, status.FiveHour, status.SevenDay, status.KeyRemaining, marker)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

const skipped = "  (skipped: credential not found)"

// RawReport renders "cauth status"'s two-source diagnostic dump: the
// keychain entry, then the active credential file, each paired with the
// raw credential bytes and the literal usage-endpoint request/response for
// its access token. Per original_source/main.rs's status_report_lines,
// this never reads the snapshot or any stored account — only the two
// active-credential sources.
func (r *Renderer) RawReport(ctx context.Context) []string {
	var lines []string

	var keychainData []byte
	if r.ActiveSync != nil && r.ActiveSync.Keychain != nil {
		if raw, ok := r.ActiveSync.Keychain.Find(ctx, ""); ok {
			keychainData = []byte(raw)
		}
	}
	lines = append(lines, r.rawSourceLines(ctx, "osxkeychain", "service=Claude Code-credentials", keychainData)...)
	lines = append(lines, "")

	activeFilePath := ""
	var fileData []byte
	if r.ActiveSync != nil {
		activeFilePath = r.ActiveSync.ActiveFilePath
		if data, exists, err := atomicfile.ReadIfExists(activeFilePath); err == nil && exists {
			fileData = data
		}
	}
	lines = append(lines, r.rawSourceLines(ctx, "~/.claude/.credentials.json", activeFilePath, fileData)...)

	return lines
}

func (r *Renderer) rawSourceLines(ctx context.Context, name, detail string, data []byte) []string {
	lines := []string{
		"Source: " + name,
		"Credential Source Detail: " + detail,
	}

	if data == nil {
		return append(lines,
			"Raw Credential:", skipped,
			"Raw Request:", skipped,
			"Raw Response:", skipped,
		)
	}
	lines = append(lines, "Raw Credential:", renderRawCredential(data))

	cred := credential.Parse(data)
	accessToken, ok := cred.AccessToken()
	if !ok || r.RawUsage == nil {
		return append(lines,
			"Raw Request:", skipped,
			"Raw Response:", skipped,
		)
	}

	probe := r.RawUsage.Raw(ctx, accessToken)
	return append(lines, "Raw Request:", probe.RequestRaw, "Raw Response:", probe.ResponseRaw)
}

func renderRawCredential(data []byte) string {
	if !utf8.Valid(data) {
		return fmt.Sprintf("<non-utf8 credential bytes: %d>", len(data))
	}
	return string(data)
}
