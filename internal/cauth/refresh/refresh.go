// Package refresh implements the refresh orchestrator: the walk over every
// profile's linked Claude account that re-reads each stored credential
// under an exclusive lock, exchanges its refresh token, and writes the
// result back — deduplicating by refresh-token fingerprint within a run so
// accounts that share a token are refreshed only once.
package refresh

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agent-island/cauth/internal/cauth/activesync"
	"github.com/agent-island/cauth/internal/cauth/atomicfile"
	"github.com/agent-island/cauth/internal/cauth/credential"
	"github.com/agent-island/cauth/internal/cauth/identity"
	"github.com/agent-island/cauth/internal/cauth/lockmgr"
	"github.com/agent-island/cauth/internal/cauth/oauthclient"
	"github.com/agent-island/cauth/internal/cauth/store"
	"github.com/agent-island/cauth/internal/cauth/traceid"
	"github.com/agent-island/cauth/internal/cauth/usagefmt"
)

// needsLoginMarkers are the lowercased substrings that demote a refresh
// failure to "needs login" rather than a generic error, per spec.md §4.J.
var needsLoginMarkers = []string{
	"invalid_grant",
	"refresh token not found or invalid",
	"oauth token has been revoked",
}

// UsageProvider fetches the current usage summary for an access token. It
// is an out-of-scope external collaborator per spec.md §4.L; Orchestrator
// degrades gracefully to "--" fields when Usage is nil or a given call
// reports ok=false.
type UsageProvider interface {
	Summary(ctx context.Context, accessToken string) (usagefmt.Summary, bool)
}

// Orchestrator composes every component refresh_all needs.
type Orchestrator struct {
	SnapshotPath string
	Locks        *lockmgr.Manager
	OAuth        *oauthclient.Client
	ActiveSync   *activesync.Sync
	EventLog     lockmgr.EventSink
	Usage        UsageProvider
	Out          io.Writer
	DefaultScope string
}

// claudeCredentialPath is the file a Claude account's credential lives at,
// per spec.md §3: <root_path>/.claude/.credentials.json.
func claudeCredentialPath(rootPath string) string {
	return filepath.Join(rootPath, ".claude", ".credentials.json")
}

type outcome struct {
	success  bool
	needsLog bool // true => RefreshFailureKind NeedsLogin
	message  string
	data     []byte // refreshed credential bytes, on success
}

// RunAll implements refresh_all() per spec.md §4.J.
func (o *Orchestrator) RunAll(ctx context.Context) error {
	snap, err := store.Load(o.SnapshotPath)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	profiles := append([]store.Profile(nil), snap.Profiles...)
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })

	if len(profiles) == 0 {
		fmt.Fprintln(o.out(), "no profiles")
		return nil
	}

	o.healActiveDrift(ctx, snap)

	byAccountID := make(map[string]outcome)
	byLockID := make(map[string]outcome)
	traceByAccountID := make(map[string]string)
	touched := make(map[string]bool)

	activeAccountID := o.activeAccountID(ctx, snap)

	for _, profile := range profiles {
		accountID := profile.ClaudeAccountID
		if accountID == "" {
			continue
		}
		account, ok := snap.FindAccount(accountID)
		if !ok || account.Service != "claude" {
			continue
		}
		if _, done := byAccountID[accountID]; done {
			continue
		}

		traceID := traceid.New()
		traceByAccountID[accountID] = traceID

		byAccountID[accountID] = o.refreshOneAccount(ctx, account, activeAccountID, traceID, byLockID, touched)
	}

	for id := range touched {
		if a, ok := snap.FindAccount(id); ok {
			a.UpdatedAt = time.Now().UTC()
			snap.UpsertAccount(a)
		}
	}
	if err := store.Save(o.SnapshotPath, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	return o.printResults(ctx, profiles, byAccountID, traceByAccountID)
}

// RefreshAccount implements the account-scoped refresh `cauth check-usage
// --account <id>` performs per spec.md §8 scenario 6: it re-reads, refreshes,
// and rewrites that one Claude account's stored credential under its lock,
// but never touches the active credential file or keychain regardless of
// whether the account happens to be the currently active one.
func (o *Orchestrator) RefreshAccount(ctx context.Context, accountID string) ([]byte, error) {
	snap, err := store.Load(o.SnapshotPath)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	account, ok := snap.FindAccount(accountID)
	if !ok || account.Service != "claude" {
		return nil, fmt.Errorf("unknown claude account: %s", accountID)
	}

	touched := make(map[string]bool)
	byLockID := make(map[string]outcome)
	traceID := traceid.New()

	result := o.refreshOneAccount(ctx, account, "", traceID, byLockID, touched)
	if !result.success {
		return nil, fmt.Errorf("%s", result.message)
	}

	if touched[account.ID] {
		if a, ok := snap.FindAccount(account.ID); ok {
			a.UpdatedAt = time.Now().UTC()
			snap.UpsertAccount(a)
		}
		if err := store.Save(o.SnapshotPath, snap); err != nil {
			return nil, fmt.Errorf("save snapshot: %w", err)
		}
	}

	return result.data, nil
}

func (o *Orchestrator) out() io.Writer {
	if o.Out != nil {
		return o.Out
	}
	return io.Discard
}

func (o *Orchestrator) scope() string {
	if o.DefaultScope != "" {
		return o.DefaultScope
	}
	return credential.DefaultScope
}

// healActiveDrift implements spec.md §4.J step 2: if the active credential
// resolves to a known Claude account whose stored file differs from the
// active bytes, overwrite the stored file and bump its updated_at.
func (o *Orchestrator) healActiveDrift(ctx context.Context, snap *store.Snapshot) {
	if o.ActiveSync == nil {
		return
	}
	activeData, ok, err := o.ActiveSync.LoadCurrent(ctx)
	if err != nil || !ok {
		return
	}

	cred := credential.Parse(activeData)
	accountID := identity.Reconcile(cred, claudeIdentityAccounts(snap), o.credentialReader(snap))

	account, found := snap.FindAccount(accountID)
	if !found {
		return
	}

	path := claudeCredentialPath(account.RootPath)
	stored, exists, err := atomicfile.ReadIfExists(path)
	if err != nil {
		return
	}
	if exists && string(stored) == string(activeData) {
		return
	}
	if err := atomicfile.Write(path, activeData); err != nil {
		return
	}
	account.UpdatedAt = time.Now().UTC()
	snap.UpsertAccount(account)
}

func (o *Orchestrator) activeAccountID(ctx context.Context, snap *store.Snapshot) string {
	if o.ActiveSync == nil {
		return ""
	}
	activeData, ok, err := o.ActiveSync.LoadCurrent(ctx)
	if err != nil || !ok {
		return ""
	}
	cred := credential.Parse(activeData)
	return identity.Reconcile(cred, claudeIdentityAccounts(snap), o.credentialReader(snap))
}

func (o *Orchestrator) credentialReader(snap *store.Snapshot) identity.CredentialReader {
	return func(accountID string) (*credential.Credential, bool) {
		account, ok := snap.FindAccount(accountID)
		if !ok {
			return nil, false
		}
		data, exists, err := atomicfile.ReadIfExists(claudeCredentialPath(account.RootPath))
		if err != nil || !exists {
			return nil, false
		}
		return credential.Parse(data), true
	}
}

func claudeIdentityAccounts(snap *store.Snapshot) []identity.Account {
	accounts := make([]identity.Account, 0, len(snap.Accounts))
	for _, a := range snap.Accounts {
		accounts = append(accounts, identity.Account{ID: a.ID, Service: a.Service})
	}
	return accounts
}

func (o *Orchestrator) refreshOneAccount(
	ctx context.Context,
	account store.Account,
	activeAccountID, traceID string,
	byLockID map[string]outcome,
	touched map[string]bool,
) outcome {
	credPath := claudeCredentialPath(account.RootPath)
	currentData, exists, err := atomicfile.ReadIfExists(credPath)
	if err != nil || !exists {
		return outcome{needsLog: false, message: fmt.Sprintf("missing stored credentials: %s", credPath)}
	}

	preCred := credential.Parse(currentData)
	lockID := o.lockID(preCred, account.ID)
	lockKeys := o.lockKeys(preCred, account.ID, credPath)

	preRefreshFP, preAccessFP := fingerprints(preCred)

	o.event("cauth_refresh_start", map[string]string{
		"trace_id":        traceID,
		"account_id":      account.ID,
		"lock_id":         lockID,
		"lock_keys":       strings.Join(lockKeys, ","),
		"credential_path": credPath,
		"pre_refresh_fp":  preRefreshFP,
		"pre_access_fp":   preAccessFP,
	})

	if prior, ok := byLockID[lockID]; ok {
		result := o.applyReused(account, activeAccountID, prior, touched)
		decision := reusedDecision(result)
		o.event("cauth_refresh_result", map[string]string{
			"trace_id":       traceID,
			"account_id":     account.ID,
			"lock_id":        lockID,
			"decision":       decision,
			"pre_refresh_fp": preRefreshFP,
			"pre_access_fp":  preAccessFP,
		})
		return result
	}

	locks, err := o.Locks.Acquire(lockKeys)
	if err != nil {
		result := outcome{needsLog: false, message: err.Error()}
		byLockID[lockID] = result
		return result
	}
	defer locks.Release()

	latestData, exists, err := atomicfile.ReadIfExists(credPath)
	if err != nil || !exists {
		result := outcome{needsLog: false, message: fmt.Sprintf("failed to re-read %s", credPath)}
		byLockID[lockID] = result
		return result
	}

	result := o.exchangeAndWrite(ctx, account, activeAccountID, latestData, touched)
	byLockID[lockID] = result

	decision := "success"
	if !result.success {
		if result.needsLog {
			decision = "needs_login"
		} else {
			decision = "error"
		}
	}
	fields := map[string]string{
		"trace_id":       traceID,
		"account_id":     account.ID,
		"lock_id":        lockID,
		"decision":       decision,
		"pre_refresh_fp": preRefreshFP,
		"pre_access_fp":  preAccessFP,
	}
	if result.success {
		refreshed := credential.Parse(result.data)
		if rt, ok := refreshed.RefreshToken(); ok {
			fields["post_refresh_fp"] = identity.Fingerprint(rt)
		}
		if at, ok := refreshed.AccessToken(); ok {
			fields["post_access_fp"] = identity.Fingerprint(at)
		}
	} else {
		fields["error"] = result.message
	}
	o.event("cauth_refresh_result", fields)

	return result
}

func (o *Orchestrator) applyReused(account store.Account, activeAccountID string, prior outcome, touched map[string]bool) outcome {
	if !prior.success {
		return prior
	}
	if err := o.writeRefreshed(account, activeAccountID, prior.data); err != nil {
		return outcome{needsLog: false, message: err.Error()}
	}
	touched[account.ID] = true
	return prior
}

func reusedDecision(result outcome) string {
	if result.success {
		return "reused_success"
	}
	if result.needsLog {
		return "reused_needs_login"
	}
	return "reused_error"
}

func (o *Orchestrator) exchangeAndWrite(ctx context.Context, account store.Account, activeAccountID string, data []byte, touched map[string]bool) outcome {
	cred := credential.Parse(data)
	refreshToken, ok := cred.RefreshToken()
	if !ok {
		return classifyFailure("missing refresh token in stored credentials")
	}

	scope := strings.Join(cred.Scopes(), " ")
	if scope == "" {
		scope = o.scope()
	}

	resp, err := o.OAuth.Refresh(ctx, refreshToken, scope)
	if err != nil {
		return classifyFailure(err.Error())
	}

	refreshedData := cred.ApplyRefresh(resp.AccessToken, resp.RefreshToken, float64(resp.ExpiresIn), resp.Scope)

	if err := o.writeRefreshed(account, activeAccountID, refreshedData); err != nil {
		return classifyFailure(err.Error())
	}
	touched[account.ID] = true

	return outcome{success: true, data: refreshedData}
}

func (o *Orchestrator) writeRefreshed(account store.Account, activeAccountID string, data []byte) error {
	path := claudeCredentialPath(account.RootPath)
	if err := atomicfile.Write(path, data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if o.ActiveSync != nil && activeAccountID != "" && activeAccountID == account.ID {
		if err := o.ActiveSync.SyncActive(context.Background(), data); err != nil {
			return fmt.Errorf("sync active: %w", err)
		}
	}
	return nil
}

func fingerprints(cred *credential.Credential) (refreshFP, accessFP string) {
	if rt, ok := cred.RefreshToken(); ok {
		refreshFP = identity.Fingerprint(rt)
	}
	if at, ok := cred.AccessToken(); ok {
		accessFP = identity.Fingerprint(at)
	}
	return
}

func classifyFailure(message string) outcome {
	lowered := strings.ToLower(message)
	for _, marker := range needsLoginMarkers {
		if strings.Contains(lowered, marker) {
			return outcome{needsLog: true, message: message}
		}
	}
	return outcome{needsLog: false, message: message}
}

func (o *Orchestrator) lockID(cred *credential.Credential, fallback string) string {
	if rt, ok := cred.RefreshToken(); ok {
		return identity.Fingerprint(rt)
	}
	return fallback
}

func (o *Orchestrator) lockKeys(cred *credential.Credential, accountID, credentialPath string) []string {
	var keys []string
	if credentialPath != "" {
		keys = append(keys, credentialPath)
	} else {
		keys = append(keys, "account:"+accountID)
	}
	if rt, ok := cred.RefreshToken(); ok {
		keys = append(keys, "claude-refresh-token:"+identity.Fingerprint(rt))
	}
	return keys
}

func (o *Orchestrator) event(event string, fields map[string]string) {
	if o.EventLog == nil {
		return
	}
	o.EventLog.Event(event, fields)
}

const truncateLimit = 180

func (o *Orchestrator) printResults(ctx context.Context, profiles []store.Profile, byAccountID map[string]outcome, traceByAccountID map[string]string) error {
	var failedNames []string
	var needsLoginNames []string

	for _, profile := range profiles {
		accountID := profile.ClaudeAccountID
		if accountID == "" {
			fmt.Fprintf(o.out(), "%s: - - 5h -- 7d -- (key) --\n", profile.Name)
			continue
		}
		result, ok := byAccountID[accountID]
		if !ok {
			fmt.Fprintf(o.out(), "%s: - - 5h -- 7d -- (key) --\n", profile.Name)
			continue
		}

		traceSuffix := ""
		if trace, ok := traceByAccountID[accountID]; ok {
			traceSuffix = fmt.Sprintf(" [trace:%s]", trace)
		}

		if result.success {
			o.printSuccess(ctx, profile.Name, result.data, traceSuffix)
			continue
		}

		label := "error"
		if result.needsLog {
			label = "needs-login"
		}
		fmt.Fprintf(o.out(), "%s: - - 5h -- 7d -- (key) -- [%s] %s%s\n", profile.Name, label, truncate(result.message, truncateLimit), traceSuffix)
		failedNames = append(failedNames, profile.Name)
		if result.needsLog {
			needsLoginNames = append(needsLoginNames, profile.Name)
		}
	}

	if len(failedNames) == 0 {
		return nil
	}
	if len(failedNames) == len(needsLoginNames) {
		return fmt.Errorf("%d profile(s) need login: %s", len(failedNames), strings.Join(needsLoginNames, ","))
	}
	return fmt.Errorf("%d profile(s) failed (%d need login): %s", len(failedNames), len(needsLoginNames), strings.Join(failedNames, ","))
}

func (o *Orchestrator) printSuccess(ctx context.Context, name string, data []byte, traceSuffix string) {
	cred := credential.Parse(data)
	email, ok := cred.Email()
	if !ok {
		email = "-"
	}
	plan, ok := cred.Plan()
	if !ok {
		plan = "-"
	}

	var summary usagefmt.Summary
	if o.Usage != nil {
		if token, ok := cred.AccessToken(); ok {
			if s, ok := o.Usage.Summary(ctx, token); ok {
				summary = s
			}
		}
	}

	keyTTL := "--"
	if expiresAt, ok := cred.ExpiresAt(); ok {
		keyTTL = usagefmt.FormatRemaining(expiresAt)
	}

	fmt.Fprintf(o.out(), "%s: %s %s 5h %s 7d %s (key) %s%s\n",
		name, email, plan,
		usagefmt.FormatWindow(summary.FiveHour),
		usagefmt.FormatWindow(summary.SevenDay),
		keyTTL, traceSuffix)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
