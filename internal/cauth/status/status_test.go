package status

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/agent-island/cauth/internal/cauth/activesync"
	"github.com/agent-island/cauth/internal/cauth/atomicfile"
	"github.com/agent-island/cauth/internal/cauth/credential"
	"github.com/agent-island/cauth/internal/cauth/store"
	"github.com/agent-island/cauth/internal/cauth/usagefmt"
	"github.com/stretchr/testify/require"
)

type fakeKeychain struct {
	value string
	ok    bool
}

func (f *fakeKeychain) Find(ctx context.Context, account string) (string, bool) { return f.value, f.ok }
func (f *fakeKeychain) Put(ctx context.Context, data string) error {
	f.value, f.ok = data, true
	return nil
}

type fakeEventSink struct {
	events []map[string]string
}

func (f *fakeEventSink) Event(event string, fields map[string]string) {
	fields["__event"] = event
	f.events = append(f.events, fields)
}

type fakeUsage struct{}

func (fakeUsage) Summary(ctx context.Context, accessToken string) (usagefmt.Summary, bool) {
	return usagefmt.Summary{}, false
}

func writeCredFile(t *testing.T, path string, body map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	require.NoError(t, atomicfile.Write(path, data))
}

func TestResolveEmailPrefersCredential(t *testing.T) {
	cred := credential.Parse([]byte(`{"email":"user@example.com"}`))
	email, source := ResolveEmail(cred, "acct_claude_someone_example_com")
	require.Equal(t, "user@example.com", email)
	require.Equal(t, "credential", source)
}

func TestResolveEmailFallsBackToAccountID(t *testing.T) {
	cred := credential.Parse([]byte(`{}`))
	email, source := ResolveEmail(cred, "acct_claude_jdoe_example_com")
	require.Equal(t, "jdoe@example.com", email)
	require.Equal(t, "account_id_fallback", source)
}

func TestResolveEmailMissing(t *testing.T) {
	cred := credential.Parse([]byte(`{}`))
	email, source := ResolveEmail(cred, "acct_claude_deadbeefdeadbeef")
	require.Equal(t, "-", email)
	require.Equal(t, "missing", source)
}

func TestProfileInventoryLinesNoProfiles(t *testing.T) {
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "accounts.json")
	require.NoError(t, store.Save(snapPath, &store.Snapshot{}))

	r := &Renderer{SnapshotPath: snapPath}
	lines, err := r.ProfileInventoryLines(context.Background())
	require.NoError(t, err)
	require.Contains(t, lines, "Profiles:")
	require.Contains(t, lines, "Accounts:")
}

func TestProfileInventoryLinesWithActiveAndLinkedProfile(t *testing.T) {
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "accounts.json")

	accountRoot := filepath.Join(dir, "acct1")
	writeCredFile(t, credentialPath(accountRoot), map[string]interface{}{
		"claudeAiOauth": map[string]interface{}{
			"accessToken":   "at-1",
			"refreshToken":  "rt-1",
			"email":         "user@example.com",
			"rateLimitTier": "pro",
		},
	})

	snap := &store.Snapshot{
		Accounts: []store.Account{{ID: "acct_claude_user", Service: "claude", RootPath: accountRoot}},
		Profiles: []store.Profile{{Name: "work", ClaudeAccountID: "acct_claude_user"}},
	}
	require.NoError(t, store.Save(snapPath, snap))

	activeData, err := atomicfile.Read(credentialPath(accountRoot))
	require.NoError(t, err)

	kc := &fakeKeychain{value: string(activeData), ok: true}
	sink := &fakeEventSink{}
	r := &Renderer{
		SnapshotPath: snapPath,
		ActiveSync:   &activesync.Sync{Keychain: kc, ActiveFilePath: filepath.Join(dir, "active.json")},
		Usage:        fakeUsage{},
		EventLog:     sink,
	}
	require.NoError(t, atomicfile.Write(r.ActiveSync.ActiveFilePath, activeData))

	lines, err := r.ProfileInventoryLines(context.Background())
	require.NoError(t, err)

	joined := ""
	for _, l := range lines {
		joined += l + "\n"
	}
	require.Contains(t, joined, "account: acct_claude_user")
	require.Contains(t, joined, "profiles: work")
	require.Contains(t, joined, "work [current]")
	require.Contains(t, joined, "email: user@example.com")
	require.Contains(t, joined, "plan: Pro")
	require.NotEmpty(t, sink.events)
}

func TestCollectFromFileMissingReportsFallbackEmail(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeEventSink{}
	r := &Renderer{EventLog: sink}

	status := r.CollectFromFile(context.Background(), filepath.Join(dir, "nope", ".claude", ".credentials.json"), "acct_claude_jdoe_example_com")
	require.Equal(t, "missing", status.FileState)
	require.Equal(t, "jdoe@example.com", status.Email)
	require.Len(t, sink.events, 1)
	require.Equal(t, "credential_missing", sink.events[0]["email_source"])
}
