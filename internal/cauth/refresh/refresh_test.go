package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agent-island/cauth/internal/cauth/atomicfile"
	"github.com/agent-island/cauth/internal/cauth/lockmgr"
	"github.com/agent-island/cauth/internal/cauth/oauthclient"
	"github.com/agent-island/cauth/internal/cauth/store"
	"github.com/stretchr/testify/require"
)

func writeAccountCredential(t *testing.T, accountRoot string, body map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	require.NoError(t, atomicfile.Write(claudeCredentialPath(accountRoot), data))
}

func newOrchestrator(t *testing.T, tokenServerURL string) (*Orchestrator, string) {
	t.Helper()
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "accounts.json")
	locks := lockmgr.New(filepath.Join(dir, "locks"), nil)
	client := oauthclient.New(tokenServerURL, "client-id")
	var out bytes.Buffer
	return &Orchestrator{
		SnapshotPath: snapPath,
		Locks:        locks,
		OAuth:        client,
		Out:          &out,
	}, dir
}

func tokenServer(t *testing.T, onRequest func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(onRequest))
}

func TestRunAllNoProfilesPrintsMessage(t *testing.T) {
	o, dir := newOrchestrator(t, "http://unused")
	require.NoError(t, store.Save(o.SnapshotPath, &store.Snapshot{Accounts: []store.Account{}, Profiles: []store.Profile{}}))
	_ = dir

	err := o.RunAll(context.Background())
	require.NoError(t, err)
	require.Contains(t, o.Out.(*bytes.Buffer).String(), "no profiles")
}

func TestRunAllRefreshesAndPrintsSuccessLine(t *testing.T) {
	var calls int32
	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "new-at",
			"expires_in":   28800,
		})
	})
	defer srv.Close()

	o, dir := newOrchestrator(t, srv.URL)
	accountRoot := filepath.Join(dir, "acct1")
	writeAccountCredential(t, accountRoot, map[string]interface{}{
		"claudeAiOauth": map[string]interface{}{
			"accessToken":   "old-at",
			"refreshToken":  "rt-1",
			"email":         "user@example.com",
			"rateLimitTier": "pro",
		},
	})

	snap := &store.Snapshot{
		Accounts: []store.Account{{ID: "acct_claude_user", Service: "claude", RootPath: accountRoot, UpdatedAt: time.Now()}},
		Profiles: []store.Profile{{Name: "work", ClaudeAccountID: "acct_claude_user"}},
	}
	require.NoError(t, store.Save(o.SnapshotPath, snap))

	err := o.RunAll(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, calls)

	output := o.Out.(*bytes.Buffer).String()
	require.Contains(t, output, "work: user@example.com Pro 5h -- (--) 7d -- (--) (key)")

	updated, err := store.Load(o.SnapshotPath)
	require.NoError(t, err)
	acct, ok := updated.FindAccount("acct_claude_user")
	require.True(t, ok)
	require.True(t, acct.UpdatedAt.After(snap.Accounts[0].UpdatedAt) || acct.UpdatedAt.Equal(snap.Accounts[0].UpdatedAt))

	stored, err := atomicfile.Read(claudeCredentialPath(accountRoot))
	require.NoError(t, err)
	require.Contains(t, string(stored), "new-at")
}

func TestRunAllDedupesSharedRefreshToken(t *testing.T) {
	var calls int32
	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "shared-new-at",
			"expires_in":   3600,
		})
	})
	defer srv.Close()

	o, dir := newOrchestrator(t, srv.URL)

	rootA := filepath.Join(dir, "acctA")
	rootB := filepath.Join(dir, "acctB")
	cred := map[string]interface{}{
		"claudeAiOauth": map[string]interface{}{
			"accessToken":  "old-at",
			"refreshToken": "shared-rt",
		},
	}
	writeAccountCredential(t, rootA, cred)
	writeAccountCredential(t, rootB, cred)

	snap := &store.Snapshot{
		Accounts: []store.Account{
			{ID: "acct_a", Service: "claude", RootPath: rootA},
			{ID: "acct_b", Service: "claude", RootPath: rootB},
		},
		Profiles: []store.Profile{
			{Name: "alpha", ClaudeAccountID: "acct_a"},
			{Name: "beta", ClaudeAccountID: "acct_b"},
		},
	}
	require.NoError(t, store.Save(o.SnapshotPath, snap))

	err := o.RunAll(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, calls, "shared refresh token should only hit the OAuth endpoint once")

	for _, root := range []string{rootA, rootB} {
		data, err := atomicfile.Read(claudeCredentialPath(root))
		require.NoError(t, err)
		require.Contains(t, string(data), "shared-new-at")
	}
}

func TestRunAllMissingCredentialFileFails(t *testing.T) {
	o, dir := newOrchestrator(t, "http://unused")
	snap := &store.Snapshot{
		Accounts: []store.Account{{ID: "acct_missing", Service: "claude", RootPath: filepath.Join(dir, "nope")}},
		Profiles: []store.Profile{{Name: "ghost", ClaudeAccountID: "acct_missing"}},
	}
	require.NoError(t, store.Save(o.SnapshotPath, snap))

	err := o.RunAll(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "1 profile(s) failed")
	require.Contains(t, o.Out.(*bytes.Buffer).String(), "[error]")
}

func TestRunAllClassifiesNeedsLogin(t *testing.T) {
	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	})
	defer srv.Close()

	o, dir := newOrchestrator(t, srv.URL)
	root := filepath.Join(dir, "acct1")
	writeAccountCredential(t, root, map[string]interface{}{
		"claudeAiOauth": map[string]interface{}{
			"accessToken":  "old-at",
			"refreshToken": "rt-expired",
		},
	})
	snap := &store.Snapshot{
		Accounts: []store.Account{{ID: "acct1", Service: "claude", RootPath: root}},
		Profiles: []store.Profile{{Name: "stale", ClaudeAccountID: "acct1"}},
	}
	require.NoError(t, store.Save(o.SnapshotPath, snap))

	err := o.RunAll(context.Background())
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "profile(s) need login"))
	require.Contains(t, o.Out.(*bytes.Buffer).String(), "[needs-login]")
}
