package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/agent-island/cauth/internal/cauth/atomicfile"
	"github.com/agent-island/cauth/internal/cauth/cliutil"
	"github.com/agent-island/cauth/internal/cauth/store"
)

func TestRunSwitch_WritesActiveCredentialFromProfile(t *testing.T) {
	a := newTestApp(t)
	oldApp := newApp
	newApp = func() (*app, error) { return a, nil }
	t.Cleanup(func() { newApp = oldApp })

	accountRoot := a.paths.AccountsRoot + "/acct-1"
	credData := []byte(`{"claudeAiOauth":{"accessToken":"at","refreshToken":"rt-1","email":"work@example.com","rateLimitTier":"pro"}}`)
	if err := atomicfile.Write(cliutil.AccountCredentialPath(accountRoot), credData); err != nil {
		t.Fatalf("write stored credential: %v", err)
	}

	snap, err := store.Load(a.paths.SnapshotPath)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	snap.UpsertAccount(store.Account{ID: "acct-1", Service: "claude", Label: "claude:fp", RootPath: accountRoot, UpdatedAt: time.Now().UTC()})
	snap.UpsertProfile(store.Profile{Name: "work", ClaudeAccountID: "acct-1"})
	if err := store.Save(a.paths.SnapshotPath, snap); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	var out bytes.Buffer
	switchCmd.SetOut(&out)
	t.Cleanup(func() { switchCmd.SetOut(nil) })

	if err := runSwitch(switchCmd, []string{"work"}); err != nil {
		t.Fatalf("runSwitch() error = %v", err)
	}
	if !strings.Contains(out.String(), "switched profile work") {
		t.Fatalf("runSwitch() output = %q", out.String())
	}

	active, exists, err := atomicfile.ReadIfExists(a.paths.ActiveCredential)
	if err != nil {
		t.Fatalf("read active credential: %v", err)
	}
	if !exists {
		t.Fatal("active credential file was not written")
	}
	if string(active) != string(credData) {
		t.Fatalf("active credential = %q, want %q", active, credData)
	}
}

func TestRunSwitch_UnknownProfile(t *testing.T) {
	a := newTestApp(t)
	oldApp := newApp
	newApp = func() (*app, error) { return a, nil }
	t.Cleanup(func() { newApp = oldApp })

	err := runSwitch(switchCmd, []string{"ghost"})
	if err == nil {
		t.Fatal("runSwitch(\"ghost\") error = nil, want an error")
	}
	if IsUsageError(err) {
		t.Fatalf("runSwitch(\"ghost\") error %v classified as usage error, want plain error", err)
	}
}
