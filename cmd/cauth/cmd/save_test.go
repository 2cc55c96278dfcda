package cmd

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/agent-island/cauth/internal/cauth/atomicfile"
	"github.com/agent-island/cauth/internal/cauth/store"
)

func TestRunSave_CreatesProfileFromActiveCredential(t *testing.T) {
	a := newTestApp(t)
	oldApp := newApp
	newApp = func() (*app, error) { return a, nil }
	t.Cleanup(func() { newApp = oldApp })

	active := []byte(`{"claudeAiOauth":{"accessToken":"at","refreshToken":"rt-1","email":"work@example.com","rateLimitTier":"pro"}}`)
	if err := os.MkdirAll(a.paths.Home+"/.claude", 0700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := atomicfile.Write(a.paths.ActiveCredential, active); err != nil {
		t.Fatalf("write active credential: %v", err)
	}

	var out bytes.Buffer
	saveCmd.SetOut(&out)
	t.Cleanup(func() { saveCmd.SetOut(nil) })

	if err := runSave(saveCmd, []string{"work"}); err != nil {
		t.Fatalf("runSave() error = %v", err)
	}
	if !strings.Contains(out.String(), "saved profile work") {
		t.Fatalf("runSave() output = %q", out.String())
	}

	snap, err := store.Load(a.paths.SnapshotPath)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	profile, ok := snap.FindProfile("work")
	if !ok {
		t.Fatal("profile \"work\" not found in snapshot after save")
	}
	if profile.ClaudeAccountID == "" {
		t.Fatal("saved profile has no Claude account id")
	}
	account, ok := snap.FindAccount(profile.ClaudeAccountID)
	if !ok {
		t.Fatalf("account %s not found in snapshot", profile.ClaudeAccountID)
	}
	if account.RootPath == "" {
		t.Fatal("saved account has empty root path")
	}
}

func TestRunSave_RejectsBlankName(t *testing.T) {
	if err := runSave(saveCmd, []string{"  "}); err == nil {
		t.Fatal("runSave(\"  \") error = nil, want an error")
	} else if IsUsageError(err) {
		t.Fatalf("runSave(\"  \") error %v classified as a usage error, want a plain error", err)
	}
}
