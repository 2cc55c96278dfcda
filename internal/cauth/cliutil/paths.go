// Package cliutil resolves the filesystem locations cmd/cauth/cmd's
// subcommands share — the snapshot, the locks directory, the refresh audit
// log, and the active/stored credential paths spec.md §6's filesystem
// layout names — rooted at $HOME and overridable by appconfig.Config's
// AccountsRoot.
package cliutil

import (
	"os"
	"path/filepath"

	"github.com/agent-island/cauth/internal/cauth/appconfig"
)

// Paths bundles every well-known location cauth's CLI layer reads or
// writes, resolved once per invocation from $HOME and the loaded config.
type Paths struct {
	Home             string
	ActiveCredential string
	AgentIslandRoot  string
	SnapshotPath     string
	AccountsRoot     string
	LocksDir         string
	RefreshLogPath   string
}

// Resolve derives Paths from home and cfg. AccountsRoot defaults to
// <home>/.agent-island/accounts when cfg.AccountsRoot is unset.
func Resolve(home string, cfg *appconfig.Config) Paths {
	root := filepath.Join(home, ".agent-island")

	accountsRoot := cfg.AccountsRoot
	if accountsRoot == "" {
		accountsRoot = filepath.Join(root, "accounts")
	}

	return Paths{
		Home:             home,
		ActiveCredential: filepath.Join(home, ".claude", ".credentials.json"),
		AgentIslandRoot:  root,
		SnapshotPath:     filepath.Join(root, "accounts.json"),
		AccountsRoot:     accountsRoot,
		LocksDir:         filepath.Join(root, "locks"),
		RefreshLogPath:   filepath.Join(root, "logs", "usage-refresh.log"),
	}
}

// AccountCredentialPath returns the stored Claude credential file path for
// an account rooted at accountRoot, per spec.md §3: <root>/.claude/.credentials.json.
func AccountCredentialPath(accountRoot string) string {
	return filepath.Join(accountRoot, ".claude", ".credentials.json")
}

// HomeDir resolves $HOME, falling back to "." when unset, matching
// original_source/main.rs's default_home_dir.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	return "."
}
