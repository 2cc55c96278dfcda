package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/agent-island/cauth/internal/cauth/atomicfile"
	"github.com/agent-island/cauth/internal/cauth/cliutil"
	"github.com/agent-island/cauth/internal/cauth/credential"
	"github.com/agent-island/cauth/internal/cauth/identity"
	"github.com/agent-island/cauth/internal/cauth/store"
)

var saveCmd = &cobra.Command{
	Use:   "save <profile-name>",
	Short: "Save the current active Claude credential as a named profile",
	Args:  exactArgs(1, "usage: cauth save <profile-name>"),
	RunE:  runSave,
}

func init() {
	rootCmd.AddCommand(saveCmd)
}

func runSave(cmd *cobra.Command, args []string) error {
	name := strings.TrimSpace(args[0])
	if name == "" {
		return errors.New("profile name is required")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	data, ok, err := a.activeSync.LoadCurrent(ctx)
	if err != nil {
		return fmt.Errorf("load current credentials: %w", err)
	}
	if !ok {
		return errors.New("current Claude credentials not found in ~/.claude/.credentials.json or keychain")
	}

	snap, err := store.Load(a.paths.SnapshotPath)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	cred := credential.Parse(data)
	accountID := identity.Reconcile(cred, claudeIdentityAccounts(snap), storedCredentialReader(snap))

	accountRoot := filepath.Join(a.paths.AccountsRoot, accountID)
	if err := atomicfile.Write(cliutil.AccountCredentialPath(accountRoot), data); err != nil {
		return fmt.Errorf("write stored credentials: %w", err)
	}
	copyPassthroughs(a, accountRoot)

	snap.UpsertAccount(store.Account{
		ID:        accountID,
		Service:   "claude",
		Label:     accountLabel(snap, accountID, cred),
		RootPath:  accountRoot,
		UpdatedAt: time.Now().UTC(),
	})

	existing, _ := snap.FindProfile(name)
	snap.UpsertProfile(store.Profile{
		Name:            name,
		ClaudeAccountID: accountID,
		CodexAccountID:  existing.CodexAccountID,
		GeminiAccountID: existing.GeminiAccountID,
	})

	if err := store.Save(a.paths.SnapshotPath, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	email, ok := cred.Email()
	if !ok {
		email = "-"
	}
	plan, ok := cred.Plan()
	if !ok {
		plan = "-"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved profile %s: %s %s -> %s\n", name, email, plan, accountID)
	return nil
}

// accountLabel returns the existing account's label unchanged (so repeated
// saves of the same account don't churn its display label), or for a
// newly-discovered account builds one from the credential's content hash
// plus a short random disambiguator, so that two Claude accounts that
// happen to reconcile to colliding fingerprints still read distinctly in
// `cauth list`/`cauth status` output.
func accountLabel(snap *store.Snapshot, accountID string, cred *credential.Credential) string {
	if existing, ok := snap.FindAccount(accountID); ok && existing.Label != "" {
		return existing.Label
	}
	suffix := uuid.NewString()[:8]
	return "claude:" + identity.Fingerprint(cred.RefreshTokenOrDash()) + "-" + suffix
}

// claudeIdentityAccounts adapts a snapshot's accounts to identity.Account,
// the minimal shape Reconcile needs.
func claudeIdentityAccounts(snap *store.Snapshot) []identity.Account {
	accounts := make([]identity.Account, 0, len(snap.Accounts))
	for _, a := range snap.Accounts {
		accounts = append(accounts, identity.Account{ID: a.ID, Service: a.Service})
	}
	return accounts
}

// storedCredentialReader reads an existing account's stored credential
// file, the identity.CredentialReader Reconcile's metadata scoring needs.
func storedCredentialReader(snap *store.Snapshot) identity.CredentialReader {
	return func(accountID string) (*credential.Credential, bool) {
		account, ok := snap.FindAccount(accountID)
		if !ok {
			return nil, false
		}
		data, exists, err := atomicfile.ReadIfExists(cliutil.AccountCredentialPath(account.RootPath))
		if err != nil || !exists {
			return nil, false
		}
		return credential.Parse(data), true
	}
}

// copyPassthroughs copies every configured dotfile from home into the new
// account root alongside the credential file, per appconfig.Config's
// Passthroughs field. Missing files are skipped silently.
func copyPassthroughs(a *app, accountRoot string) {
	for _, rel := range a.cfg.Passthroughs {
		data, exists, err := atomicfile.ReadIfExists(filepath.Join(a.paths.Home, rel))
		if err != nil || !exists {
			continue
		}
		_ = atomicfile.Write(filepath.Join(accountRoot, rel), data)
	}
}
