package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agent-island/cauth/internal/cauth/atomicfile"
	"github.com/agent-island/cauth/internal/cauth/cliutil"
	"github.com/agent-island/cauth/internal/cauth/credential"
	"github.com/agent-island/cauth/internal/cauth/identity"
	"github.com/agent-island/cauth/internal/cauth/store"
)

var switchCmd = &cobra.Command{
	Use:   "switch <profile-name>",
	Short: "Switch the active Claude credential to a saved profile",
	Args:  exactArgs(1, "usage: cauth switch <profile-name>"),
	RunE:  runSwitch,
}

func init() {
	rootCmd.AddCommand(switchCmd)
}

func runSwitch(cmd *cobra.Command, args []string) error {
	name := strings.TrimSpace(args[0])
	if name == "" {
		return errors.New("profile name is required")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	snap, err := store.Load(a.paths.SnapshotPath)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	profile, ok := snap.FindProfile(name)
	if !ok {
		return fmt.Errorf("profile not found: %s", name)
	}
	if profile.ClaudeAccountID == "" {
		return fmt.Errorf("profile has no Claude account: %s", name)
	}
	account, ok := snap.FindAccount(profile.ClaudeAccountID)
	if !ok || account.Service != "claude" {
		return fmt.Errorf("Claude account not found for profile: %s", name)
	}

	credPath := cliutil.AccountCredentialPath(account.RootPath)
	data, exists, err := atomicfile.ReadIfExists(credPath)
	if err != nil {
		return fmt.Errorf("read stored credentials: %w", err)
	}
	if !exists {
		return fmt.Errorf("missing stored credentials: %s", name)
	}

	keys := []string{credPath}
	if rt, ok := credential.Parse(data).RefreshToken(); ok {
		keys = append(keys, "claude-refresh-token:"+identity.Fingerprint(rt))
	}
	held, err := a.locks.Acquire(keys)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer held.Release()

	if err := a.activeSync.SyncActive(ctx, data); err != nil {
		return fmt.Errorf("switch active credentials: %w", err)
	}

	cred := credential.Parse(data)
	email, ok := cred.Email()
	if !ok {
		email = "-"
	}
	plan, ok := cred.Plan()
	if !ok {
		plan = "-"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "switched profile %s: %s %s\n", name, email, plan)
	return nil
}
