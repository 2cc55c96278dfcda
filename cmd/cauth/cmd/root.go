// Package cmd implements the CLI commands for cauth.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agent-island/cauth/internal/cauth/activesync"
	"github.com/agent-island/cauth/internal/cauth/appconfig"
	"github.com/agent-island/cauth/internal/cauth/atomicfile"
	"github.com/agent-island/cauth/internal/cauth/cliutil"
	"github.com/agent-island/cauth/internal/cauth/credential"
	"github.com/agent-island/cauth/internal/cauth/identity"
	"github.com/agent-island/cauth/internal/cauth/keychain"
	"github.com/agent-island/cauth/internal/cauth/lockmgr"
	"github.com/agent-island/cauth/internal/cauth/oauthclient"
	"github.com/agent-island/cauth/internal/cauth/refresh"
	"github.com/agent-island/cauth/internal/cauth/refreshlog"
	"github.com/agent-island/cauth/internal/cauth/status"
	"github.com/agent-island/cauth/internal/cauth/store"
	"github.com/agent-island/cauth/internal/cauth/usage"
	"github.com/agent-island/cauth/internal/cauth/version"
)

// defaultSecurityBin fills in appconfig's intentionally-empty SecurityBin
// default: the keychain binary name. An empty AccountsRoot is resolved by
// cliutil.Resolve instead.
const defaultSecurityBin = "security"

// app bundles every collaborator a subcommand's RunE needs, wired once per
// invocation from the loaded config and resolved paths.
type app struct {
	cfg          *appconfig.Config
	paths        cliutil.Paths
	keychain     *keychain.Adapter
	activeSync   *activesync.Sync
	locks        *lockmgr.Manager
	oauth        *oauthclient.Client
	log          *refreshlog.Writer
	orchestrator *refresh.Orchestrator
	renderer     *status.Renderer
	claudeUsage  *usage.ClaudeClient
	codexUsage   *usage.CodexClient
	geminiUsage  *usage.GeminiClient
	zaiUsage     *usage.ZaiClient
}

// newApp builds the production app. Tests override this package-level
// variable wholesale with a fake, the way cmd/caam/cmd/activate_test.go
// swaps out its package-level vault variable.
var newApp = func() (*app, error) {
	cfg, err := appconfig.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return buildApp(cliutil.HomeDir(), cfg), nil
}

func buildApp(home string, cfg *appconfig.Config) *app {
	if cfg.SecurityBin == "" {
		cfg.SecurityBin = defaultSecurityBin
	}

	paths := cliutil.Resolve(home, cfg)

	kc := keychain.New(cfg.SecurityBin, "Claude Code-credentials")
	log := refreshlog.New(paths.RefreshLogPath)
	locks := lockmgr.New(paths.LocksDir, log).WithIntegrityStamp(cfg.LockIntegrityPassphrase)
	oauth := oauthclient.New(cfg.TokenURL, cfg.ClientID)
	claudeUsage := usage.NewClaudeClient(cfg.UsageURL)

	as := &activesync.Sync{
		Keychain:       kc,
		ActiveFilePath: paths.ActiveCredential,
		FindStored:     findStoredByRefreshToken(paths),
	}

	return &app{
		cfg:        cfg,
		paths:      paths,
		keychain:   kc,
		activeSync: as,
		locks:      locks,
		oauth:      oauth,
		log:        log,
		orchestrator: &refresh.Orchestrator{
			SnapshotPath: paths.SnapshotPath,
			Locks:        locks,
			OAuth:        oauth,
			ActiveSync:   as,
			EventLog:     log,
			Usage:        claudeUsage,
			Out:          os.Stdout,
		},
		renderer: &status.Renderer{
			SnapshotPath: paths.SnapshotPath,
			ActiveSync:   as,
			Usage:        claudeUsage,
			RawUsage:     claudeUsage,
			EventLog:     log,
		},
		claudeUsage: claudeUsage,
		codexUsage:  usage.NewCodexClient(home),
		geminiUsage: usage.NewGeminiClient(home),
		zaiUsage:    usage.NewZaiClient(),
	}
}

// findStoredByRefreshToken scans the snapshot's Claude accounts for one
// whose stored credential's refresh token fingerprint matches, the
// StoredCredentialFinder activesync.Sync.LoadCurrent falls back to.
func findStoredByRefreshToken(paths cliutil.Paths) activesync.StoredCredentialFinder {
	return func(refreshToken string) ([]byte, bool) {
		snap, err := store.Load(paths.SnapshotPath)
		if err != nil {
			return nil, false
		}
		target := identity.Fingerprint(refreshToken)
		for _, account := range snap.ClaudeAccounts() {
			data, exists, err := atomicfile.ReadIfExists(cliutil.AccountCredentialPath(account.RootPath))
			if err != nil || !exists {
				continue
			}
			rt, ok := credential.Parse(data).RefreshToken()
			if ok && identity.Fingerprint(rt) == target {
				return data, true
			}
		}
		return nil, false
	}
}

var rootCmd = &cobra.Command{
	Use:           "cauth",
	Short:         "Manage OAuth credential profiles for AI coding assistants",
	Long:          "cauth saves and switches Claude OAuth credential profiles, refreshing their\naccess tokens on demand, with read-only usage status for Codex, Gemini, and z.ai.",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return newUsageError(fmt.Sprintf("unknown command: %s", args[0]))
		}
		return nil
	},
	RunE: runList,
}

func init() {
	rootCmd.Flags().Bool("version", false, "print the cauth version and exit")
	rootCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
			os.Exit(0)
		}
		return nil
	}
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return newUsageError(err.Error())
	})
}

// Execute runs the root command and returns its error; main.go's run maps
// it to the 0/1/2 exit-code contract.
func Execute() error {
	return rootCmd.Execute()
}

// RootCmd exposes the root command for main.go's exit-code classification.
func RootCmd() *cobra.Command {
	return rootCmd
}

// usageError marks a CLI usage mistake (wrong argument count, unknown flag,
// unknown command): main.go maps it to exit code 2, every other error to 1,
// per spec.md §7.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func newUsageError(msg string) error {
	return &usageError{msg: msg}
}

// IsUsageError reports whether err (or anything it wraps) is a usageError.
func IsUsageError(err error) bool {
	var ue *usageError
	return asUsageError(err, &ue)
}

func asUsageError(err error, target **usageError) bool {
	for err != nil {
		if ue, ok := err.(*usageError); ok {
			*target = ue
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// exactArgs returns a cobra.PositionalArgs that rejects any argument count
// other than n with a usageError carrying the given usage line, matching
// original_source/main.rs's CliCommand::parse argument-count checks.
func exactArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return newUsageError(usage)
		}
		return nil
	}
}
