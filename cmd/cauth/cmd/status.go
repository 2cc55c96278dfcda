package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/agent-island/cauth/internal/cauth/store"
)

var statusDumpYAML bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Dump the keychain and active-file credential sources with their raw usage-endpoint probe",
	Args:  exactArgs(0, "usage: cauth status"),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusDumpYAML, "dump-yaml", false, "dump the account snapshot as YAML instead of the raw diagnostic report")
	_ = statusCmd.Flags().MarkHidden("dump-yaml")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	if statusDumpYAML {
		snap, err := store.Load(a.paths.SnapshotPath)
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		data, err := yaml.Marshal(snap)
		if err != nil {
			return fmt.Errorf("marshal snapshot as yaml: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	}

	for _, line := range a.renderer.RawReport(cmd.Context()) {
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}
