package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/agent-island/cauth/internal/cauth/applog"
	"github.com/agent-island/cauth/internal/cauth/watch"
)

var refreshWatch bool

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh every stored Claude account's access token",
	Args:  exactArgs(0, "usage: cauth refresh"),
	RunE:  runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
	refreshCmd.Flags().BoolVar(&refreshWatch, "watch", false, "keep running, re-refreshing whenever the snapshot or a stored credential changes")
}

func runRefresh(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if !refreshWatch {
		return a.orchestrator.RunAll(ctx)
	}

	logger := applog.NewStderr(slog.LevelInfo)
	if err := a.orchestrator.RunAll(ctx); err != nil {
		logger.Error("initial refresh failed", "error", err)
	}

	w, err := watch.New(a.paths.SnapshotPath, a.cfg.WatchDebounce.Duration())
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Close()

	logger.Info("watching for credential and snapshot changes", "snapshot", a.paths.SnapshotPath)
	err = w.Run(ctx, func() {
		if err := a.orchestrator.RunAll(ctx); err != nil {
			logger.Error("refresh failed", "error", err)
		}
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}
