package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List profiles and the accounts they link to",
	Args:    exactArgs(0, "usage: cauth list"),
	RunE:    runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	lines, err := a.renderer.ProfileInventoryLines(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	bold := term.IsTerminal(int(os.Stdout.Fd()))
	for _, line := range lines {
		if bold && strings.Contains(line, "[current]") {
			fmt.Fprintln(out, "\x1b[1m"+line+"\x1b[0m")
			continue
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
