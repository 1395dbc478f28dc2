// Command snapbox is a thin CLI over the backup core in
// github.com/snapbox/snapbox/internal: enough to initialize a repository
// and run a backup. A full command surface (restore, snapshots, forget,
// check, mount, ...) is explicitly out of scope; this wraps only the two
// operations SPEC_FULL.md's core actually implements end to end.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "snapbox:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "snapbox",
		Short:         "A deduplicating, encrypted, content-addressed backup tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("repo", "", "repository directory (required)")
	_ = cmd.MarkPersistentFlagRequired("repo")

	cmd.AddCommand(newInitCommand())
	cmd.AddCommand(newBackupCommand())
	return cmd
}
