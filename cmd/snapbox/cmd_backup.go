package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/snapbox/snapbox/internal/archiver"
	"github.com/snapbox/snapbox/internal/chunker"
)

func newBackupCommand() *cobra.Command {
	var tags []string
	var label string

	cmd := &cobra.Command{
		Use:   "backup [path]",
		Short: "Create a snapshot of path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repoDir, err := cmd.Flags().GetString("repo")
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			repo, err := openRepository(ctx, repoDir)
			if err != nil {
				return err
			}

			cfg, err := repo.LoadConfig(ctx)
			if err != nil {
				return err
			}
			pol, err := chunker.ParsePolynomial(cfg.ChunkerPolynomial)
			if err != nil {
				return err
			}

			src, err := archiver.NewLocalSource(args[0])
			if err != nil {
				return err
			}

			hostname, _ := os.Hostname()
			username, uid, gid, err := archiver.CurrentUser()
			if err != nil {
				return err
			}

			arch := archiver.New(repo, pol)
			snap, err := arch.Snapshot(ctx, src, archiver.Options{
				Hostname: hostname,
				Username: username,
				UID:      uid,
				GID:      gid,
				Tags:     tags,
				Label:    label,
				Paths:    args,
				Time:     time.Now(),
			})
			if err != nil {
				return err
			}

			cmd.Println(snap.ID().String())
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag this snapshot (may be repeated)")
	cmd.Flags().StringVar(&label, "label", "", "human-readable label for this snapshot")
	return cmd
}
