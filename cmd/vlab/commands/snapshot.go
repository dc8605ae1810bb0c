package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newSnapshotCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage environment snapshots",
		Long: `Take, revert, and list consistent snapshots of the environment.

Taking a snapshot quiesces the whole environment first: storage domains
are deactivated (masters last), hosts enter maintenance, and managed
services stop. If anything fails along the way the completed steps are
rolled back so the environment keeps running.`,
	}

	cmd.AddCommand(newSnapshotCreateCommand())
	cmd.AddCommand(newSnapshotRevertCommand())
	cmd.AddCommand(newSnapshotListCommand())

	return cmd
}

func newSnapshotCreateCommand() *cobra.Command {
	var restore bool

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Take a snapshot",
		Args:  cobra.ExactArgs(1),
		Example: `  # Take a snapshot and leave the environment quiesced
  vlab snapshot create baseline

  # Take a snapshot and bring the environment back up
  vlab snapshot create baseline --restore`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cc.cleanup()

			if err := cc.env.CreateSnapshot(cmd.Context(), args[0], restore); err != nil {
				return err
			}
			log.Info().Str("snapshot", args[0]).Msg("Snapshot taken")
			return nil
		},
	}

	cmd.Flags().BoolVar(&restore, "restore", false, "bring the environment back up after capture")

	return cmd
}

func newSnapshotRevertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revert <name>",
		Short: "Revert to a snapshot and bring the environment up",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cc.cleanup()

			if err := cc.env.RevertSnapshot(cmd.Context(), args[0]); err != nil {
				return err
			}
			log.Info().Str("snapshot", args[0]).Msg("Snapshot reverted")
			return nil
		},
	}

	return cmd
}

func newSnapshotListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cc.cleanup()

			if cc.store == nil {
				return fmt.Errorf("no store configured")
			}
			snaps, err := cc.store.ListSnapshots(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(snaps)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTAKEN\tRESTORED")
			for _, s := range snaps {
				fmt.Fprintf(w, "%s\t%s\t%t\n", s.Name, s.TakenAt.Format("2006-01-02 15:04:05"), s.Restored)
			}
			return w.Flush()
		},
	}

	return cmd
}
