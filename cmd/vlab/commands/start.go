package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Bring the environment up",
		Long: `Bring the environment to a fully operational state.

This command:
  - Waits for every machine to accept SSH connections
  - Activates all hosts, ignoring rejections for hosts already coming up
  - Activates all storage domains, master domains first`,
		Example: `  # Start using the default spec file
  vlab start

  # Start with a specific spec file
  vlab start --config prefix.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cc.cleanup()

			if err := cc.env.Activate(cmd.Context()); err != nil {
				return err
			}
			log.Info().Msg("Environment is up")
			return nil
		},
	}

	return cmd
}
