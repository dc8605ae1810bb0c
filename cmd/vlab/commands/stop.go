package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newStopCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Bring the environment down",
		Long: `Deactivate the environment in safe order.

This command:
  - Deactivates all storage domains, master domains last
  - Moves every host into maintenance, requeueing hosts that reject
    the request while they still hold running workloads`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cc.cleanup()

			if err := cc.env.Deactivate(cmd.Context()); err != nil {
				return err
			}
			log.Info().Msg("Environment is down")
			return nil
		},
	}

	return cmd
}
