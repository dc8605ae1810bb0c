package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newDeployCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Run deployment scripts on every machine",
		Long: `Run each machine's deployment scripts over SSH, all machines in
parallel. A failing machine does not stop the others; failures are
reported together afterwards.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cc.cleanup()

			if err := cc.env.Deploy(cmd.Context()); err != nil {
				return err
			}
			log.Info().Msg("Deployment complete")
			return nil
		},
	}

	return cmd
}
