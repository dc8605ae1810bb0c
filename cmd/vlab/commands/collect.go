package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newCollectCommand() *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect logs and artifacts from every machine",
		Long: `Download each machine's artifact paths into a local directory,
one subdirectory per machine. Machines are collected in parallel and a
failing machine does not stop the others.`,
		Example: `  # Collect into ./artifacts
  vlab collect

  # Collect into a CI results directory
  vlab collect --output-dir /tmp/test-results`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cc.cleanup()

			if err := cc.env.CollectArtifacts(cmd.Context(), outputDir); err != nil {
				return err
			}
			log.Info().Str("dir", outputDir).Msg("Artifacts collected")
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "artifacts", "directory to collect into")

	return cmd
}
