package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openvlab/openvlab/pkg/envcfg"
	"github.com/openvlab/openvlab/pkg/prepare"
	"github.com/openvlab/openvlab/pkg/runner"
	"github.com/openvlab/openvlab/pkg/stores"
)

func newPrepareCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Build the artifact repository",
		Long: `Run all package builds and upstream repository syncs in parallel
and merge their outputs into the unified artifact repository the
environment installs from.

Every build and sync runs to completion even when siblings fail; the
failures are reported together afterwards.`,
		Example: `  # One-shot preparation
  vlab prepare

  # Keep re-merging as local builds drop new packages
  vlab prepare --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := envcfg.Load(configPath)
			if err != nil {
				return err
			}

			var store stores.Store
			if cfg.Store != "" {
				sq, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store})
				if err != nil {
					return err
				}
				if err := sq.Init(cmd.Context()); err != nil {
					return err
				}
				if err := sq.Migrate(cmd.Context()); err != nil {
					_ = sq.Close()
					return err
				}
				defer sq.Close()
				store = sq
			}

			p := prepare.NewPipeline(cfg.Prepare, runner.New(log.Logger, nil), store, log.Logger)
			if err := p.Run(cmd.Context()); err != nil {
				return err
			}
			log.Info().Str("dir", cfg.Prepare.RepoDir).Msg("Artifact repository ready")

			if watch {
				if err := p.Watch(cmd.Context()); err != nil {
					return err
				}
				<-cmd.Context().Done()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "re-merge when build outputs change")

	return cmd
}
