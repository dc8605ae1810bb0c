// Package commands implements the vlab CLI: lifecycle, snapshot, and
// artifact operations against a virtualized test environment.
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openvlab/openvlab/pkg/envcfg"
	"github.com/openvlab/openvlab/pkg/lifecycle"
	"github.com/openvlab/openvlab/pkg/mgmt"
	"github.com/openvlab/openvlab/pkg/runner"
	"github.com/openvlab/openvlab/pkg/snapshots"
	"github.com/openvlab/openvlab/pkg/stores"
	"github.com/openvlab/openvlab/pkg/telemetry"
	"github.com/openvlab/openvlab/pkg/transports/ssh"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vlab",
		Short: "OpenVLab - Virtualized Test Environment Orchestrator",
		Long: `OpenVLab drives the lifecycle of a multi-host virtualized test
environment (a "prefix"): an engine VM, its compute hosts, and shared
storage.

Features:
  - Parallel activation and deactivation of hosts and storage domains
  - Consistent disk snapshots with automatic rollback on failure
  - Artifact repository preparation (package builds + upstream syncs)
  - Deployment scripts and log collection over SSH
  - SQLite run ledger`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "vlab.yaml", "environment spec file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newStartCommand())
	rootCmd.AddCommand(newStopCommand())
	rootCmd.AddCommand(newSnapshotCommand())
	rootCmd.AddCommand(newPrepareCommand())
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newCollectCommand())
	rootCmd.AddCommand(newStatusCommand())

	return rootCmd
}

// cmdContext bundles everything a command needs: the loaded spec, the
// assembled environment, and a cleanup closing connections and the store.
type cmdContext struct {
	cfg     *envcfg.File
	env     *lifecycle.Environment
	api     mgmt.Client
	store   stores.Store
	cleanup func()
}

// setup loads the spec file and assembles the environment from it.
func setup(ctx context.Context) (*cmdContext, error) {
	cfg, err := envcfg.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := log.Logger

	api, err := mgmt.NewRESTClient(mgmt.RESTConfig{
		BaseURL:  cfg.API.URL,
		Username: cfg.API.Username,
		Password: cfg.API.Password,
		Timeout:  cfg.API.Timeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	var closers []func()

	engine, err := buildMachine(cfg.Engine, logger, &closers)
	if err != nil {
		return nil, err
	}
	hosts := make([]*lifecycle.Machine, 0, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		m, err := buildMachine(h, logger, &closers)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, m)
	}

	var store stores.Store
	if cfg.Store != "" {
		sq, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store})
		if err != nil {
			return nil, err
		}
		if err := sq.Init(ctx); err != nil {
			return nil, err
		}
		if err := sq.Migrate(ctx); err != nil {
			_ = sq.Close()
			return nil, err
		}
		closers = append(closers, func() { _ = sq.Close() })
		store = sq
	}

	var snapper lifecycle.Snapshotter
	if cfg.Snapshots.Script != "" {
		snapper, err = snapshots.NewScriptDriver(cfg.Snapshots.Script, logger)
		if err != nil {
			return nil, err
		}
	}

	tcfg := telemetry.DefaultConfig()
	tcfg.Metrics.Enabled = cfg.Telemetry.MetricsListen != ""
	tcfg.Metrics.ListenAddress = cfg.Telemetry.MetricsListen
	if cfg.Telemetry.Tracing.Enabled {
		tcfg.Tracing = telemetry.TracingConfig{
			Enabled:       true,
			Exporter:      cfg.Telemetry.Tracing.Exporter,
			Endpoint:      cfg.Telemetry.Tracing.Endpoint,
			Insecure:      cfg.Telemetry.Tracing.Insecure,
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
		}
	}
	if err := tcfg.Validate(); err != nil {
		return nil, err
	}

	metrics, err := telemetry.NewMetrics(tcfg.Metrics)
	if err != nil {
		return nil, err
	}
	if tcfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(); err != nil {
				logger.Warn().Err(err).Msg("metrics endpoint failed")
			}
		}()
	}

	tracer, err := telemetry.NewTracer(tcfg.Tracing, tcfg.ServiceName, tcfg.ServiceVersion, tcfg.Environment)
	if err != nil {
		return nil, err
	}
	closers = append(closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracer.Shutdown(shutdownCtx)
	})

	controller := lifecycle.NewController(api, logger, metrics, lifecycle.ControllerConfig{
		ShortWait:    cfg.Timeouts.ShortWait,
		LongWait:     cfg.Timeouts.LongWait,
		PollInterval: cfg.Timeouts.PollInterval,
	})

	env, err := lifecycle.NewEnvironment(engine, hosts, lifecycle.EnvironmentDeps{
		API:        api,
		Controller: controller,
		Runner:     runner.New(logger, metrics),
		Snapshots:  snapper,
		Store:      store,
		Tracer:     tracer,
		Metrics:    metrics,
		Log:        logger,
	})
	if err != nil {
		return nil, err
	}

	return &cmdContext{
		cfg:   cfg,
		env:   env,
		api:   api,
		store: store,
		cleanup: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		},
	}, nil
}

func buildMachine(m envcfg.Machine, logger zerolog.Logger, closers *[]func()) (*lifecycle.Machine, error) {
	client, err := ssh.NewClient(ssh.Config{
		Host:           m.Address,
		Port:           m.Port,
		User:           m.User,
		PrivateKeyPath: m.KeyPath,
		Password:       m.Password,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("machine %s: %w", m.Name, err)
	}
	*closers = append(*closers, func() { _ = client.Close() })

	return &lifecycle.Machine{
		Name:          m.Name,
		Remote:        client,
		Services:      m.Services,
		DeployScripts: m.DeployScripts,
		ArtifactPaths: m.ArtifactPaths,
	}, nil
}
